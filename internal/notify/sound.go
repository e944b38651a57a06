package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/ayusman/sortcam/internal/plugin"
	"github.com/ayusman/sortcam/internal/sorting"
)

// PlayAction is the plugin action run for each presentation.
const PlayAction = "play"

// SoundSink plays a presentation's sound through a plugin. Each sound runs
// in its own goroutine so the polling task is never held up by audio.
type SoundSink struct {
	manager  *plugin.Manager
	executor *plugin.Executor
	name     string
	config   json.RawMessage
	wg       sync.WaitGroup
}

// NewSoundSink creates a sink that runs the play action of the named plugin.
// config is passed through to the plugin (sound directory, chime).
func NewSoundSink(manager *plugin.Manager, executor *plugin.Executor, name string, config json.RawMessage) *SoundSink {
	return &SoundSink{
		manager:  manager,
		executor: executor,
		name:     name,
		config:   config,
	}
}

// Present starts playback and returns immediately.
func (s *SoundSink) Present(p sorting.Presentation) {
	if p.Sound == "" {
		return
	}

	pl, err := s.manager.Get(s.name)
	if err != nil {
		log.Printf("sound plugin %s: %v", s.name, err)
		return
	}
	if !pl.Manifest.Supports(PlayAction) {
		log.Printf("sound plugin %s does not support %q", s.name, PlayAction)
		return
	}

	req := &plugin.Request{
		Action:   PlayAction,
		Label:    p.Label,
		Category: p.Category,
		Sound:    p.Sound,
		Config:   s.config,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.executor.Execute(context.Background(), pl, req)
		if err != nil {
			log.Printf("sound plugin %s: %v", s.name, err)
			return
		}
		if !resp.Success {
			log.Printf("sound plugin %s failed: %s", s.name, resp.Error)
		}
	}()
}

// Wait blocks until every started playback has finished.
func (s *SoundSink) Wait() {
	s.wg.Wait()
}
