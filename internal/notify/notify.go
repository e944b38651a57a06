// Package notify delivers class-entered events from the debouncer to the
// parts of the game that react to them.
package notify

import (
	"log"
	"sync"

	"github.com/ayusman/sortcam/internal/sorting"
)

// Notifier receives a label each time the debouncer emits one. Calls are
// made synchronously from the polling task.
type Notifier interface {
	OnClassEntered(label string)
}

// Func adapts a plain function to Notifier.
type Func func(label string)

// OnClassEntered calls f(label).
func (f Func) OnClassEntered(label string) {
	f(label)
}

// Multi fans an event out to each notifier in order.
type Multi []Notifier

// OnClassEntered notifies every member.
func (m Multi) OnClassEntered(label string) {
	for _, n := range m {
		if n != nil {
			n.OnClassEntered(label)
		}
	}
}

// Sink shows or plays a resolved presentation.
type Sink interface {
	Present(p sorting.Presentation)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(p sorting.Presentation)

// Present calls f(p).
func (f SinkFunc) Present(p sorting.Presentation) {
	f(p)
}

// Presenter resolves labels through a catalog and hands the result to its
// sinks. Labels the catalog cannot resolve are dropped.
type Presenter struct {
	catalog *sorting.Catalog
	sinks   []Sink
	mu      sync.RWMutex
}

// NewPresenter creates a Presenter over catalog.
func NewPresenter(catalog *sorting.Catalog, sinks ...Sink) *Presenter {
	return &Presenter{catalog: catalog, sinks: sinks}
}

// AddSink appends s. It may be called while events are being delivered.
func (p *Presenter) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// OnClassEntered implements Notifier.
func (p *Presenter) OnClassEntered(label string) {
	pres, ok := p.catalog.Resolve(label)
	if !ok {
		log.Printf("no category for %q, ignoring", label)
		return
	}

	p.mu.RLock()
	sinks := p.sinks
	p.mu.RUnlock()

	for _, s := range sinks {
		s.Present(pres)
	}
}
