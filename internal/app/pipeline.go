package app

import (
	"log"

	"github.com/ayusman/sortcam/internal/capture"
)

// run ticks at the poll interval until stopCh closes. Each tick runs one
// full Step, so a slow inference delays the next one instead of piling up.
func (a *App) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := a.clock.Ticker(a.config.PollInterval)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, _, err := a.Step(); err != nil {
				// Log each distinct error once per streak.
				if msg := err.Error(); msg != lastErr {
					log.Printf("poll failed: %v", err)
					lastErr = msg
				}
				continue
			}
			lastErr = ""
		}
	}
}

// Step runs one poll synchronously:
//
//  1. read a frame and prepare it (square crop, resize, mirror)
//  2. skip still scenes when the motion gate is on
//  3. classify and publish the readings
//  4. feed the debouncer and notify on an emitted label
//
// It returns the emitted label, if any. A disabled app does nothing.
func (a *App) Step() (string, bool, error) {
	if !a.IsEnabled() {
		return "", false, nil
	}

	raw, err := a.camera.ReadFrame()
	if err != nil {
		return "", false, err
	}
	frame := capture.Prepare(raw, a.config.FrameSize, a.config.Flip)
	raw.Close()
	defer frame.Close()

	if frame.Empty() {
		return "", false, capture.ErrEmptyFrame
	}

	a.frameMu.Lock()
	frame.CopyTo(&a.frame)
	a.hasFrame = true
	a.frameMu.Unlock()

	if a.config.MotionThresh > 0 {
		if moved, _ := a.motion.Detect(&frame); !moved {
			return "", false, nil
		}
	}

	readings, err := a.classifier.Classify(&frame)
	if err != nil {
		return "", false, err
	}
	now := a.clock.Now()

	a.mu.Lock()
	a.last = readings
	threshold := a.debouncer.Config().Threshold
	label, ok := a.debouncer.Evaluate(readings, now)
	publisher := a.publisher
	a.mu.Unlock()

	if publisher != nil {
		publisher.PublishReadings(readings, threshold)
	}

	if ok {
		log.Printf("Class entered: %s", label)
		a.notifiers.OnClassEntered(label)
	}
	return label, ok, nil
}
