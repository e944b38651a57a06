package classifier

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/sortcam/internal/debounce"
)

// MockClassifier is a test implementation of the Classifier interface.
// Queued readings are returned one per call; once the queue is empty the
// fixed readings are returned.
type MockClassifier struct {
	labels   []string
	queue    [][]debounce.Reading
	readings []debounce.Reading
	err      error
	calls    int
	mu       sync.Mutex
}

// NewMockClassifier creates a new MockClassifier for the given labels.
func NewMockClassifier(labels ...string) *MockClassifier {
	return &MockClassifier{labels: labels}
}

// SetReadings sets the readings returned once the queue is drained.
func (m *MockClassifier) SetReadings(readings []debounce.Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = readings
}

// SetProbabilities sets fixed readings from probabilities in label order.
func (m *MockClassifier) SetProbabilities(probs ...float64) {
	m.SetReadings(m.readingsFor(probs))
}

// Enqueue appends one poll worth of probabilities, in label order.
func (m *MockClassifier) Enqueue(probs ...float64) {
	readings := m.readingsFor(probs)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, readings)
}

// SetError sets the error that will be returned by Classify.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Classify was invoked.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Classify returns the next queued readings, the fixed readings or the error.
func (m *MockClassifier) Classify(frame *gocv.Mat) ([]debounce.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	return m.readings, nil
}

// Labels returns the configured labels.
func (m *MockClassifier) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Close is a no-op for the mock classifier.
func (m *MockClassifier) Close() error {
	return nil
}

func (m *MockClassifier) readingsFor(probs []float64) []debounce.Reading {
	readings := make([]debounce.Reading, len(m.labels))
	for i, l := range m.labels {
		var p float64
		if i < len(probs) {
			p = probs[i]
		}
		readings[i] = debounce.Reading{Label: l, Probability: p}
	}
	return readings
}
