package notify

import (
	"log"

	"github.com/benbjohnson/clock"

	"github.com/ayusman/sortcam/internal/sorting"
	"github.com/ayusman/sortcam/internal/store"
)

// RecordSink writes each presentation to the detections table.
type RecordSink struct {
	repo        *store.DetectionRepository
	clock       clock.Clock
	probability func(label string) float64
}

// NewRecordSink creates a RecordSink. probability, if set, reports the
// probability the label had in the poll that emitted it.
func NewRecordSink(repo *store.DetectionRepository, clk clock.Clock, probability func(label string) float64) *RecordSink {
	if clk == nil {
		clk = clock.New()
	}
	return &RecordSink{repo: repo, clock: clk, probability: probability}
}

// Present stores p. Errors are logged.
func (r *RecordSink) Present(p sorting.Presentation) {
	d := &store.Detection{
		Label:     p.Label,
		Category:  p.Category,
		CreatedAt: r.clock.Now(),
	}
	if r.probability != nil {
		d.Probability = r.probability(p.Label)
	}

	if err := r.repo.Create(d); err != nil {
		log.Printf("failed to record detection %s: %v", p.Label, err)
	}
}
