// Package debounce turns a stream of per-frame class probabilities into
// discrete "class entered" events.
package debounce

import (
	"fmt"
	"strings"
	"time"
)

// Policy selects how repeated detections of the latched class are handled.
type Policy string

const (
	// LatchUntilChange emits a class once and stays silent until a different
	// class crosses the threshold.
	LatchUntilChange Policy = "latch"
	// Cooldown additionally re-emits the latched class once the cooldown
	// has elapsed since its last emission.
	Cooldown Policy = "cooldown"
)

// Default debouncer settings.
const (
	DefaultThreshold = 0.8
	DefaultCooldown  = 5 * time.Second
)

// ParsePolicy parses a policy name. Matching is case-insensitive.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case LatchUntilChange:
		return LatchUntilChange, nil
	case Cooldown:
		return Cooldown, nil
	default:
		return "", fmt.Errorf("unknown debounce policy %q", s)
	}
}

// Reading is the probability of one class label for a single poll.
type Reading struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Config holds debouncer settings.
type Config struct {
	// Threshold is the probability a reading must exceed to count as a detection.
	Threshold float64
	// Cooldown is the minimum time before the latched class may fire again.
	// Only used by the Cooldown policy; zero reduces it to LatchUntilChange.
	Cooldown time.Duration
	Policy   Policy
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Cooldown:  DefaultCooldown,
		Policy:    LatchUntilChange,
	}
}

// Validate reports whether the config is usable.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold %v out of range [0,1]", c.Threshold)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown %v must not be negative", c.Cooldown)
	}
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	return nil
}

// Debouncer holds the latched class for one capture session.
//
// A Debouncer is not safe for concurrent use. It is meant to be owned by
// the single polling task that feeds it.
type Debouncer struct {
	config    Config
	lastLabel string
	lastAt    time.Time
	holding   bool
}

// New creates a Debouncer in the idle state.
func New(config Config) *Debouncer {
	return &Debouncer{config: config}
}

// Config returns the current settings.
func (d *Debouncer) Config() Config {
	return d.config
}

// SetConfig replaces the settings and returns to the idle state.
func (d *Debouncer) SetConfig(config Config) {
	d.config = config
	d.Reset()
}

// Evaluate scans readings in order and returns the label that was entered
// on this poll, if any. At most one label is emitted per call: the first
// reading above the threshold that passes the policy wins.
func (d *Debouncer) Evaluate(readings []Reading, now time.Time) (string, bool) {
	for _, r := range readings {
		if r.Probability <= d.config.Threshold {
			continue
		}
		if !d.admits(r.Label, now) {
			continue
		}
		d.lastLabel = r.Label
		d.lastAt = now
		d.holding = true
		return r.Label, true
	}
	return "", false
}

// admits reports whether label may be emitted at now.
func (d *Debouncer) admits(label string, now time.Time) bool {
	if !d.holding || label != d.lastLabel {
		return true
	}
	if d.config.Policy != Cooldown || d.config.Cooldown <= 0 {
		return false
	}
	return now.Sub(d.lastAt) >= d.config.Cooldown
}

// Reset clears the latched class so the next confident reading emits
// immediately. Call it when the capture session restarts.
func (d *Debouncer) Reset() {
	d.lastLabel = ""
	d.lastAt = time.Time{}
	d.holding = false
}

// Last returns the latched label and when it was emitted.
// ok is false while idle.
func (d *Debouncer) Last() (label string, at time.Time, ok bool) {
	return d.lastLabel, d.lastAt, d.holding
}
