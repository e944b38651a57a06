package app

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"

	"github.com/ayusman/sortcam/internal/capture"
	"github.com/ayusman/sortcam/internal/classifier"
	"github.com/ayusman/sortcam/internal/debounce"
	"github.com/ayusman/sortcam/internal/notify"
	"github.com/ayusman/sortcam/internal/sorting"
	"github.com/ayusman/sortcam/internal/store"
)

type fixture struct {
	app        *App
	camera     *capture.MockCamera
	classifier *classifier.MockClassifier
	clock      *clock.Mock
	entered    *labels
	shown      *presentations
}

type labels struct {
	mu  sync.Mutex
	got []string
}

func (l *labels) OnClassEntered(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, label)
}

func (l *labels) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

type presentations struct {
	mu  sync.Mutex
	got []sorting.Presentation
}

func (p *presentations) Present(pr sorting.Presentation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, pr)
}

func (p *presentations) list() []sorting.Presentation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sorting.Presentation(nil), p.got...)
}

type publisher struct {
	mu        sync.Mutex
	readings  [][]debounce.Reading
	threshold float64
}

func (p *publisher) PublishReadings(r []debounce.Reading, threshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, r)
	p.threshold = threshold
}

func testFrame(t *testing.T, v float64) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), 480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return &m
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	f := &fixture{
		camera:     capture.NewMockCamera([]*gocv.Mat{testFrame(t, 100)}, true),
		classifier: classifier.NewMockClassifier("face", "glass", "hand"),
		clock:      mock,
		entered:    &labels{},
		shown:      &presentations{},
	}

	cfg.Camera = f.camera
	cfg.Classifier = f.classifier
	cfg.Clock = mock
	if cfg.PluginDir == "" {
		cfg.PluginDir = t.TempDir()
	}

	f.app = New(cfg)
	f.app.AddNotifier(f.entered)
	f.app.AddSink(f.shown)
	t.Cleanup(func() { f.app.Close() })

	if err := f.camera.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return f
}

func (f *fixture) step(t *testing.T) (string, bool) {
	t.Helper()
	label, ok, err := f.app.Step()
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	return label, ok
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t, Config{})

	if f.app.config.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", f.app.config.PollInterval, DefaultPollInterval)
	}
	if f.app.config.FrameSize != capture.DefaultFrameSize {
		t.Errorf("FrameSize = %d, want %d", f.app.config.FrameSize, capture.DefaultFrameSize)
	}
	if cfg, _ := f.app.CurrentSettings(); cfg != debounce.DefaultConfig() {
		t.Errorf("debounce config = %+v, want defaults", cfg)
	}
	if f.camera.FPS() != 10 {
		t.Errorf("camera FPS = %d, want 10", f.camera.FPS())
	}
	if !f.app.IsEnabled() || f.app.IsRunning() {
		t.Errorf("new app should be enabled and idle")
	}
	if got := f.app.pluginExec.Timeout(); got != SoundTimeout {
		t.Errorf("sound plugin timeout = %v, want %v", got, SoundTimeout)
	}
}

func TestStep_LatchScenario(t *testing.T) {
	f := newFixture(t, Config{})
	f.classifier.Enqueue(0.9, 0.05, 0.05)
	f.classifier.Enqueue(0.95, 0.03, 0.02)
	f.classifier.Enqueue(0.1, 0.85, 0.05)

	want := []struct {
		label string
		ok    bool
	}{
		{"face", true},
		{"", false},
		{"glass", true},
	}
	for i, w := range want {
		f.clock.Add(100 * time.Millisecond)
		label, ok := f.step(t)
		if label != w.label || ok != w.ok {
			t.Errorf("poll %d: Step() = (%q, %v), want (%q, %v)", i, label, ok, w.label, w.ok)
		}
	}

	if got := f.entered.list(); len(got) != 2 || got[0] != "face" || got[1] != "glass" {
		t.Errorf("notified labels = %v, want [face glass]", got)
	}

	shown := f.shown.list()
	if len(shown) != 2 || shown[0].Category != sorting.Recycling || shown[1].Category != sorting.Compost {
		t.Errorf("presentations = %+v", shown)
	}
}

func TestStep_CooldownUsesClock(t *testing.T) {
	f := newFixture(t, Config{
		Debounce: debounce.Config{Threshold: 0.8, Cooldown: 5 * time.Second, Policy: debounce.Cooldown},
	})
	f.classifier.SetProbabilities(0, 0, 0.9)

	if _, ok := f.step(t); !ok {
		t.Fatal("first poll should emit")
	}

	f.clock.Add(2 * time.Second)
	if _, ok := f.step(t); ok {
		t.Error("poll within cooldown should not emit")
	}

	f.clock.Add(3 * time.Second)
	if label, ok := f.step(t); !ok || label != "hand" {
		t.Errorf("Step() after cooldown = (%q, %v), want (hand, true)", label, ok)
	}
}

func TestStep_Disabled(t *testing.T) {
	f := newFixture(t, Config{})
	f.classifier.SetProbabilities(0.99, 0, 0)
	f.app.SetEnabled(false)

	if _, ok := f.step(t); ok {
		t.Error("disabled app should not emit")
	}
	if f.classifier.Calls() != 0 {
		t.Errorf("classifier called %d times while disabled", f.classifier.Calls())
	}
}

func TestStep_Errors(t *testing.T) {
	t.Run("camera closed", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.camera.Close()

		if _, _, err := f.app.Step(); !errors.Is(err, capture.ErrCameraNotOpen) {
			t.Errorf("Step() error = %v, want ErrCameraNotOpen", err)
		}
	})

	t.Run("classifier failure", func(t *testing.T) {
		f := newFixture(t, Config{})
		want := errors.New("inference failed")
		f.classifier.SetError(want)

		if _, _, err := f.app.Step(); !errors.Is(err, want) {
			t.Errorf("Step() error = %v, want %v", err, want)
		}
		if len(f.entered.list()) != 0 {
			t.Error("failed poll should not notify")
		}
	})
}

func TestStep_PublishesReadings(t *testing.T) {
	f := newFixture(t, Config{})
	pub := &publisher{}
	f.app.SetReadingsPublisher(pub)
	f.classifier.SetProbabilities(0.2, 0.3, 0.5)

	f.step(t)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.readings) != 1 || len(pub.readings[0]) != 3 || pub.readings[0][2].Probability != 0.5 {
		t.Errorf("published = %v", pub.readings)
	}
	if pub.threshold != debounce.DefaultThreshold {
		t.Errorf("threshold = %v, want %v", pub.threshold, debounce.DefaultThreshold)
	}
}

func TestStep_MotionGate(t *testing.T) {
	f := newFixture(t, Config{MotionThresh: 1.0})
	f.classifier.SetProbabilities(0.99, 0, 0)

	// The same still frame over and over: nothing moves, nothing is classified.
	for i := 0; i < 3; i++ {
		if _, ok := f.step(t); ok {
			t.Fatalf("poll %d: still scene should not emit", i)
		}
	}
	if f.classifier.Calls() != 0 {
		t.Errorf("classifier called %d times on a still scene", f.classifier.Calls())
	}

	// A different frame counts as motion.
	f.camera.SetFrames([]*gocv.Mat{testFrame(t, 250)})
	if label, ok := f.step(t); !ok || label != "face" {
		t.Errorf("Step() after motion = (%q, %v), want (face, true)", label, ok)
	}
}

func TestReadFrame(t *testing.T) {
	f := newFixture(t, Config{FrameSize: 120})

	if _, err := f.app.ReadFrame(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("ReadFrame() before first poll error = %v, want ErrNoFrame", err)
	}

	f.step(t)

	frame, err := f.app.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	defer frame.Close()
	if frame.Rows() != 120 || frame.Cols() != 120 {
		t.Errorf("frame size = %dx%d, want 120x120", frame.Cols(), frame.Rows())
	}
}

func TestApplySettings(t *testing.T) {
	f := newFixture(t, Config{})
	f.classifier.SetProbabilities(0.9, 0, 0)

	f.step(t)
	if _, ok := f.step(t); ok {
		t.Fatal("latched label should not re-emit")
	}

	if err := f.app.ApplySettings(debounce.Config{Threshold: 2, Policy: debounce.LatchUntilChange}, false); err == nil {
		t.Error("expected validation error")
	}

	cfg := debounce.Config{Threshold: 0.5, Cooldown: time.Second, Policy: debounce.Cooldown}
	if err := f.app.ApplySettings(cfg, true); err != nil {
		t.Fatalf("ApplySettings() error = %v", err)
	}
	got, ignore := f.app.CurrentSettings()
	if got != cfg || !ignore {
		t.Errorf("CurrentSettings() = (%+v, %v)", got, ignore)
	}

	// New settings start from idle.
	if _, ok := f.step(t); !ok {
		t.Error("ApplySettings should reset the latch")
	}
}

func TestStartStop_ResetsDebouncer(t *testing.T) {
	f := newFixture(t, Config{})
	f.camera.Close()
	opens := f.camera.Opens()
	f.classifier.SetProbabilities(0, 0.95, 0)

	if err := f.app.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.app.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if f.camera.Opens() != opens+1 {
		t.Errorf("camera opened %d times, want once", f.camera.Opens()-opens)
	}

	waitFor(t, f, func() bool { return len(f.entered.list()) == 1 })

	f.app.Stop()
	if f.app.IsRunning() || f.camera.IsOpen() {
		t.Error("Stop should end the session and close the camera")
	}

	if err := f.app.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	waitFor(t, f, func() bool { return len(f.entered.list()) == 2 })
	f.app.Stop()

	if got := f.entered.list(); got[0] != "glass" || got[1] != "glass" {
		t.Errorf("entered = %v, want glass twice", got)
	}
}

// waitFor advances the mock clock until cond holds.
func waitFor(t *testing.T, f *fixture, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		f.clock.Add(DefaultPollInterval)
		time.Sleep(time.Millisecond)
	}
}

func TestStore_RecordsAndLoads(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	if err := s.Mappings().Upsert(&store.Mapping{Label: "face", Category: sorting.Trash}); err != nil {
		t.Fatal(err)
	}
	stored := debounce.Config{Threshold: 0.6, Cooldown: 2 * time.Second, Policy: debounce.Cooldown}
	if err := s.Settings().SaveDebounce(stored, true); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, Config{Store: s})
	if err := f.app.LoadMappings(); err != nil {
		t.Fatalf("LoadMappings() error = %v", err)
	}
	if err := f.app.LoadSettings(); err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	if cfg, ignore := f.app.CurrentSettings(); cfg != stored || !ignore {
		t.Errorf("CurrentSettings() = (%+v, %v)", cfg, ignore)
	}

	f.classifier.SetProbabilities(0.7, 0, 0)
	if label, ok := f.step(t); !ok || label != "face" {
		t.Fatalf("Step() = (%q, %v), want (face, true)", label, ok)
	}

	rows, err := s.Detections().List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("recorded %d detections, want 1", len(rows))
	}
	if rows[0].Category != sorting.Trash || rows[0].Probability != 0.7 || !rows[0].CreatedAt.Equal(f.clock.Now()) {
		t.Errorf("detection = %+v", rows[0])
	}
}

func TestLoadSettings_PinnedKeysWin(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	stored := debounce.Config{Threshold: 0.6, Cooldown: 2 * time.Second, Policy: debounce.Cooldown}
	if err := s.Settings().SaveDebounce(stored, true); err != nil {
		t.Fatal(err)
	}

	configured := debounce.Config{Threshold: 0.9, Cooldown: 7 * time.Second, Policy: debounce.LatchUntilChange}
	f := newFixture(t, Config{
		Store:          s,
		Debounce:       configured,
		IgnoreUnknown:  false,
		PinnedSettings: []string{store.KeyThreshold, store.KeyIgnoreUnknown},
	})
	if err := f.app.LoadSettings(); err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}

	cfg, ignore := f.app.CurrentSettings()
	want := debounce.Config{Threshold: 0.9, Cooldown: 2 * time.Second, Policy: debounce.Cooldown}
	if cfg != want {
		t.Errorf("settings = %+v, want %+v", cfg, want)
	}
	if ignore {
		t.Error("pinned ignore-unknown should keep the configured false")
	}
}

func TestLoadMappings_SeedsDefaultsOnce(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	first := newFixture(t, Config{Store: s})
	if err := first.app.LoadMappings(); err != nil {
		t.Fatalf("LoadMappings() error = %v", err)
	}
	if _, err := s.Mappings().Get("glass"); err != nil {
		t.Fatalf("default mapping not stored: %v", err)
	}
	if err := s.Mappings().Delete("glass"); err != nil {
		t.Fatal(err)
	}

	second := newFixture(t, Config{Store: s, IgnoreUnknown: true})
	if err := second.app.LoadMappings(); err != nil {
		t.Fatalf("LoadMappings() error = %v", err)
	}
	if _, ok := second.app.Catalog().CategoryFor("glass"); ok {
		t.Error("deleted default mapping came back after restart")
	}
	if got, _ := second.app.Catalog().CategoryFor("face"); got != sorting.Recycling {
		t.Errorf("face = %q, want recycling", got)
	}
}

func TestAddNotifier_Func(t *testing.T) {
	f := newFixture(t, Config{})
	var got string
	f.app.AddNotifier(notify.Func(func(label string) { got = label }))
	f.classifier.SetProbabilities(0, 0, 0.99)

	f.step(t)
	if got != "hand" {
		t.Errorf("notifier got %q, want hand", got)
	}
}
