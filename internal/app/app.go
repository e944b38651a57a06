// Package app wires camera, classifier, debouncer and presentation into the
// sorting game's polling loop.
package app

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"

	"github.com/ayusman/sortcam/internal/capture"
	"github.com/ayusman/sortcam/internal/classifier"
	"github.com/ayusman/sortcam/internal/debounce"
	"github.com/ayusman/sortcam/internal/notify"
	"github.com/ayusman/sortcam/internal/plugin"
	"github.com/ayusman/sortcam/internal/sorting"
	"github.com/ayusman/sortcam/internal/store"
)

// Polling defaults.
const (
	// DefaultPollInterval is the pause between two inferences.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultSoundPlugin is the plugin asked to play category sounds.
	DefaultSoundPlugin = "sound-player"
	// SoundTimeout bounds one sound-player run, chime included.
	SoundTimeout = 15 * time.Second
)

// ErrNoFrame is returned by ReadFrame before the first poll of a session.
var ErrNoFrame = errors.New("no frame captured yet")

// ReadingsPublisher receives the readings of every poll, e.g. to draw the
// live prediction table.
type ReadingsPublisher interface {
	PublishReadings(readings []debounce.Reading, threshold float64)
}

// Config holds configuration options for the application.
type Config struct {
	Store        *store.Store
	PluginDir    string
	SoundPlugin  string
	SoundConfig  json.RawMessage
	CameraID     int
	PollInterval time.Duration
	FrameSize    int
	Flip         bool
	// MotionThresh gates inference on still scenes when > 0.
	MotionThresh  float64
	Debounce      debounce.Config
	IgnoreUnknown bool
	// PinnedSettings lists store setting keys whose Debounce or
	// IgnoreUnknown value was set explicitly and wins over the stored one.
	PinnedSettings []string
	Model          classifier.Config
	Categories     []sorting.Category
	Clock          clock.Clock

	// Camera and Classifier replace the devices built from CameraID and
	// Model when set.
	Camera     capture.Camera
	Classifier classifier.Classifier
}

// App is the main application that turns camera frames into sorted items.
type App struct {
	config     Config
	clock      clock.Clock
	camera     capture.Camera
	motion     *capture.MotionDetector
	classifier classifier.Classifier
	debouncer  *debounce.Debouncer
	catalog    *sorting.Catalog
	presenter  *notify.Presenter
	notifiers  notify.Multi
	publisher  ReadingsPublisher
	pluginMgr  *plugin.Manager
	pluginExec *plugin.Executor
	sound      *notify.SoundSink

	enabled  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	last     []debounce.Reading
	frame    gocv.Mat
	hasFrame bool
	mu       sync.RWMutex
	frameMu  sync.Mutex
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.FrameSize <= 0 {
		config.FrameSize = capture.DefaultFrameSize
	}
	if config.SoundPlugin == "" {
		config.SoundPlugin = DefaultSoundPlugin
	}
	if config.Debounce == (debounce.Config{}) {
		config.Debounce = debounce.DefaultConfig()
	}
	if config.Categories == nil {
		config.Categories = sorting.DefaultCategories()
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	a := &App{
		config:     config,
		clock:      config.Clock,
		camera:     config.Camera,
		classifier: config.Classifier,
		motion:     capture.NewMotionDetector(config.MotionThresh),
		debouncer:  debounce.New(config.Debounce),
		catalog: sorting.NewCatalog(config.Categories, sorting.Options{
			IgnoreUnknown: config.IgnoreUnknown,
		}),
		pluginMgr:  plugin.NewManager(config.PluginDir),
		pluginExec: plugin.NewExecutor(SoundTimeout),
		enabled:    true,
		frame:      gocv.NewMat(),
	}
	a.catalog.SetMappings(sorting.DefaultMappings())

	if a.camera == nil {
		a.camera = capture.NewCamera(capture.CameraConfig{
			DeviceID: config.CameraID,
			Width:    config.FrameSize,
			Height:   config.FrameSize,
		})
	}
	a.camera.SetFPS(int(time.Second / config.PollInterval))

	if a.classifier == nil {
		a.classifier = loadClassifier(config.Model)
	}

	a.presenter = notify.NewPresenter(a.catalog)
	if config.Store != nil {
		a.presenter.AddSink(notify.NewRecordSink(config.Store.Detections(), a.clock, a.probabilityOf))
	}
	a.sound = notify.NewSoundSink(a.pluginMgr, a.pluginExec, config.SoundPlugin, config.SoundConfig)
	a.presenter.AddSink(a.sound)
	a.notifiers = notify.Multi{a.presenter}

	return a
}

// loadClassifier tries the in-process network first, then the inference
// service, and falls back to a mock that never fires.
func loadClassifier(model classifier.Config) classifier.Classifier {
	net, err := classifier.NewNetClassifier(model)
	if err == nil {
		log.Printf("Using model %s", model.ModelPath)
		return net
	}
	log.Printf("OpenCV model not available (%v)", err)

	proc, err := classifier.NewProcessClassifier(model)
	if err == nil {
		log.Println("Using classifier service")
		return proc
	}
	log.Printf("Classifier service not available (%v), using mock classifier", err)

	labels := make([]string, 0, len(sorting.DefaultMappings()))
	for label := range sorting.DefaultMappings() {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return classifier.NewMockClassifier(labels...)
}

// SetEnabled enables or disables detection. A disabled app skips its ticks.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether detection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// AddSink adds a presentation sink, such as the WebSocket hub or the tray.
func (a *App) AddSink(s notify.Sink) {
	a.presenter.AddSink(s)
}

// AddNotifier adds a raw class-entered listener. Call before Start.
func (a *App) AddNotifier(n notify.Notifier) {
	a.notifiers = append(a.notifiers, n)
}

// SetReadingsPublisher sets the receiver of per-poll readings.
func (a *App) SetReadingsPublisher(p ReadingsPublisher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publisher = p
}

// DiscoverPlugins scans the plugin directory and loads available plugins.
func (a *App) DiscoverPlugins() error {
	return a.pluginMgr.Discover()
}

// LoadMappings makes the stored class mappings the catalog's bindings. The
// built-in mappings are written to the store on the first run, so later
// edits and deletions of them survive a restart.
func (a *App) LoadMappings() error {
	if a.config.Store == nil {
		return nil
	}

	repo := a.config.Store.Mappings()
	seeded, err := repo.Seed(sorting.DefaultMappings())
	if err != nil {
		return err
	}
	if seeded {
		log.Println("Seeded default class mappings")
	}

	mappings, err := repo.Map()
	if err != nil {
		return err
	}
	a.catalog.SetMappings(mappings)

	log.Printf("Loaded %d class mappings from database", len(mappings))
	return nil
}

// LoadSettings applies the stored debouncer settings, if any. Pinned keys
// keep the configured value.
func (a *App) LoadSettings() error {
	if a.config.Store == nil {
		return nil
	}

	cfg, ignore, err := a.config.Store.Settings().LoadDebounce(a.config.Debounce)
	if err != nil {
		return err
	}
	if _, err := a.config.Store.Settings().Get(store.KeyIgnoreUnknown); errors.Is(err, store.ErrNotFound) {
		ignore = a.config.IgnoreUnknown
	}

	for _, key := range a.config.PinnedSettings {
		switch key {
		case store.KeyThreshold:
			cfg.Threshold = a.config.Debounce.Threshold
		case store.KeyCooldownSeconds:
			cfg.Cooldown = a.config.Debounce.Cooldown
		case store.KeyPolicy:
			cfg.Policy = a.config.Debounce.Policy
		case store.KeyIgnoreUnknown:
			ignore = a.config.IgnoreUnknown
		}
	}
	return a.ApplySettings(cfg, ignore)
}

// CurrentSettings returns the debouncer configuration and unknown-class flag.
func (a *App) CurrentSettings() (debounce.Config, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.debouncer.Config(), a.catalog.IgnoreUnknown()
}

// ApplySettings swaps the debouncer configuration live. The debouncer
// returns to idle.
func (a *App) ApplySettings(cfg debounce.Config, ignoreUnknown bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	a.debouncer.SetConfig(cfg)
	a.mu.Unlock()
	a.catalog.SetIgnoreUnknown(ignoreUnknown)

	log.Printf("Debounce settings: threshold=%.2f policy=%s cooldown=%v ignoreUnknown=%v",
		cfg.Threshold, cfg.Policy, cfg.Cooldown, ignoreUnknown)
	return nil
}

// Start opens the camera, resets the debouncer and begins polling.
// Starting a running app is a no-op.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return err
	}

	a.debouncer.Reset()
	a.motion.Reset()
	a.last = nil

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.run(a.stopCh, a.doneCh)

	log.Println("Detection session started")
	return nil
}

// Stop halts polling and closes the camera. The classifier stays loaded so
// a later Start resumes quickly.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, doneCh := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}

	close(stopCh)
	<-doneCh

	if err := a.camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}

	a.frameMu.Lock()
	a.hasFrame = false
	a.frameMu.Unlock()

	log.Println("Detection session stopped")
}

// IsRunning reports whether a session is active.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stopCh != nil
}

// Close stops the session and releases every resource.
func (a *App) Close() error {
	a.Stop()
	a.sound.Wait()
	a.motion.Close()

	a.frameMu.Lock()
	a.frame.Close()
	a.frameMu.Unlock()

	return a.classifier.Close()
}

// ReadFrame returns a copy of the last prepared frame. The caller closes it.
func (a *App) ReadFrame() (*gocv.Mat, error) {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()

	if !a.hasFrame {
		return nil, ErrNoFrame
	}
	frame := a.frame.Clone()
	return &frame, nil
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Classifier returns the classifier.
func (a *App) Classifier() classifier.Classifier {
	return a.classifier
}

// Catalog returns the label to category catalog.
func (a *App) Catalog() *sorting.Catalog {
	return a.catalog
}

// PluginManager returns the plugin manager.
func (a *App) PluginManager() *plugin.Manager {
	return a.pluginMgr
}

// LastDetection returns the currently latched label and its emission time.
func (a *App) LastDetection() (string, time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.debouncer.Last()
}

// probabilityOf looks the label up in the latest readings.
func (a *App) probabilityOf(label string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.last {
		if r.Label == label {
			return r.Probability
		}
	}
	return 0
}
