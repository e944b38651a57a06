// Package config loads SortCam settings from a .env file, SORTCAM_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ayusman/sortcam/internal/capture"
	"github.com/ayusman/sortcam/internal/classifier"
	"github.com/ayusman/sortcam/internal/debounce"
	"github.com/ayusman/sortcam/internal/store"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SORTCAM_"

// Config holds the runtime settings of the sortcam binary.
type Config struct {
	Addr         string
	DataDir      string
	DBPath       string
	WebDir       string
	PluginDir    string
	SoundDir     string
	SoundPlugin  string
	Chime        string
	ModelPath    string
	MetadataPath string

	CameraID     int
	PollInterval time.Duration
	FrameSize    int
	Flip         bool
	MotionThresh float64

	Threshold     float64
	Cooldown      time.Duration
	Policy        string
	IgnoreUnknown bool

	NoTray bool

	// set holds the flag names given explicitly by .env, environment or
	// command line.
	set map[string]bool
}

// Default returns the built-in settings. Paths under the data directory
// are filled in by Load.
func Default() Config {
	model := classifier.DefaultConfig()
	dc := debounce.DefaultConfig()
	return Config{
		Addr:         ":8080",
		SoundPlugin:  "sound-player",
		Chime:        "ping.mp3",
		ModelPath:    model.ModelPath,
		MetadataPath: model.MetadataPath,
		PollInterval: 100 * time.Millisecond,
		FrameSize:    capture.DefaultFrameSize,
		Flip:         true,
		Threshold:    dc.Threshold,
		Cooldown:     dc.Cooldown,
		Policy:       string(dc.Policy),
	}
}

// Load builds a Config. envFile may be empty; a missing file is not an
// error. Environment variables override the file and args override both.
func Load(args []string, envFile string) (Config, error) {
	cfg := Default()

	fileEnv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("read %s: %w", envFile, err)
		}
		if m != nil {
			fileEnv = m
		}
	}

	cfg.set = make(map[string]bool)
	lookup := func(key string) (string, bool) {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			v, ok = fileEnv[EnvPrefix+key]
		}
		if ok {
			cfg.set[envFlags[key]] = true
		}
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}

	fset := flag.NewFlagSet("sortcam", flag.ContinueOnError)
	cfg.bindFlags(fset)
	if err := fset.Parse(args); err != nil {
		return cfg, err
	}
	fset.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	if err := cfg.fillPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envFlags names the flag each environment key stands in for.
var envFlags = map[string]string{
	"ADDR":           "addr",
	"DATA_DIR":       "data-dir",
	"DB_PATH":        "db",
	"WEB_DIR":        "web",
	"PLUGIN_DIR":     "plugins",
	"SOUND_DIR":      "sounds",
	"SOUND_PLUGIN":   "sound-plugin",
	"CHIME":          "chime",
	"MODEL":          "model",
	"MODEL_META":     "metadata",
	"POLICY":         "policy",
	"CAMERA":         "camera",
	"FRAME_SIZE":     "frame-size",
	"THRESHOLD":      "threshold",
	"MOTION_THRESH":  "motion",
	"POLL_INTERVAL":  "poll",
	"COOLDOWN":       "cooldown",
	"FLIP":           "flip",
	"IGNORE_UNKNOWN": "ignore-unknown",
	"NO_TRAY":        "no-tray",
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ADDR":         &c.Addr,
		"DATA_DIR":     &c.DataDir,
		"DB_PATH":      &c.DBPath,
		"WEB_DIR":      &c.WebDir,
		"PLUGIN_DIR":   &c.PluginDir,
		"SOUND_DIR":    &c.SoundDir,
		"SOUND_PLUGIN": &c.SoundPlugin,
		"CHIME":        &c.Chime,
		"MODEL":        &c.ModelPath,
		"MODEL_META":   &c.MetadataPath,
		"POLICY":       &c.Policy,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CAMERA":     &c.CameraID,
		"FRAME_SIZE": &c.FrameSize,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"THRESHOLD":     &c.Threshold,
		"MOTION_THRESH": &c.MotionThresh,
	}
	for key, dst := range floats {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = f
		}
	}

	durations := map[string]*time.Duration{
		"POLL_INTERVAL": &c.PollInterval,
		"COOLDOWN":      &c.Cooldown,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"FLIP":           &c.Flip,
		"IGNORE_UNKNOWN": &c.IgnoreUnknown,
		"NO_TRAY":        &c.NoTray,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	return nil
}

func (c *Config) bindFlags(set *flag.FlagSet) {
	set.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	set.StringVar(&c.DataDir, "data-dir", c.DataDir, "Data directory (default ~/.sortcam)")
	set.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path")
	set.StringVar(&c.WebDir, "web", c.WebDir, "Static files directory")
	set.StringVar(&c.PluginDir, "plugins", c.PluginDir, "Plugin directory")
	set.StringVar(&c.SoundDir, "sounds", c.SoundDir, "Sound files directory")
	set.StringVar(&c.SoundPlugin, "sound-plugin", c.SoundPlugin, "Plugin that plays sounds")
	set.StringVar(&c.Chime, "chime", c.Chime, "Chime played before each category sound")
	set.StringVar(&c.ModelPath, "model", c.ModelPath, "Model file")
	set.StringVar(&c.MetadataPath, "metadata", c.MetadataPath, "Model metadata.json")
	set.IntVar(&c.CameraID, "camera", c.CameraID, "Camera device ID")
	set.DurationVar(&c.PollInterval, "poll", c.PollInterval, "Pause between inferences")
	set.IntVar(&c.FrameSize, "frame-size", c.FrameSize, "Side of the square frame given to the model")
	set.BoolVar(&c.Flip, "flip", c.Flip, "Mirror frames horizontally")
	set.Float64Var(&c.MotionThresh, "motion", c.MotionThresh, "Percent of changed pixels needed to classify (0 disables)")
	set.Float64Var(&c.Threshold, "threshold", c.Threshold, "Probability a class must exceed")
	set.DurationVar(&c.Cooldown, "cooldown", c.Cooldown, "Re-emit interval under the cooldown policy")
	set.StringVar(&c.Policy, "policy", c.Policy, "Debounce policy: latch or cooldown")
	set.BoolVar(&c.IgnoreUnknown, "ignore-unknown", c.IgnoreUnknown, "Drop labels with no category mapping")
	set.BoolVar(&c.NoTray, "no-tray", c.NoTray, "Run without the system tray")
}

// fillPaths derives unset paths from the data directory.
func (c *Config) fillPaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("find home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".sortcam")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "sortcam.db")
	}
	if c.PluginDir == "" {
		c.PluginDir = filepath.Join(c.DataDir, "plugins")
	}
	if c.SoundDir == "" {
		c.SoundDir = filepath.Join(c.DataDir, "sounds")
	}
	return nil
}

// IsSet reports whether the setting behind flag name was given explicitly
// rather than left at its default.
func (c Config) IsSet(name string) bool {
	return c.set[name]
}

// PinnedSettings returns the stored setting keys that explicit
// configuration overrides at startup.
func (c Config) PinnedSettings() []string {
	var keys []string
	for _, p := range []struct{ flag, key string }{
		{"threshold", store.KeyThreshold},
		{"cooldown", store.KeyCooldownSeconds},
		{"policy", store.KeyPolicy},
		{"ignore-unknown", store.KeyIgnoreUnknown},
	} {
		if c.set[p.flag] {
			keys = append(keys, p.key)
		}
	}
	return keys
}

// Debounce returns the debouncer settings.
func (c Config) Debounce() debounce.Config {
	p, _ := debounce.ParsePolicy(c.Policy)
	return debounce.Config{
		Threshold: c.Threshold,
		Cooldown:  c.Cooldown,
		Policy:    p,
	}
}

// Model returns the classifier settings.
func (c Config) Model() classifier.Config {
	return classifier.Config{
		ModelPath:    c.ModelPath,
		MetadataPath: c.MetadataPath,
	}
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval %v must be positive", c.PollInterval)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size %d must be positive", c.FrameSize)
	}
	if c.MotionThresh < 0 {
		return fmt.Errorf("motion threshold %v must not be negative", c.MotionThresh)
	}
	if _, err := debounce.ParsePolicy(c.Policy); err != nil {
		return err
	}
	return c.Debounce().Validate()
}
