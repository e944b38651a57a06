package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/benbjohnson/clock"

	"github.com/ayusman/sortcam/internal/app"
	"github.com/ayusman/sortcam/internal/config"
	"github.com/ayusman/sortcam/internal/server"
	"github.com/ayusman/sortcam/internal/store"
	"github.com/ayusman/sortcam/internal/tray"
)

func main() {
	fmt.Println("SortCam - Webcam Sorting Game")

	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	soundConfig, err := json.Marshal(map[string]string{
		"soundDir": cfg.SoundDir,
		"chime":    cfg.Chime,
	})
	if err != nil {
		log.Fatalf("Failed to encode sound config: %v", err)
	}

	a := app.New(app.Config{
		Store:         st,
		PluginDir:     cfg.PluginDir,
		SoundPlugin:   cfg.SoundPlugin,
		SoundConfig:   soundConfig,
		CameraID:      cfg.CameraID,
		PollInterval:  cfg.PollInterval,
		FrameSize:     cfg.FrameSize,
		Flip:          cfg.Flip,
		MotionThresh:  cfg.MotionThresh,
		Debounce:      cfg.Debounce(),
		IgnoreUnknown: cfg.IgnoreUnknown,
		Model:         cfg.Model(),

		PinnedSettings: cfg.PinnedSettings(),
	})
	defer a.Close()

	if err := a.DiscoverPlugins(); err != nil {
		log.Printf("Failed to discover plugins: %v", err)
	}
	if err := a.LoadMappings(); err != nil {
		log.Printf("Failed to load class mappings: %v", err)
	}
	if err := a.LoadSettings(); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	hub := server.NewHub(clock.New())
	defer hub.Close()
	a.AddSink(hub)
	a.SetReadingsPublisher(hub)

	webDir := cfg.WebDir
	if webDir == "" {
		webDir = findWebDir(cfg.DataDir)
	}
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Catalog:   a.Catalog(),
		Frames:    a,
		Hub:       hub,
		Session:   a,
		Settings:  a,
	})

	var t *tray.Tray
	if !cfg.NoTray {
		t = tray.New()
		a.AddSink(t)
		t.OnToggle(a.SetEnabled)
		t.OnOpen(func() {
			if err := openBrowser(browserURL(cfg.Addr)); err != nil {
				log.Printf("Failed to open browser: %v", err)
			}
		})
	}

	if err := a.Start(); err != nil {
		log.Printf("Camera session not started: %v", err)
	}

	go func() {
		fmt.Printf("Starting server on %s\n", cfg.Addr)
		if err := srv.ListenAndServe(cfg.Addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	if t == nil {
		<-quit
		log.Println("Shutting down")
		return
	}

	go func() {
		<-quit
		t.Quit()
	}()

	// Blocks on the main thread until Quit.
	t.Run()
	log.Println("Shutting down")
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}

	return ""
}

func browserURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
