// Package main provides a sound player plugin. It plays the chime and the
// category sound picked for a sorted item through the platform's command
// line audio player.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action   string          `json:"action"`
	Label    string          `json:"label"`
	Category string          `json:"category"`
	Sound    string          `json:"sound"`
	Config   json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the plugin's configuration block.
type Config struct {
	SoundDir string `json:"soundDir"`
	Chime    string `json:"chime"`
}

// actionHandler defines a function type for handling specific actions.
type actionHandler func(req Request, cfg Config) ([]string, error)

var actionHandlers = map[string]actionHandler{
	"play":  play,
	"chime": chime,
}

// players lists audio commands in preference order per platform.
var players = map[string][][]string{
	"darwin": {{"afplay"}},
	"linux": {
		{"paplay"},
		{"mpg123", "-q"},
		{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
		{"aplay", "-q"},
	},
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("invalid config: %v", err))
			return
		}
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	played, err := handler(req, cfg)
	if err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	writeSuccessResponse(played)
}

// play starts the chime, if configured, and the category sound together,
// then waits for both.
func play(req Request, cfg Config) ([]string, error) {
	if req.Sound == "" {
		return nil, errors.New("no sound given")
	}

	var played []string
	var ping *exec.Cmd
	if cfg.Chime != "" {
		path := resolve(cfg.SoundDir, cfg.Chime)
		cmd, err := startFile(path)
		if err != nil {
			return nil, err
		}
		ping = cmd
		played = append(played, path)
	}

	path := resolve(cfg.SoundDir, req.Sound)
	err := playFile(path)
	if ping != nil {
		if werr := ping.Wait(); werr != nil && err == nil {
			err = fmt.Errorf("chime: %w", werr)
		}
	}
	if err != nil {
		return played, err
	}
	return append(played, path), nil
}

func chime(req Request, cfg Config) ([]string, error) {
	if cfg.Chime == "" {
		return nil, errors.New("no chime configured")
	}
	path := resolve(cfg.SoundDir, cfg.Chime)
	return []string{path}, playFile(path)
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// playFile blocks until the file has finished playing.
func playFile(path string) error {
	cmd, err := startFile(path)
	if err != nil {
		return err
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(cmd.Path), err)
	}
	return nil
}

// startFile launches the first available player on path without waiting.
func startFile(path string) (*exec.Cmd, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	for _, player := range players[runtime.GOOS] {
		bin, err := exec.LookPath(player[0])
		if err != nil {
			continue
		}
		args := append(append([]string(nil), player[1:]...), path)
		cmd := exec.Command(bin, args...)
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("%s: %w", player[0], err)
		}
		return cmd, nil
	}

	return nil, fmt.Errorf("no audio player found for %s", runtime.GOOS)
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	resp := Response{
		Success: false,
		Error:   errMsg,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// writeSuccessResponse writes a success response listing the played files.
func writeSuccessResponse(played []string) {
	data, _ := json.Marshal(map[string][]string{"played": played})
	resp := Response{
		Success: true,
		Data:    data,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
