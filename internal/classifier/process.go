package classifier

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/sortcam/internal/debounce"
)

// ServiceScript is the inference service started by ProcessClassifier.
const ServiceScript = "classifier_service.py"

// idleShutdown is how long the service may sit unused before it is stopped.
const idleShutdown = 30 * time.Second

// ProcessClassifier implements Classifier using an external inference
// service. Frames are sent as length-prefixed JPEG on stdin and the service
// answers with one JSON line per frame.
type ProcessClassifier struct {
	labels    []string
	command   []string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewProcessClassifier creates a classifier backed by the python service.
// The process is started lazily on first classification.
func NewProcessClassifier(config Config) (*ProcessClassifier, error) {
	md, err := LoadMetadata(config.MetadataPath)
	if err != nil {
		return nil, err
	}

	scriptPath := findServiceScript()
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", ServiceScript)
	}

	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	return NewCommandClassifier(md.Labels, pythonPath, scriptPath, config.ModelPath, config.MetadataPath), nil
}

// NewCommandClassifier creates a ProcessClassifier that runs an arbitrary
// command speaking the service protocol.
func NewCommandClassifier(labels []string, name string, args ...string) *ProcessClassifier {
	return &ProcessClassifier{
		labels:  append([]string(nil), labels...),
		command: append([]string{name}, args...),
	}
}

// Labels returns the declared label order.
func (c *ProcessClassifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Classify encodes the frame and asks the service for predictions.
func (c *ProcessClassifier) Classify(frame *gocv.Mat) ([]debounce.Reading, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("classify: empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return c.classifyBytes(buf.GetBytes())
}

func (c *ProcessClassifier) classifyBytes(data []byte) ([]debounce.Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureStarted(); err != nil {
		return nil, err
	}

	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	// Any transport failure leaves the stream out of sync, so the service is
	// killed and the next call starts a fresh one.
	if _, err := c.stdin.Write(length); err != nil {
		c.kill()
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := c.stdin.Write(data); err != nil {
		c.kill()
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := c.stdout.ReadString('\n')
	if err != nil {
		c.kill()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Predictions []jsonPrediction `json:"predictions"`
		Error       string           `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		c.kill()
		return nil, fmt.Errorf("parse response: %w", err)
	}
	c.resetIdleTimer()
	if response.Error != "" {
		return nil, fmt.Errorf("classifier service: %s", response.Error)
	}

	return orderPredictions(c.labels, response.Predictions), nil
}

// Close shuts down the service process.
func (c *ProcessClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown()
}

func (c *ProcessClassifier) ensureStarted() error {
	if c.started {
		return nil
	}

	c.cmd = exec.Command(c.command[0], c.command[1:]...)

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	c.cmd.Stderr = os.Stderr

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start classifier service: %w", err)
	}

	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)
	c.started = true

	return nil
}

func (c *ProcessClassifier) shutdown() error {
	if !c.started {
		return nil
	}

	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}

	if c.stdin != nil {
		c.stdin.Close()
	}

	err := c.cmd.Wait()
	c.started = false
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil

	return err
}

// kill stops a misbehaving service without waiting for it to exit on its own.
func (c *ProcessClassifier) kill() {
	if !c.started {
		return
	}
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.shutdown()
}

// Running reports whether the service process is up.
func (c *ProcessClassifier) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *ProcessClassifier) resetIdleTimer() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(idleShutdown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.shutdown()
	})
}

type jsonPrediction struct {
	ClassName   string  `json:"className"`
	Probability float64 `json:"probability"`
}

// orderPredictions maps service predictions onto the declared label order.
// Labels the service did not report get probability 0; unknown names are dropped.
func orderPredictions(labels []string, preds []jsonPrediction) []debounce.Reading {
	byName := make(map[string]float64, len(preds))
	for _, p := range preds {
		byName[p.ClassName] = p.Probability
	}

	readings := make([]debounce.Reading, len(labels))
	for i, l := range labels {
		readings[i] = debounce.Reading{Label: l, Probability: byName[l]}
	}
	return readings
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ServiceScript),
		filepath.Join("..", "scripts", ServiceScript),
		filepath.Join(execDir, "scripts", ServiceScript),
		filepath.Join(os.Getenv("HOME"), ".sortcam", "scripts", ServiceScript),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".sortcam/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
