package classifier

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/sortcam/internal/debounce"
)

// Input normalization for MobileNet-style image models: (x - 127.5) / 127.5.
const (
	inputMean  = 127.5
	inputScale = 1.0 / 127.5
)

// NetClassifier implements Classifier with the OpenCV DNN module.
type NetClassifier struct {
	net       gocv.Net
	labels    []string
	imageSize int
	mu        sync.Mutex
}

// NewNetClassifier loads the model and metadata named in config.
func NewNetClassifier(config Config) (*NetClassifier, error) {
	md, err := LoadMetadata(config.MetadataPath)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	// ReadNet returns a nil network when OpenCV rejects the file, so the
	// exception must be checked before the Net is used.
	net := gocv.ReadNet(config.ModelPath, "")
	if err := gocv.LastExceptionError(); err != nil {
		return nil, fmt.Errorf("load model %s: %w", config.ModelPath, err)
	}
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("load model %s: empty network", config.ModelPath)
	}

	size := md.ImageSize
	if config.ImageSize > 0 {
		size = config.ImageSize
	}

	return &NetClassifier{
		net:       net,
		labels:    md.Labels,
		imageSize: size,
	}, nil
}

// Labels returns the model's labels in output order.
func (c *NetClassifier) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Classify runs a forward pass and returns per-label probabilities.
func (c *NetClassifier) Classify(frame *gocv.Mat) ([]debounce.Reading, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("classify: empty frame")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blob := gocv.BlobFromImage(*frame, inputScale, image.Pt(c.imageSize, c.imageSize),
		gocv.NewScalar(inputMean, inputMean, inputMean, 0), true, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	raw, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read model output: %w", err)
	}
	return readOutput(c.labels, raw)
}

// readOutput converts one row of network output into readings.
func readOutput(labels []string, raw []float32) ([]debounce.Reading, error) {
	probs := make([]float64, len(raw))
	for i, v := range raw {
		probs[i] = float64(v)
	}

	readings, err := zip(labels, normalize(probs))
	if err != nil {
		return nil, fmt.Errorf("%w: %d outputs, %d labels", err, len(probs), len(labels))
	}
	return readings, nil
}

// Close releases the network.
func (c *NetClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}

// normalize returns probs unchanged when they already form a distribution,
// otherwise it treats them as logits and applies softmax.
func normalize(probs []float64) []float64 {
	if len(probs) == 0 {
		return probs
	}

	sum := 0.0
	inRange := true
	for _, p := range probs {
		sum += p
		if p < 0 || p > 1 {
			inRange = false
		}
	}
	if inRange && math.Abs(sum-1) < 1e-3 {
		return probs
	}

	return softmax(probs)
}

func softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}

	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
