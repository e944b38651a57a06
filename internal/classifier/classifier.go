// Package classifier provides image classification sources that turn camera
// frames into per-label probabilities.
package classifier

import (
	"errors"

	"gocv.io/x/gocv"

	"github.com/ayusman/sortcam/internal/debounce"
)

// ErrLabelMismatch is returned when a model produces a different number of
// outputs than its metadata declares labels.
var ErrLabelMismatch = errors.New("model output does not match label count")

// Classifier defines the interface for image classification implementations.
type Classifier interface {
	// Classify runs a frame through the model and returns one reading per
	// label, in the order reported by Labels.
	Classify(frame *gocv.Mat) ([]debounce.Reading, error)

	// Labels returns the fixed, ordered label set of the model.
	Labels() []string

	// Close releases any resources held by the classifier.
	Close() error
}

// Config holds configuration options for loading a classifier.
type Config struct {
	// ModelPath is the model file (ONNX, TensorFlow .pb, Caffe, ...).
	ModelPath string

	// MetadataPath is the metadata.json exported next to the model.
	MetadataPath string

	// ImageSize overrides the input size from the metadata when > 0.
	ImageSize int
}

// DefaultConfig returns a Config pointing at model1/ in the working directory.
func DefaultConfig() Config {
	return Config{
		ModelPath:    "model1/model.onnx",
		MetadataPath: "model1/metadata.json",
	}
}

// zip pairs probabilities with labels in label order.
func zip(labels []string, probs []float64) ([]debounce.Reading, error) {
	if len(labels) != len(probs) {
		return nil, ErrLabelMismatch
	}
	readings := make([]debounce.Reading, len(labels))
	for i, l := range labels {
		readings[i] = debounce.Reading{Label: l, Probability: probs[i]}
	}
	return readings, nil
}
