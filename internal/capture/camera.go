// Package capture reads webcam frames with GoCV and prepares them for the
// classifier.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// DefaultFPS is the capture rate requested until SetFPS is called.
const DefaultFPS = 10

// Capture errors.
var (
	ErrCameraNotOpen = errors.New("camera is not open")
	ErrReadFailed    = errors.New("failed to read frame from camera")
	ErrEmptyFrame    = errors.New("captured frame is empty")
)

// Camera is a source of frames for the sorting loop.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// CameraConfig selects the device and the frame size asked of it.
// Devices that cannot deliver the size pick the closest mode they have;
// Prepare crops whatever arrives to a square.
type CameraConfig struct {
	DeviceID int
	Width    int
	Height   int
}

// DefaultCameraConfig asks device 0 for square frames of DefaultFrameSize.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{Width: DefaultFrameSize, Height: DefaultFrameSize}
}

type webcam struct {
	config CameraConfig

	mu  sync.Mutex
	vc  *gocv.VideoCapture
	fps int
}

// NewCamera returns a closed Camera for config. A zero width or height
// falls back to DefaultFrameSize.
func NewCamera(config CameraConfig) Camera {
	if config.Width <= 0 {
		config.Width = DefaultFrameSize
	}
	if config.Height <= 0 {
		config.Height = DefaultFrameSize
	}
	return &webcam{config: config, fps: DefaultFPS}
}

// Open starts capturing. Opening an open camera is a no-op.
func (c *webcam) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc != nil {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.config.DeviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.config.DeviceID, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.config.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.config.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.vc = vc
	return nil
}

// Close releases the device.
func (c *webcam) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	return err
}

// ReadFrame returns the next frame, which the caller must close.
func (c *webcam) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vc == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if !c.vc.Read(&mat) {
		mat.Close()
		return nil, ErrReadFailed
	}
	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}
	return &mat, nil
}

// SetFPS changes the requested rate, live if the camera is open.
// Values <= 0 are ignored.
func (c *webcam) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.vc != nil {
		c.vc.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *webcam) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *webcam) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vc != nil
}
