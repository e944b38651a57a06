package capture

import (
	"image"

	"gocv.io/x/gocv"
)

// DefaultFrameSize is the side of the square frame handed to the classifier.
const DefaultFrameSize = 240

// Prepare center-crops frame to a square, scales it to size x size and
// optionally mirrors it horizontally, like a selfie view.
// The returned Mat is new; the caller closes it. A nil or empty frame
// yields an empty Mat.
func Prepare(frame *gocv.Mat, size int, flip bool) gocv.Mat {
	out := gocv.NewMat()
	if frame == nil || frame.Empty() {
		return out
	}
	if size <= 0 {
		size = DefaultFrameSize
	}

	square := frame.Region(SquareRect(frame.Cols(), frame.Rows()))
	defer square.Close()

	gocv.Resize(square, &out, image.Pt(size, size), 0, 0, gocv.InterpolationArea)

	if flip {
		gocv.Flip(out, &out, 1)
	}

	return out
}

// SquareRect returns the largest centered square inside a width x height image.
func SquareRect(width, height int) image.Rectangle {
	side := width
	if height < side {
		side = height
	}
	x := (width - side) / 2
	y := (height - side) / 2
	return image.Rect(x, y, x+side, y+side)
}
