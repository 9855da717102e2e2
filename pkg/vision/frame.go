package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when an operation gets an empty Mat.
var ErrEmptyFrame = errors.New("empty frame")

// ErrPatchBounds is returned when a patch lies outside the frame.
var ErrPatchBounds = errors.New("patch outside frame")

// MatFrame exposes a BGR frame to the feature extractor. It does not own
// the Mat.
type MatFrame struct {
	mat gocv.Mat
}

// NewMatFrame wraps mat.
func NewMatFrame(mat gocv.Mat) *MatFrame {
	return &MatFrame{mat: mat}
}

// Size returns the frame width and height.
func (f *MatFrame) Size() (int, int) {
	return f.mat.Cols(), f.mat.Rows()
}

// MeanGreen returns the mean green-channel value inside r.
func (f *MatFrame) MeanGreen(r image.Rectangle) (float64, error) {
	if f.mat.Empty() {
		return 0, ErrEmptyFrame
	}
	if r.Empty() || !r.In(image.Rect(0, 0, f.mat.Cols(), f.mat.Rows())) {
		return 0, fmt.Errorf("%w: %v", ErrPatchBounds, r)
	}
	region := f.mat.Region(r)
	defer region.Close()
	// BGR order: Val2 is green.
	return region.Mean().Val2, nil
}

// EncodeJPEG encodes mat as JPEG and returns a Go-owned copy of the bytes.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, ErrEmptyFrame
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Prepare resizes src to width x height and optionally mirrors it
// horizontally. The caller owns the returned Mat.
func Prepare(src gocv.Mat, width, height int, mirror bool) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}
	resized := gocv.NewMat()
	gocv.Resize(src, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	if !mirror {
		return resized, nil
	}
	defer resized.Close()
	flipped := gocv.NewMat()
	gocv.Flip(resized, &flipped, 1)
	return flipped, nil
}
