package vision

import (
	"errors"
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"github.com/MrCodeEU/sentinel/pkg/features"
	"github.com/MrCodeEU/sentinel/pkg/features/featurestest"
)

var (
	_ features.YawEstimator = (*PnPYawEstimator)(nil)
	_ features.PatchSampler = (*MatFrame)(nil)
)

func TestYawFromRotation(t *testing.T) {
	tests := []struct {
		name string
		deg  float64
	}{
		{"identity", 0},
		{"left", -20},
		{"right", 35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rad := tt.deg * math.Pi / 180
			c, s := math.Cos(rad), math.Sin(rad)
			r := [3][3]float64{
				{c, 0, s},
				{0, 1, 0},
				{-s, 0, c},
			}
			if got := YawFromRotation(r); math.Abs(got-tt.deg) > 1e-9 {
				t.Errorf("yaw = %f, want %f", got, tt.deg)
			}
		})
	}
}

func TestMatFrame_MeanGreen(t *testing.T) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 200, 30, 0), 480, 640, gocv.MatTypeCV8UC3)
	defer mat.Close()

	f := NewMatFrame(mat)
	if w, h := f.Size(); w != 640 || h != 480 {
		t.Fatalf("size = %dx%d", w, h)
	}

	got, err := f.MeanGreen(image.Rect(100, 100, 110, 110))
	if err != nil {
		t.Fatal(err)
	}
	if got != 200 {
		t.Errorf("mean green = %f, want 200", got)
	}

	if _, err := f.MeanGreen(image.Rect(635, 475, 645, 485)); !errors.Is(err, ErrPatchBounds) {
		t.Errorf("expected ErrPatchBounds, got %v", err)
	}
}

func TestPrepareAndEncode(t *testing.T) {
	src := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 128, 0, 0), 720, 1280, gocv.MatTypeCV8UC3)
	defer src.Close()

	out, err := Prepare(src, 640, 480, true)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if out.Cols() != 640 || out.Rows() != 480 {
		t.Fatalf("prepared size = %dx%d", out.Cols(), out.Rows())
	}

	jpeg, err := EncodeJPEG(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		t.Error("output is not a JPEG")
	}

	if _, err := EncodeJPEG(gocv.NewMat()); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestPnPYawEstimator_Frontal(t *testing.T) {
	face := featurestest.NewFace(featurestest.Open())
	yaw, err := NewPnPYawEstimator().EstimateYaw(face, featurestest.Width, featurestest.Height)
	if err != nil {
		t.Skipf("solver did not converge on synthetic mesh: %v", err)
	}
	if math.IsNaN(yaw) || math.IsInf(yaw, 0) {
		t.Errorf("yaw = %f", yaw)
	}
}
