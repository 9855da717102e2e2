// Package features turns one face mesh into the scalar signals the challenge
// state machine runs on: face quality, eye aspect ratio, smile ratio, head yaw
// and forehead intensity.
package features

import (
	"image"
	"math"

	"github.com/MrCodeEU/sentinel/pkg/landmarks"
)

// Thresholds applied to the extracted features.
const (
	// EARClose marks the eyes closed when EAR falls below it.
	EARClose = 0.22
	// EAROpen marks the eyes open again when EAR rises above it.
	EAROpen = 0.26
	// SmileThreshold is the mouth/jaw width ratio above which the subject smiles.
	SmileThreshold = 0.38
	// QualityThreshold is the minimum acceptable face quality.
	QualityThreshold = 0.35
	// YawTurnThreshold confirms a left head turn when yaw is below it (degrees).
	YawTurnThreshold = -18.0

	// qualityFrameShare is the share of frame height a full-quality face spans.
	qualityFrameShare = 0.4
	// ForeheadPatchHalf is half the side of the square forehead patch in pixels.
	ForeheadPatchHalf = 5

	ratioEpsilon = 1e-6
)

// YawEstimator estimates head yaw in degrees; negative means turned left.
type YawEstimator interface {
	EstimateYaw(face *landmarks.Face, width, height int) (float64, error)
}

// PatchSampler reads the mean green-channel intensity of a pixel rectangle.
type PatchSampler interface {
	MeanGreen(r image.Rectangle) (float64, error)
}

// Features is the per-frame output of the extractor.
type Features struct {
	Quality    float64
	EAR        float64
	SmileRatio float64
	Smiling    bool

	Yaw   float64
	YawOK bool

	Forehead   float64
	ForeheadOK bool

	// Degenerate is set when a ratio denominator collapsed to zero.
	Degenerate bool
}

// LowQuality reports whether the frame should be flagged as a quality violation.
func (f Features) LowQuality() bool {
	return f.Degenerate || f.Quality < QualityThreshold
}

// TurnedLeft reports whether the yaw confirms a left turn this frame.
func (f Features) TurnedLeft() bool {
	return f.YawOK && f.Yaw < YawTurnThreshold
}

// Extractor computes Features from landmark sets.
type Extractor struct {
	yaw YawEstimator
}

// NewExtractor creates an extractor. yaw may be nil, in which case yaw is
// never available and the turn challenge cannot be satisfied.
func NewExtractor(yaw YawEstimator) *Extractor {
	return &Extractor{yaw: yaw}
}

// Extract computes all features for one face. pixels may be nil when the
// raw frame is unavailable; the forehead sample is then skipped.
func (e *Extractor) Extract(face *landmarks.Face, width, height int, pixels PatchSampler) (Features, error) {
	var out Features

	quality, err := Quality(face, width, height)
	if err != nil {
		return out, err
	}
	out.Quality = quality

	ear, degenerate, err := EyeAspectRatio(face, width, height)
	if err != nil {
		return out, err
	}
	out.EAR = ear
	out.Degenerate = out.Degenerate || degenerate

	smile, degenerate, err := SmileRatio(face, width, height)
	if err != nil {
		return out, err
	}
	out.SmileRatio = smile
	out.Degenerate = out.Degenerate || degenerate
	out.Smiling = !degenerate && smile > SmileThreshold

	if e.yaw != nil {
		if yaw, err := e.yaw.EstimateYaw(face, width, height); err == nil {
			out.Yaw = yaw
			out.YawOK = true
		}
	}

	if pixels != nil {
		if rect, ok := ForeheadPatch(face, width, height); ok {
			if v, err := pixels.MeanGreen(rect); err == nil {
				out.Forehead = v
				out.ForeheadOK = true
			}
		}
	}

	return out, nil
}

// Quality is the chin-to-forehead distance relative to 40% of the frame
// height, clamped to [0,1].
func Quality(face *landmarks.Face, width, height int) (float64, error) {
	top, err := face.At(landmarks.FaceForeheadTop)
	if err != nil {
		return 0, err
	}
	chin, err := face.At(landmarks.FaceChin)
	if err != nil {
		return 0, err
	}
	if height <= 0 {
		return 0, nil
	}
	faceHeight := pixelDistance(top, chin, width, height)
	return clamp01(faceHeight / (float64(height) * qualityFrameShare)), nil
}

// EyeAspectRatio is the mean EAR of both eyes, (A+B)/(2C) per eye.
// degenerate is true when an eye width collapsed to zero.
func EyeAspectRatio(face *landmarks.Face, width, height int) (ear float64, degenerate bool, err error) {
	left, ld, err := eyeRatio(face, landmarks.LeftEye, width, height)
	if err != nil {
		return 0, false, err
	}
	right, rd, err := eyeRatio(face, landmarks.RightEye, width, height)
	if err != nil {
		return 0, false, err
	}
	return (left + right) / 2, ld || rd, nil
}

func eyeRatio(face *landmarks.Face, idx [6]int, width, height int) (float64, bool, error) {
	var p [6]landmarks.Point
	for i, id := range idx {
		pt, err := face.At(id)
		if err != nil {
			return 0, false, err
		}
		p[i] = pt
	}
	a := pixelDistance(p[1], p[5], width, height)
	b := pixelDistance(p[2], p[4], width, height)
	c, degenerate := floor(pixelDistance(p[0], p[3], width, height))
	return (a + b) / (2 * c), degenerate, nil
}

// SmileRatio is mouth-corner distance over jaw width.
func SmileRatio(face *landmarks.Face, width, height int) (ratio float64, degenerate bool, err error) {
	ml, err := face.At(landmarks.FaceMouthLeft)
	if err != nil {
		return 0, false, err
	}
	mr, err := face.At(landmarks.FaceMouthRight)
	if err != nil {
		return 0, false, err
	}
	jl, err := face.At(landmarks.FaceJawLeft)
	if err != nil {
		return 0, false, err
	}
	jr, err := face.At(landmarks.FaceJawRight)
	if err != nil {
		return 0, false, err
	}
	jaw, degenerate := floor(pixelDistance(jl, jr, width, height))
	return pixelDistance(ml, mr, width, height) / jaw, degenerate, nil
}

// ForeheadPatch returns the pixel rectangle sampled for the pulse signal.
// ok is false when the patch would fall outside the frame.
func ForeheadPatch(face *landmarks.Face, width, height int) (image.Rectangle, bool) {
	p, err := face.At(landmarks.FaceForeheadPatch)
	if err != nil {
		return image.Rectangle{}, false
	}
	x, y := p.Pixel(width, height)
	cx, cy := int(x), int(y)
	r := image.Rect(cx-ForeheadPatchHalf, cy-ForeheadPatchHalf, cx+ForeheadPatchHalf, cy+ForeheadPatchHalf)
	if !r.In(image.Rect(0, 0, width, height)) {
		return image.Rectangle{}, false
	}
	return r, true
}

// NextEyesClosed applies the EAR hysteresis: below EARClose closes, above
// EAROpen opens, anything in between keeps the previous state.
func NextEyesClosed(closed bool, ear float64) bool {
	switch {
	case ear < EARClose:
		return true
	case ear > EAROpen:
		return false
	default:
		return closed
	}
}

func pixelDistance(a, b landmarks.Point, width, height int) float64 {
	ax, ay := a.Pixel(width, height)
	bx, by := b.Pixel(width, height)
	return math.Hypot(ax-bx, ay-by)
}

// floor keeps a denominator away from zero and reports whether it had to.
func floor(v float64) (float64, bool) {
	if v < ratioEpsilon || math.IsNaN(v) {
		return ratioEpsilon, true
	}
	return v, false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
