// Package featurestest builds synthetic face meshes with known feature values
// for tests.
package featurestest

import (
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
)

// Frame dimensions the synthetic meshes are laid out for.
const (
	Width  = 640
	Height = 480
)

const (
	eyeWidth  = 0.06 // normalized x, 38.4 px at Width
	jawLeftX  = 0.3
	jawRightX = 0.7 // jaw width 0.4 -> 256 px at Width
	mouthY    = 0.62
)

// FaceOptions controls the synthetic face.
type FaceOptions struct {
	// EAR is the target eye aspect ratio for both eyes.
	EAR float64
	// Smile is the target mouth/jaw width ratio.
	Smile float64
	// Quality is the target quality score in (0,1].
	Quality float64
}

// Open returns options for a neutral face with open eyes.
func Open() FaceOptions {
	return FaceOptions{EAR: 0.30, Smile: 0.30, Quality: 0.9}
}

// NewFace lays out a 468-point mesh whose features match opts at Width x Height.
func NewFace(opts FaceOptions) *landmarks.Face {
	pts := make([]landmarks.Point, landmarks.NumFacePoints)
	for i := range pts {
		pts[i] = landmarks.Point{X: 0.5, Y: 0.5}
	}

	span := opts.Quality * 0.4
	pts[landmarks.FaceForeheadTop] = landmarks.Point{X: 0.5, Y: 0.5 - span/2}
	pts[landmarks.FaceChin] = landmarks.Point{X: 0.5, Y: 0.5 + span/2}
	pts[landmarks.FaceForeheadPatch] = landmarks.Point{X: 0.5, Y: 0.35}
	pts[landmarks.FaceNoseTip] = landmarks.Point{X: 0.5, Y: 0.52, Z: -0.05}

	placeEye(pts, landmarks.LeftEye, 0.42, 0.45, opts.EAR)
	placeEye(pts, landmarks.RightEye, 0.58, 0.45, opts.EAR)

	pts[landmarks.FaceJawLeft] = landmarks.Point{X: jawLeftX, Y: 0.6}
	pts[landmarks.FaceJawRight] = landmarks.Point{X: jawRightX, Y: 0.6}
	half := opts.Smile * (jawRightX - jawLeftX) / 2
	pts[landmarks.FaceMouthLeft] = landmarks.Point{X: 0.5 - half, Y: mouthY}
	pts[landmarks.FaceMouthRight] = landmarks.Point{X: 0.5 + half, Y: mouthY}

	return &landmarks.Face{Points: pts}
}

// placeEye positions p1..p6 so that (A+B)/(2C) == ear in pixel space.
func placeEye(pts []landmarks.Point, idx [6]int, cx, cy, ear float64) {
	c := eyeWidth * Width
	dy := ear * c / (2 * Height)

	pts[idx[0]] = landmarks.Point{X: cx - eyeWidth/2, Y: cy}
	pts[idx[3]] = landmarks.Point{X: cx + eyeWidth/2, Y: cy}
	pts[idx[1]] = landmarks.Point{X: cx - 0.01, Y: cy - dy}
	pts[idx[2]] = landmarks.Point{X: cx + 0.01, Y: cy - dy}
	pts[idx[4]] = landmarks.Point{X: cx + 0.01, Y: cy + dy}
	pts[idx[5]] = landmarks.Point{X: cx - 0.01, Y: cy + dy}
}

// FixedYaw is a YawEstimator that always returns the same angle.
type FixedYaw float64

// EstimateYaw implements features.YawEstimator.
func (y FixedYaw) EstimateYaw(*landmarks.Face, int, int) (float64, error) {
	return float64(y), nil
}
