// Package landmarks defines the face-mesh and body-pose point sets produced by
// the external detectors, and the interfaces the pipeline uses to obtain them.
// Indices follow the MediaPipe Face Mesh (468 points) and Pose (33 points)
// conventions.
package landmarks

import (
	"context"
	"errors"
	"math"
)

// Face mesh indices used by the feature extractor.
const (
	FaceForeheadTop   = 10
	FaceChin          = 152
	FaceNoseTip       = 1
	FaceForeheadPatch = 151
	FaceMouthLeft     = 61
	FaceMouthRight    = 291
	FaceJawLeft       = 234
	FaceJawRight      = 454
	FaceLeftEyeOuter  = 33
	FaceRightEyeOuter = 263

	// NumFacePoints is the size of a refined-less face mesh.
	NumFacePoints = 468
)

// Eye contours in EAR order: outer corner, two upper lids, inner corner,
// two lower lids (p1..p6).
var (
	LeftEye  = [6]int{33, 160, 158, 133, 153, 144}
	RightEye = [6]int{362, 385, 387, 263, 373, 380}
)

// HeadPosePoints are the six canonical points used for the head-pose solve.
var HeadPosePoints = [6]int{FaceNoseTip, FaceChin, FaceLeftEyeOuter, FaceRightEyeOuter, FaceMouthLeft, FaceMouthRight}

// Body pose indices.
const (
	PoseNose          = 0
	PoseLeftShoulder  = 11
	PoseRightShoulder = 12
	PoseLeftElbow     = 13
	PoseRightElbow    = 14
	PoseLeftWrist     = 15
	PoseRightWrist    = 16
	PoseLeftHip       = 23
	PoseRightHip      = 24
	PoseLeftKnee      = 25
	PoseRightKnee     = 26
	PoseLeftAnkle     = 27
	PoseRightAnkle    = 28

	NumPosePoints = 33
)

// Point is a normalized landmark: X and Y in [0,1] of the frame, Z relative depth.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PosePoint is a body landmark with the detector's visibility estimate.
type PosePoint struct {
	Point
	Visibility float64 `json:"visibility"`
}

// Face is one detected face mesh.
type Face struct {
	Points []Point `json:"points"`
}

// Pose is one detected full-body pose snapshot.
type Pose struct {
	Points []PosePoint `json:"points"`
}

// ErrMissingLandmark is returned when a face or pose lacks a required index.
var ErrMissingLandmark = errors.New("landmark index out of range")

// At returns the landmark with the given index.
func (f *Face) At(idx int) (Point, error) {
	if f == nil || idx < 0 || idx >= len(f.Points) {
		return Point{}, ErrMissingLandmark
	}
	return f.Points[idx], nil
}

// Pixel scales a normalized point into pixel space of a w x h frame.
func (p Point) Pixel(w, h int) (float64, float64) {
	return p.X * float64(w), p.Y * float64(h)
}

// At returns the pose landmark with the given index.
func (p *Pose) At(idx int) (PosePoint, error) {
	if p == nil || idx < 0 || idx >= len(p.Points) {
		return PosePoint{}, ErrMissingLandmark
	}
	return p.Points[idx], nil
}

// Clone returns a deep copy so buffered snapshots never alias detector memory.
func (p Pose) Clone() Pose {
	points := make([]PosePoint, len(p.Points))
	copy(points, p.Points)
	return Pose{Points: points}
}

// Distance is the Euclidean distance between two points in the XY plane.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// FaceDetector finds at most one face mesh in a JPEG-encoded frame.
// A nil face with a nil error means no face was found.
type FaceDetector interface {
	DetectFace(ctx context.Context, jpeg []byte) (*Face, error)
}

// PoseDetector finds at most one body pose in a JPEG-encoded frame,
// independently of whether a face was found.
type PoseDetector interface {
	DetectPose(ctx context.Context, jpeg []byte) (*Pose, error)
}
