// Package vision holds the OpenCV-backed pieces of feature extraction: the
// PnP head-pose solve, forehead patch sampling and JPEG encoding.
package vision

import (
	"errors"
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"github.com/MrCodeEU/sentinel/pkg/landmarks"
)

// YawGain is the empirical scale applied to the decomposed yaw angle. The
// -18 degree turn threshold is calibrated against it.
const YawGain = 360.0

// ErrPoseSolve is returned when the PnP solver does not converge.
var ErrPoseSolve = errors.New("head pose solve failed")

// PnPYawEstimator estimates head yaw from six face-mesh points with a
// synthetic pinhole camera. It implements features.YawEstimator.
type PnPYawEstimator struct{}

// NewPnPYawEstimator creates a yaw estimator.
func NewPnPYawEstimator() *PnPYawEstimator {
	return &PnPYawEstimator{}
}

// EstimateYaw returns the scaled yaw in degrees; negative is a left turn.
func (e *PnPYawEstimator) EstimateYaw(face *landmarks.Face, width, height int) (float64, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: invalid frame size %dx%d", ErrPoseSolve, width, height)
	}

	obj := make([]gocv.Point3f, 0, len(landmarks.HeadPosePoints))
	img := make([]gocv.Point2f, 0, len(landmarks.HeadPosePoints))
	for _, idx := range landmarks.HeadPosePoints {
		p, err := face.At(idx)
		if err != nil {
			return 0, err
		}
		x, y := p.Pixel(width, height)
		x, y = math.Trunc(x), math.Trunc(y)
		obj = append(obj, gocv.Point3f{X: float32(x), Y: float32(y), Z: float32(p.Z)})
		img = append(img, gocv.Point2f{X: float32(x), Y: float32(y)})
	}

	objPts := gocv.NewPoint3fVectorFromPoints(obj)
	defer objPts.Close()
	imgPts := gocv.NewPoint2fVectorFromPoints(img)
	defer imgPts.Close()

	cam := cameraMatrix(width, height)
	defer cam.Close()
	dist := gocv.Zeros(4, 1, gocv.MatTypeCV64F)
	defer dist.Close()

	rvec := gocv.NewMat()
	defer rvec.Close()
	tvec := gocv.NewMat()
	defer tvec.Close()

	if ok := gocv.SolvePnP(objPts, imgPts, cam, dist, &rvec, &tvec, false, 0); !ok || rvec.Empty() {
		return 0, ErrPoseSolve
	}

	rmat := gocv.NewMat()
	defer rmat.Close()
	gocv.Rodrigues(rvec, &rmat)
	if rmat.Rows() != 3 || rmat.Cols() != 3 {
		return 0, fmt.Errorf("%w: unexpected rotation matrix %dx%d", ErrPoseSolve, rmat.Rows(), rmat.Cols())
	}

	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = rmat.GetDoubleAt(i, j)
		}
	}
	return YawFromRotation(r) * YawGain, nil
}

// YawFromRotation extracts the rotation about the vertical axis, in degrees,
// from a 3x3 rotation matrix.
func YawFromRotation(r [3][3]float64) float64 {
	sy := math.Hypot(r[2][1], r[2][2])
	return math.Atan2(-r[2][0], sy) * 180 / math.Pi
}

// cameraMatrix is a pinhole model with focal length = width and the
// principal point at the frame centre.
func cameraMatrix(width, height int) gocv.Mat {
	m := gocv.Zeros(3, 3, gocv.MatTypeCV64F)
	focal := float64(width)
	m.SetDoubleAt(0, 0, focal)
	m.SetDoubleAt(0, 2, float64(width)/2)
	m.SetDoubleAt(1, 1, focal)
	m.SetDoubleAt(1, 2, float64(height)/2)
	m.SetDoubleAt(2, 2, 1)
	return m
}
