package trust

import (
	"math"
	"sort"

	"github.com/MrCodeEU/sentinel/pkg/landmarks"
)

const (
	// minVisibility is the visibility a pose point needs to be measured.
	minVisibility = 0.5
	// maxLimbVariation is the limb-length coefficient of variation that
	// maps to a physics score of zero.
	maxLimbVariation = 0.25

	// minJump is the smallest mean displacement counted as a discontinuity.
	minJump = 0.05
	// jumpFactor scales the median displacement into the jump threshold.
	jumpFactor = 3.0
	// jumpPenalty converts the jump fraction into a score loss.
	jumpPenalty = 3.0

	// naturalMotion is the median per-frame displacement at which body
	// micro-motion counts as fully plausible.
	naturalMotion = 0.002
)

type limb struct{ a, b int }

var limbs = []limb{
	{landmarks.PoseLeftShoulder, landmarks.PoseRightShoulder},
	{landmarks.PoseLeftShoulder, landmarks.PoseLeftElbow},
	{landmarks.PoseRightShoulder, landmarks.PoseRightElbow},
	{landmarks.PoseLeftElbow, landmarks.PoseLeftWrist},
	{landmarks.PoseRightElbow, landmarks.PoseRightWrist},
	{landmarks.PoseLeftHip, landmarks.PoseRightHip},
	{landmarks.PoseLeftHip, landmarks.PoseLeftKnee},
	{landmarks.PoseRightHip, landmarks.PoseRightKnee},
	{landmarks.PoseLeftKnee, landmarks.PoseLeftAnkle},
	{landmarks.PoseRightKnee, landmarks.PoseRightAnkle},
}

// PhysicsScore rewards rigid limbs: each visible limb should keep its
// length across the window. It returns 0 when no limb could be measured.
func PhysicsScore(seq []landmarks.Pose) float64 {
	var sum float64
	var measured int
	for _, l := range limbs {
		var lengths []float64
		for i := range seq {
			a, errA := seq[i].At(l.a)
			b, errB := seq[i].At(l.b)
			if errA != nil || errB != nil || a.Visibility < minVisibility || b.Visibility < minVisibility {
				continue
			}
			lengths = append(lengths, landmarks.Distance(a.Point, b.Point))
		}
		if len(lengths) < 2 {
			continue
		}
		mean, std := meanStd(lengths)
		if mean < 1e-6 {
			continue
		}
		sum += std / mean
		measured++
	}
	if measured == 0 {
		return 0
	}
	return clamp01(1 - (sum/float64(measured))/maxLimbVariation)
}

// TemporalScore penalises frame-to-frame jumps much larger than the
// typical displacement of the window.
func TemporalScore(seq []landmarks.Pose) float64 {
	steps := displacements(seq)
	if len(steps) == 0 {
		return 0
	}
	threshold := math.Max(jumpFactor*median(steps), minJump)
	var jumps int
	for _, s := range steps {
		if s > threshold {
			jumps++
		}
	}
	return clamp01(1 - jumpPenalty*float64(jumps)/float64(len(steps)))
}

// BiologyScore expects the small continuous motion of a living body. A
// frozen pose scores 0; the result is weighted by mean visibility.
func BiologyScore(seq []landmarks.Pose) float64 {
	steps := displacements(seq)
	if len(steps) == 0 {
		return 0
	}
	motion := clamp01(median(steps) / naturalMotion)
	return clamp01(motion * meanVisibility(seq))
}

// displacements returns the mean point displacement between consecutive
// snapshots, over the indices both snapshots share.
func displacements(seq []landmarks.Pose) []float64 {
	if len(seq) < 2 {
		return nil
	}
	out := make([]float64, 0, len(seq)-1)
	for i := 1; i < len(seq); i++ {
		prev, cur := seq[i-1].Points, seq[i].Points
		n := len(prev)
		if len(cur) < n {
			n = len(cur)
		}
		if n == 0 {
			continue
		}
		var total float64
		for j := 0; j < n; j++ {
			total += landmarks.Distance(prev[j].Point, cur[j].Point)
		}
		out = append(out, total/float64(n))
	}
	return out
}

func meanVisibility(seq []landmarks.Pose) float64 {
	var total float64
	var n int
	for _, p := range seq {
		for _, pt := range p.Points {
			total += pt.Visibility
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func meanStd(xs []float64) (float64, float64) {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(variance / float64(len(xs)))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
