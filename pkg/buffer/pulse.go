package buffer

import (
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
)

const (
	// PulseCapacity is the number of forehead samples kept (about 5 s at 30 fps).
	PulseCapacity = 150
	// PulseMinSamples is the sample count the waveform needs to exceed.
	PulseMinSamples = 10

	// PoseCapacity is the number of pose snapshots kept.
	PoseCapacity = 30
	// PoseMinSamples is the window length the trust engine needs.
	PoseMinSamples = 15

	normEpsilon = 1e-6
)

// PulseBuffer keeps recent forehead intensities for the rPPG-style trace.
type PulseBuffer struct {
	ring *Ring[float64]
}

// NewPulseBuffer creates an empty pulse buffer of PulseCapacity.
func NewPulseBuffer() *PulseBuffer {
	return &PulseBuffer{ring: NewRing[float64](PulseCapacity)}
}

// Add appends one sample.
func (p *PulseBuffer) Add(v float64) { p.ring.Push(v) }

// Len returns the number of samples held.
func (p *PulseBuffer) Len() int { return p.ring.Len() }

// Waveform returns the samples min-max normalized into [0,1], or an empty
// slice while there are not more than PulseMinSamples samples.
func (p *PulseBuffer) Waveform() []float64 {
	if p.ring.Len() <= PulseMinSamples {
		return []float64{}
	}
	return Normalize(p.ring.Snapshot())
}

// Normalize maps xs to (x-min)/(max-min+eps). A flat signal maps to zeros.
func Normalize(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	span := hi - lo + normEpsilon
	for i, x := range xs {
		out[i] = (x - lo) / span
	}
	return out
}

// PoseWindow keeps recent body-pose snapshots for the trust engine.
type PoseWindow struct {
	ring *Ring[landmarks.Pose]
}

// NewPoseWindow creates an empty window of PoseCapacity.
func NewPoseWindow() *PoseWindow {
	return &PoseWindow{ring: NewRing[landmarks.Pose](PoseCapacity)}
}

// Add stores a private copy of the snapshot.
func (w *PoseWindow) Add(p landmarks.Pose) { w.ring.Push(p.Clone()) }

// Len returns the number of snapshots held.
func (w *PoseWindow) Len() int { return w.ring.Len() }

// Ready reports whether enough snapshots accumulated for fusion.
func (w *PoseWindow) Ready() bool { return w.ring.Len() >= PoseMinSamples }

// Sequence returns the snapshots oldest first.
func (w *PoseWindow) Sequence() []landmarks.Pose { return w.ring.Snapshot() }
