// Package trust fuses three pose-consistency signals into a single reality
// score with human-readable reasons.
package trust

import (
	"math"

	"github.com/MrCodeEU/sentinel/pkg/buffer"
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
)

// Fusion weights and per-signal thresholds.
const (
	PhysicsWeight  = 0.4
	TemporalWeight = 0.3
	BiologyWeight  = 0.3

	PhysicsThreshold  = 0.7
	TemporalThreshold = 0.7
	BiologyThreshold  = 0.6
)

// Reasons emitted by Fuse.
const (
	ReasonPhysics  = "Physics consistency violation detected"
	ReasonTemporal = "Temporal discontinuity detected"
	ReasonBiology  = "Biological motion inconsistency detected"
	ReasonNeutral  = "No major reality violations detected"
)

// Assessment is the fused trust result for one pose window.
type Assessment struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Percent returns the score as a percentage rounded to two decimals.
func (a Assessment) Percent() float64 {
	return math.Round(a.Score*100*100) / 100
}

// Violations returns the reasons without the neutral placeholder.
func (a Assessment) Violations() []string {
	out := make([]string, 0, len(a.Reasons))
	for _, r := range a.Reasons {
		if !IsNeutral(r) {
			out = append(out, r)
		}
	}
	return out
}

// IsNeutral reports whether reason is the no-violation placeholder.
func IsNeutral(reason string) bool {
	return reason == ReasonNeutral
}

// Fuse combines the three signals. Inputs are clamped to [0,1] and NaN
// counts as 0, so the score always stays in [0,1].
func Fuse(physics, temporal, biology float64) Assessment {
	physics, temporal, biology = clamp01(physics), clamp01(temporal), clamp01(biology)

	score := PhysicsWeight*physics + TemporalWeight*temporal + BiologyWeight*biology

	var reasons []string
	if physics < PhysicsThreshold {
		reasons = append(reasons, ReasonPhysics)
	}
	if temporal < TemporalThreshold {
		reasons = append(reasons, ReasonTemporal)
	}
	if biology < BiologyThreshold {
		reasons = append(reasons, ReasonBiology)
	}
	if len(reasons) == 0 {
		reasons = []string{ReasonNeutral}
	}

	return Assessment{Score: clamp01(score), Reasons: reasons}
}

// Scorer maps a pose sequence, oldest first, to a consistency score in [0,1].
type Scorer func(seq []landmarks.Pose) float64

// Engine computes an Assessment from a pose window.
type Engine struct {
	Physics  Scorer
	Temporal Scorer
	Biology  Scorer
}

// NewEngine returns an engine with the default scorers.
func NewEngine() *Engine {
	return &Engine{
		Physics:  PhysicsScore,
		Temporal: TemporalScore,
		Biology:  BiologyScore,
	}
}

// Assess fuses the scorers over seq. ok is false when seq is shorter than
// buffer.PoseMinSamples and nothing was computed.
func (e *Engine) Assess(seq []landmarks.Pose) (Assessment, bool) {
	if len(seq) < buffer.PoseMinSamples {
		return Assessment{}, false
	}
	return Fuse(run(e.Physics, seq), run(e.Temporal, seq), run(e.Biology, seq)), true
}

func run(s Scorer, seq []landmarks.Pose) float64 {
	if s == nil {
		return 0
	}
	return s(seq)
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
