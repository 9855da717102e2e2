package liveness

import (
	"math"
	"time"
)

// Layer identifies this engine in reports.
const Layer = "human"

// Report is the immutable per-frame output. Every slice is freshly
// allocated, so a published report never aliases session state.
type Report struct {
	Layer              string     `json:"layer"`
	SessionID          string     `json:"session_id"`
	State              State      `json:"state"`
	Score              float64    `json:"score"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`
	Quality            float64    `json:"quality"`
	TrustScore         float64    `json:"trust_score"`
	TrustPercent       float64    `json:"trust_percent"`
	CombinedScore      float64    `json:"combined_score"`
	ViolatedRules      []string   `json:"violated_rules"`
	Prompt             string     `json:"prompt"`
	RPPGWave           []float64  `json:"rppg_wave"`
	Checks             Checks     `json:"checks"`
	Timestamp          time.Time  `json:"timestamp"`
}

// InitialReport is served before the first frame has been processed.
func InitialReport() Report {
	return Report{
		Layer:              Layer,
		State:              StateSearching,
		ConfidenceInterval: confidenceInterval(0),
		ViolatedRules:      []string{},
		Prompt:             PromptInitializing,
		RPPGWave:           []float64{},
		Timestamp:          time.Now(),
	}
}

// reportBuilder collects frame-local violations and assembles the Report
// from the session once the state machine has run.
type reportBuilder struct {
	s          *Session
	violations []string
	seen       map[string]bool
}

func newReportBuilder(s *Session) *reportBuilder {
	return &reportBuilder{s: s, seen: make(map[string]bool)}
}

func (b *reportBuilder) violate(rule string) {
	if rule == "" || b.seen[rule] {
		return
	}
	b.seen[rule] = true
	b.violations = append(b.violations, rule)
}

func (b *reportBuilder) build(prompt string) Report {
	s := b.s
	if s.hasTrust {
		for _, r := range s.assessment.Violations() {
			b.violate(r)
		}
	}

	rules := make([]string, len(b.violations))
	copy(rules, b.violations)

	score := round2(s.score)
	combined := score
	var trustScore, trustPercent float64
	if s.hasTrust {
		trustScore = round2(s.assessment.Score)
		trustPercent = s.assessment.Percent()
		combined = round2(0.5*s.score + 0.5*s.assessment.Score)
	}

	return Report{
		Layer:              Layer,
		SessionID:          s.id,
		State:              s.phase.State,
		Score:              score,
		ConfidenceInterval: confidenceInterval(s.score),
		Quality:            round2(s.quality),
		TrustScore:         trustScore,
		TrustPercent:       trustPercent,
		CombinedScore:      combined,
		ViolatedRules:      rules,
		Prompt:             prompt,
		RPPGWave:           s.pulse.Waveform(),
		Checks:             s.checks,
		Timestamp:          s.now,
	}
}

func confidenceInterval(score float64) [2]float64 {
	return [2]float64{
		math.Max(0, round2(score-confidenceMargin)),
		math.Min(1, round2(score+confidenceMargin)),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
