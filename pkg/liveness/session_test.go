package liveness

import (
	"encoding/json"
	"errors"
	"image"
	"reflect"
	"testing"
	"time"

	"github.com/MrCodeEU/sentinel/pkg/features/featurestest"
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
	"github.com/MrCodeEU/sentinel/pkg/trust"
)

// harness drives a session with a fake clock and a settable yaw.
type harness struct {
	t       *testing.T
	clock   *MockClock
	yaw     float64
	yawErr  error
	session *Session
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, clock: NewMockClock()}
	est := &MockYawEstimator{EstimateYawFunc: func(*landmarks.Face, int, int) (float64, error) {
		return h.yaw, h.yawErr
	}}
	opts = append([]Option{WithClock(h.clock), WithYawEstimator(est), WithID("test-session")}, opts...)
	h.session = NewSession(opts...)
	return h
}

func (h *harness) frame(face *landmarks.Face) Report {
	h.t.Helper()
	r, err := h.session.Process(Observation{Face: face, Width: featurestest.Width, Height: featurestest.Height})
	if err != nil {
		h.t.Fatalf("Process failed: %v", err)
	}
	return r
}

func (h *harness) after(d time.Duration, face *landmarks.Face) Report {
	h.t.Helper()
	h.clock.Advance(d)
	return h.frame(face)
}

func (h *harness) expectState(r Report, want State) {
	h.t.Helper()
	if r.State != want {
		h.t.Fatalf("state = %v, want %v (prompt %q, rules %v)", r.State, want, r.Prompt, r.ViolatedRules)
	}
}

func openFace() *landmarks.Face { return featurestest.NewFace(featurestest.Open()) }

func smilingFace() *landmarks.Face {
	o := featurestest.Open()
	o.Smile = 0.5
	return featurestest.NewFace(o)
}

func closedFace() *landmarks.Face {
	o := featurestest.Open()
	o.EAR = 0.1
	return featurestest.NewFace(o)
}

// toTurn runs the session through calibration.
func (h *harness) toTurn() {
	h.t.Helper()
	h.expectState(h.frame(openFace()), StateCalibrating)
	h.expectState(h.after(CalibrationDuration, openFace()), StateChallengeTurn)
}

func (h *harness) toSmile() {
	h.t.Helper()
	h.toTurn()
	h.yaw = -25
	h.expectState(h.after(100*time.Millisecond, openFace()), StateChallengeTurn)
	h.expectState(h.after(TurnHold, openFace()), StateChallengeSmile)
	h.yaw = 0
}

func (h *harness) toBlink() {
	h.t.Helper()
	h.toSmile()
	h.expectState(h.after(100*time.Millisecond, smilingFace()), StateChallengeSmile)
	h.expectState(h.after(SmileHold, smilingFace()), StateChallengeBlink)
}

func contains(rules []string, rule string) bool {
	for _, r := range rules {
		if r == rule {
			return true
		}
	}
	return false
}

func TestSession_FullSequence(t *testing.T) {
	h := newHarness(t)

	var reports []Report
	record := func(r Report) Report {
		reports = append(reports, r)
		return r
	}

	r := record(h.frame(openFace()))
	h.expectState(r, StateCalibrating)
	if r.Prompt != PromptAlign || r.Score != ScoreSearching {
		t.Errorf("entry report = %q / %f", r.Prompt, r.Score)
	}

	r = record(h.after(time.Second, openFace()))
	h.expectState(r, StateCalibrating)
	if r.Prompt != PromptCalibrating {
		t.Errorf("prompt = %q", r.Prompt)
	}

	r = record(h.after(2*time.Second, openFace()))
	h.expectState(r, StateChallengeTurn)
	if !r.Checks.Calibrated || r.Score != ScoreCalibrated || r.Prompt != PromptTurn {
		t.Errorf("after calibration: %+v", r)
	}

	h.yaw = -25
	record(h.after(200*time.Millisecond, openFace()))
	r = record(h.after(500*time.Millisecond, openFace()))
	h.expectState(r, StateChallengeSmile)
	if !r.Checks.Turned || r.Score != ScoreTurned || r.Prompt != PromptSmile {
		t.Errorf("after turn: %+v", r)
	}
	h.yaw = 0

	record(h.after(200*time.Millisecond, smilingFace()))
	r = record(h.after(time.Second, smilingFace()))
	h.expectState(r, StateChallengeBlink)
	if !r.Checks.Smiled || r.Score != ScoreSmiled || r.Prompt != PromptBlink {
		t.Errorf("after smile: %+v", r)
	}

	record(h.after(100*time.Millisecond, closedFace()))
	r = record(h.after(100*time.Millisecond, openFace()))
	h.expectState(r, StateVerified)
	if !r.Checks.Blinked || r.Score != ScoreVerified || r.Prompt != PromptVerified {
		t.Errorf("after blink: %+v", r)
	}

	r = record(h.after(5*time.Second, openFace()))
	h.expectState(r, StateVerified)

	for i := 1; i < len(reports); i++ {
		if reports[i].Score < reports[i-1].Score {
			t.Errorf("score decreased from %f to %f at report %d", reports[i-1].Score, reports[i].Score, i)
		}
		if len(reports[i].ViolatedRules) != 0 {
			t.Errorf("unexpected violations %v at report %d", reports[i].ViolatedRules, i)
		}
	}
}

func TestSession_ChallengeTimeouts(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		face   func() *landmarks.Face
		reason string
	}{
		{"turn", (*harness).toTurn, openFace, ReasonNoTurn},
		{"smile", (*harness).toSmile, openFace, ReasonNoSmile},
		{"blink", (*harness).toBlink, openFace, ReasonNoBlink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			r := h.after(ChallengeTimeout-time.Millisecond, tt.face())
			if r.State == StateFailed {
				t.Fatal("failed before the timeout")
			}

			r = h.after(time.Millisecond, tt.face())
			h.expectState(r, StateFailed)
			if !contains(r.ViolatedRules, tt.reason) {
				t.Errorf("violated_rules %v missing %q", r.ViolatedRules, tt.reason)
			}
			if r.Prompt != "FAILED: "+tt.reason || r.Score != 0 {
				t.Errorf("failed report: prompt %q score %f", r.Prompt, r.Score)
			}

			r = h.after(FailureCooldown-time.Millisecond, tt.face())
			h.expectState(r, StateFailed)
			if !contains(r.ViolatedRules, tt.reason) {
				t.Error("reason must stay reported while failed")
			}

			r = h.after(time.Millisecond, tt.face())
			h.expectState(r, StateSearching)
			if contains(r.ViolatedRules, tt.reason) {
				t.Error("reason must clear after the cool-down")
			}

			r = h.after(100*time.Millisecond, tt.face())
			h.expectState(r, StateCalibrating)
			if r.Checks != (Checks{}) {
				t.Errorf("restarted sequence kept checks %+v", r.Checks)
			}
		})
	}
}

func TestSession_TurnHoldResetsOnInterruption(t *testing.T) {
	h := newHarness(t)
	h.toTurn()

	h.yaw = -25
	h.after(100*time.Millisecond, openFace())
	h.yaw = -10
	h.after(400*time.Millisecond, openFace())
	if !h.session.Phase().HoldStart.IsZero() {
		t.Fatal("hold timer must clear when the condition drops")
	}

	h.yaw = -25
	h.expectState(h.after(100*time.Millisecond, openFace()), StateChallengeTurn)
	h.expectState(h.after(400*time.Millisecond, openFace()), StateChallengeTurn)
	h.expectState(h.after(100*time.Millisecond, openFace()), StateChallengeSmile)
}

func TestSession_TurnHeldPastTimeout(t *testing.T) {
	h := newHarness(t)
	h.toTurn()

	h.after(ChallengeTimeout-100*time.Millisecond, openFace())
	h.yaw = -25
	h.expectState(h.after(50*time.Millisecond, openFace()), StateChallengeTurn)
	h.expectState(h.after(200*time.Millisecond, openFace()), StateChallengeTurn)
	h.expectState(h.after(300*time.Millisecond, openFace()), StateChallengeSmile)
}

func TestSession_YawSequence(t *testing.T) {
	h := newHarness(t)
	h.toTurn()

	samples := []float64{-5, -20, -20, -20, -20}
	var r Report
	for i, yaw := range samples {
		h.yaw = yaw
		r = h.after(200*time.Millisecond, openFace())
		if i < 4 {
			h.expectState(r, StateChallengeTurn)
		}
	}
	h.expectState(r, StateChallengeSmile)
	if !r.Checks.Turned {
		t.Error("turned check not set")
	}
}

func TestSession_YawErrorCountsAsNotTurned(t *testing.T) {
	h := newHarness(t)
	h.toTurn()

	h.yaw = -25
	h.after(100*time.Millisecond, openFace())
	h.yawErr = errors.New("solver diverged")
	h.expectState(h.after(time.Second, openFace()), StateChallengeTurn)
	if !h.session.Phase().HoldStart.IsZero() {
		t.Error("yaw error must clear the hold timer")
	}
}

func TestSession_NoFace(t *testing.T) {
	h := newHarness(t)
	h.toSmile()

	for i := 0; i < 5; i++ {
		r := h.after(100*time.Millisecond, nil)
		h.expectState(r, StateSearching)
		if !contains(r.ViolatedRules, ViolationNoFace) {
			t.Errorf("frame %d: violated_rules %v", i, r.ViolatedRules)
		}
		if r.Score != 0 || r.Quality != 0 {
			t.Errorf("frame %d: score %f quality %f", i, r.Score, r.Quality)
		}
		if r.Prompt != PromptSearching {
			t.Errorf("frame %d: prompt %q", i, r.Prompt)
		}
	}

	r := h.after(100*time.Millisecond, openFace())
	h.expectState(r, StateCalibrating)
	if r.Checks != (Checks{}) {
		t.Errorf("checks not reset: %+v", r.Checks)
	}
}

func TestSession_EyesClosedViolation(t *testing.T) {
	h := newHarness(t)

	r := h.frame(closedFace())
	h.expectState(r, StateCalibrating)
	if contains(r.ViolatedRules, ViolationEyesClosed) {
		t.Error("violation raised immediately")
	}

	r = h.after(EyesClosedLimit, closedFace())
	if contains(r.ViolatedRules, ViolationEyesClosed) {
		t.Error("violation raised at exactly the limit")
	}

	r = h.after(100*time.Millisecond, closedFace())
	h.expectState(r, StateCalibrating)
	if !contains(r.ViolatedRules, ViolationEyesClosed) {
		t.Errorf("violated_rules %v missing eyes-closed", r.ViolatedRules)
	}

	r = h.after(100*time.Millisecond, openFace())
	if contains(r.ViolatedRules, ViolationEyesClosed) {
		t.Error("violation must clear once eyes open")
	}
}

func TestSession_EyesClosedIgnoredDuringBlink(t *testing.T) {
	h := newHarness(t)
	h.toBlink()

	h.after(100*time.Millisecond, closedFace())
	r := h.after(2*time.Second, closedFace())
	h.expectState(r, StateChallengeBlink)
	if contains(r.ViolatedRules, ViolationEyesClosed) {
		t.Error("closed eyes are expected during the blink challenge")
	}

	h.expectState(h.after(3*time.Second, openFace()), StateVerified)
}

func TestSession_BlinkDeadZoneDoesNotFire(t *testing.T) {
	h := newHarness(t)
	h.toBlink()

	dead := featurestest.Open()
	dead.EAR = 0.24
	h.expectState(h.after(100*time.Millisecond, featurestest.NewFace(dead)), StateChallengeBlink)
	h.expectState(h.after(100*time.Millisecond, openFace()), StateChallengeBlink)
	if h.session.Phase().BlinkReady {
		t.Error("dead-zone EAR must not latch a blink")
	}
}

func TestSession_LowQuality(t *testing.T) {
	h := newHarness(t)
	o := featurestest.Open()
	o.Quality = 0.2

	r := h.frame(featurestest.NewFace(o))
	h.expectState(r, StateCalibrating)
	if !contains(r.ViolatedRules, ViolationQuality) || r.Quality != 0.2 {
		t.Errorf("rules %v quality %f", r.ViolatedRules, r.Quality)
	}

	h.expectState(h.after(CalibrationDuration, featurestest.NewFace(o)), StateChallengeTurn)
}

func TestSession_DegenerateFrame(t *testing.T) {
	h := newHarness(t)
	h.toSmile()

	face := smilingFace()
	face.Points[landmarks.FaceJawRight] = face.Points[landmarks.FaceJawLeft]
	r := h.after(100*time.Millisecond, face)
	h.expectState(r, StateChallengeSmile)
	if !contains(r.ViolatedRules, ViolationQuality) {
		t.Errorf("degenerate frame rules %v", r.ViolatedRules)
	}
	if !h.session.Phase().HoldStart.IsZero() {
		t.Error("degenerate frame must not count as smiling")
	}
}

func TestSession_InvalidObservation(t *testing.T) {
	h := newHarness(t)
	h.toTurn()
	before := h.session.Phase()

	h.clock.Advance(time.Second)
	_, err := h.session.Process(Observation{
		Face:   &landmarks.Face{Points: make([]landmarks.Point, 10)},
		Width:  featurestest.Width,
		Height: featurestest.Height,
	})
	if !errors.Is(err, ErrInvalidObservation) {
		t.Fatalf("expected ErrInvalidObservation, got %v", err)
	}
	if h.session.Phase() != before {
		t.Error("a bad frame must not change the session")
	}
}

func TestSession_Trust(t *testing.T) {
	fixed := func(v float64) trust.Scorer {
		return func([]landmarks.Pose) float64 { return v }
	}
	engine := &trust.Engine{Physics: fixed(0.2), Temporal: fixed(1), Biology: fixed(1)}
	h := newHarness(t, WithTrustEngine(engine))

	pose := &landmarks.Pose{Points: make([]landmarks.PosePoint, landmarks.NumPosePoints)}
	obs := Observation{Pose: pose, Width: featurestest.Width, Height: featurestest.Height}

	for i := 0; i < 14; i++ {
		r, err := h.session.Process(obs)
		if err != nil {
			t.Fatal(err)
		}
		if r.TrustScore != 0 || contains(r.ViolatedRules, trust.ReasonPhysics) {
			t.Fatalf("trust computed after %d poses", i+1)
		}
	}

	r, err := h.session.Process(obs)
	if err != nil {
		t.Fatal(err)
	}
	if r.TrustScore != 0.68 || r.TrustPercent != 68 {
		t.Errorf("trust = %f / %f%%", r.TrustScore, r.TrustPercent)
	}
	if !contains(r.ViolatedRules, trust.ReasonPhysics) || !contains(r.ViolatedRules, ViolationNoFace) {
		t.Errorf("violated_rules = %v", r.ViolatedRules)
	}
	if r.CombinedScore != 0.34 {
		t.Errorf("combined = %f, want 0.34", r.CombinedScore)
	}

	engine.Physics = fixed(1)
	r = h.frame(openFace())
	for _, rule := range r.ViolatedRules {
		if trust.IsNeutral(rule) {
			t.Error("neutral placeholder reported as a violation")
		}
	}
	if r.CombinedScore != 0.55 {
		t.Errorf("combined = %f, want 0.55", r.CombinedScore)
	}
}

func TestSession_ReportImmutable(t *testing.T) {
	h := newHarness(t)
	green := 0.0
	sampler := &MockSampler{MeanGreenFunc: func(image.Rectangle) (float64, error) {
		green += 7
		return green, nil
	}}
	obs := func() Observation {
		return Observation{Face: closedFace(), Width: featurestest.Width, Height: featurestest.Height, Pixels: sampler}
	}

	var r Report
	for i := 0; i < 20; i++ {
		h.clock.Advance(100 * time.Millisecond)
		var err error
		if r, err = h.session.Process(obs()); err != nil {
			t.Fatal(err)
		}
	}
	if len(r.RPPGWave) != 20 || len(r.ViolatedRules) == 0 {
		t.Fatalf("wave %d rules %v", len(r.RPPGWave), r.ViolatedRules)
	}

	snapshot, _ := json.Marshal(r)
	r.RPPGWave[0] = 42
	r.ViolatedRules[0] = "tampered"

	h.clock.Advance(100 * time.Millisecond)
	next, err := h.session.Process(obs())
	if err != nil {
		t.Fatal(err)
	}
	if next.RPPGWave[0] == 42 || contains(next.ViolatedRules, "tampered") {
		t.Error("mutating a report leaked into the session")
	}

	var decoded Report
	if err := json.Unmarshal(snapshot, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.RPPGWave[0] == 42 {
		t.Error("snapshot aliases the report")
	}
}

func TestReport_JSON(t *testing.T) {
	h := newHarness(t)
	h.toTurn()
	r := h.frame(openFace())

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"layer", "session_id", "state", "score", "confidence_interval", "quality",
		"trust_score", "trust_percent", "combined_score", "violated_rules", "prompt", "rppg_wave", "checks", "timestamp"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q", key)
		}
	}
	if fields["state"] != "CHALLENGE_TURN" || fields["layer"] != "human" {
		t.Errorf("state %v layer %v", fields["state"], fields["layer"])
	}

	var back Report
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back.Checks, r.Checks) || back.State != r.State {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestInitialReport(t *testing.T) {
	r := InitialReport()
	if r.Prompt != PromptInitializing || r.Score != 0 || r.Quality != 0 || r.State != StateSearching {
		t.Errorf("initial report = %+v", r)
	}
	if r.ViolatedRules == nil || r.RPPGWave == nil {
		t.Error("initial slices must be empty, not nil")
	}
}

func TestConfidenceInterval(t *testing.T) {
	tests := []struct {
		score float64
		want  [2]float64
	}{
		{0, [2]float64{0, 0.1}},
		{0.5, [2]float64{0.4, 0.6}},
		{0.98, [2]float64{0.88, 1}},
	}
	for _, tt := range tests {
		if got := confidenceInterval(tt.score); got != tt.want {
			t.Errorf("confidenceInterval(%f) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestState_Names(t *testing.T) {
	for s := StateSearching; s <= StateFailed; s++ {
		parsed, err := ParseState(s.String())
		if err != nil || parsed != s {
			t.Errorf("ParseState(%q) = %v, %v", s.String(), parsed, err)
		}
	}
	if _, err := ParseState("DANCING"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func BenchmarkSession_Process(b *testing.B) {
	clock := NewMockClock()
	s := NewSession(WithClock(clock), WithID("bench"))
	obs := Observation{Face: openFace(), Width: featurestest.Width, Height: featurestest.Height}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Advance(33 * time.Millisecond)
		_, _ = s.Process(obs)
	}
}
