package liveness

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/sentinel/pkg/buffer"
	"github.com/MrCodeEU/sentinel/pkg/features"
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
	"github.com/MrCodeEU/sentinel/pkg/logging"
	"github.com/MrCodeEU/sentinel/pkg/trust"
)

// ErrInvalidObservation is returned when a frame cannot be evaluated. The
// session is left untouched.
var ErrInvalidObservation = errors.New("invalid observation")

// Observation is everything the detectors produced for one frame.
type Observation struct {
	// Face is nil when no face was detected.
	Face *landmarks.Face
	// Pose is nil when no body pose was detected.
	Pose *landmarks.Pose

	Width, Height int

	// Pixels gives access to the raw frame for the forehead sample. Optional.
	Pixels features.PatchSampler
}

// Session is one verification attempt. It is not safe for concurrent use;
// a single goroutine feeds it frames in order.
type Session struct {
	id        string
	clock     Clock
	extractor *features.Extractor
	engine    *trust.Engine
	log       *logrus.Entry

	phase       Phase
	checks      Checks
	eyesClosed  bool
	closedSince time.Time
	score       float64
	quality     float64
	assessment  trust.Assessment
	hasTrust    bool
	pulse       *buffer.PulseBuffer
	poses       *buffer.PoseWindow

	// now is the clock reading for the frame being processed.
	now time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithYawEstimator sets the head-pose estimator used by the extractor.
func WithYawEstimator(y features.YawEstimator) Option {
	return func(s *Session) { s.extractor = features.NewExtractor(y) }
}

// WithTrustEngine replaces the default trust engine.
func WithTrustEngine(e *trust.Engine) Option {
	return func(s *Session) { s.engine = e }
}

// WithID sets the session identifier instead of a random one.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// NewSession starts a session in SEARCHING.
func NewSession(opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		clock:     SystemClock{},
		extractor: features.NewExtractor(nil),
		engine:    trust.NewEngine(),
		pulse:     buffer.NewPulseBuffer(),
		poses:     buffer.NewPoseWindow(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component("liveness").WithField("session", s.id)
	s.phase = Phase{State: StateSearching, Entered: s.clock.Now()}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Checks returns the passed stages.
func (s *Session) Checks() Checks { return s.checks }

// Process evaluates one frame and returns its report. An error means the
// frame carried an unusable face mesh; nothing in the session changed.
func (s *Session) Process(obs Observation) (Report, error) {
	s.now = s.clock.Now()

	var feat features.Features
	if obs.Face != nil {
		var err error
		feat, err = s.extractor.Extract(obs.Face, obs.Width, obs.Height, obs.Pixels)
		if err != nil {
			return Report{}, fmt.Errorf("%w: %v", ErrInvalidObservation, err)
		}
	}

	if obs.Pose != nil {
		s.poses.Add(*obs.Pose)
	}
	if a, ok := s.engine.Assess(s.poses.Sequence()); ok {
		s.assessment = a
		s.hasTrust = true
	}

	b := newReportBuilder(s)

	if obs.Face == nil {
		s.lostFace()
		b.violate(ViolationNoFace)
		return b.build(PromptSearching), nil
	}

	s.quality = feat.Quality
	if feat.ForeheadOK {
		s.pulse.Add(feat.Forehead)
	}
	if feat.LowQuality() {
		b.violate(ViolationQuality)
	}

	if !feat.Degenerate {
		closed := features.NextEyesClosed(s.eyesClosed, feat.EAR)
		if closed && !s.eyesClosed {
			s.closedSince = s.now
		}
		s.eyesClosed = closed
	}
	if s.eyesClosed && s.phase.State != StateChallengeBlink && s.since(s.closedSince) > EyesClosedLimit {
		b.violate(ViolationEyesClosed)
	}

	prompt := s.step(feat)
	if s.phase.State == StateFailed {
		b.violate(s.phase.Reason)
	}
	return b.build(prompt), nil
}

// step advances the state machine and returns the prompt for this frame.
func (s *Session) step(feat features.Features) string {
	switch s.phase.State {
	case StateSearching:
		s.checks = Checks{}
		s.score = ScoreSearching
		s.enter(StateCalibrating)
		return PromptAlign

	case StateCalibrating:
		if s.since(s.phase.Entered) >= CalibrationDuration {
			s.checks.Calibrated = true
			s.score = ScoreCalibrated
			s.enter(StateChallengeTurn)
		}

	case StateChallengeTurn:
		if s.hold(feat.TurnedLeft(), TurnHold) {
			s.checks.Turned = true
			s.score = ScoreTurned
			s.enter(StateChallengeSmile)
		} else if s.phase.HoldStart.IsZero() && s.since(s.phase.Entered) >= ChallengeTimeout {
			s.fail(ReasonNoTurn)
		}

	case StateChallengeSmile:
		if s.hold(feat.Smiling, SmileHold) {
			s.checks.Smiled = true
			s.score = ScoreSmiled
			s.enter(StateChallengeBlink)
		} else if s.phase.HoldStart.IsZero() && s.since(s.phase.Entered) >= ChallengeTimeout {
			s.fail(ReasonNoSmile)
		}

	case StateChallengeBlink:
		if !feat.Degenerate {
			if feat.EAR < features.EARClose {
				s.phase.BlinkReady = true
			}
			if s.phase.BlinkReady && feat.EAR > features.EAROpen {
				s.checks.Blinked = true
				s.score = ScoreVerified
				s.enter(StateVerified)
				break
			}
		}
		if s.since(s.phase.Entered) >= ChallengeTimeout {
			s.fail(ReasonNoBlink)
		}

	case StateVerified:
		s.score = ScoreVerified

	case StateFailed:
		s.score = 0
		if s.since(s.phase.Entered) >= FailureCooldown {
			s.enter(StateSearching)
		}
	}
	return s.phase.Prompt()
}

// hold tracks a sustained condition with a single start timestamp and
// reports whether it has now been true for at least d. A false condition
// clears the timer.
func (s *Session) hold(cond bool, d time.Duration) bool {
	if !cond {
		s.phase.HoldStart = time.Time{}
		return false
	}
	if s.phase.HoldStart.IsZero() {
		s.phase.HoldStart = s.now
	}
	return s.since(s.phase.HoldStart) >= d
}

// since is the only elapsed-time computation in the session.
func (s *Session) since(t time.Time) time.Duration {
	return s.now.Sub(t)
}

func (s *Session) enter(state State) {
	if state != s.phase.State {
		s.log.WithFields(logging.Fields{
			"from": s.phase.State.String(),
			"to":   state.String(),
		}).Info("state transition")
	}
	s.phase = Phase{State: state, Entered: s.now}
}

func (s *Session) fail(reason string) {
	s.log.WithFields(logging.Fields{
		"state":  s.phase.State.String(),
		"reason": reason,
	}).Warn("challenge failed")
	s.phase = Phase{State: StateFailed, Entered: s.now, Reason: reason}
	s.score = 0
}

// lostFace forces the session back to SEARCHING.
func (s *Session) lostFace() {
	if s.phase.State != StateSearching {
		s.log.WithField("from", s.phase.State.String()).Info("subject lost")
		s.phase = Phase{State: StateSearching, Entered: s.now}
	}
	s.score = 0
	s.quality = 0
	s.eyesClosed = false
	s.closedSince = time.Time{}
}
