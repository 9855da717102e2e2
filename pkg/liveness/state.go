// Package liveness runs the challenge-response session that decides whether
// the subject in front of the camera is a live person: calibrate, turn the
// head left, smile, blink.
package liveness

import (
	"fmt"
	"time"
)

// Timing policy for the challenge sequence.
const (
	CalibrationDuration = 3 * time.Second
	TurnHold            = 500 * time.Millisecond
	SmileHold           = time.Second
	ChallengeTimeout    = 8 * time.Second
	FailureCooldown     = 2 * time.Second
	EyesClosedLimit     = 1500 * time.Millisecond
)

// Human-authenticity score reached on entering each stage.
const (
	ScoreSearching   = 0.1
	ScoreCalibrated  = 0.3
	ScoreTurned      = 0.5
	ScoreSmiled      = 0.75
	ScoreVerified    = 0.98
	confidenceMargin = 0.1
)

// Violation strings reported in violated_rules.
const (
	ViolationNoFace     = "No Face Detected"
	ViolationQuality    = "3D Features Mismatch (Low Quality)"
	ViolationEyesClosed = "Eye Gaze Not Proper (Eyes Closed)"
	ReasonNoTurn        = "Did Not Turn Head"
	ReasonNoSmile       = "Did Not Smile"
	ReasonNoBlink       = "Did Not Blink"
)

// Prompts shown to the subject.
const (
	PromptInitializing = "INITIALIZING..."
	PromptSearching    = "WAITING FOR SUBJECT..."
	PromptAlign        = "Align Face & Hold Still..."
	PromptCalibrating  = "Calibrating Sensors..."
	PromptTurn         = "ACTION: Turn Head LEFT"
	PromptSmile        = "ACTION: Smile"
	PromptBlink        = "ACTION: Blink Eyes"
	PromptVerified     = "AUTHENTIC HUMAN CONFIRMED"
	promptFailedPrefix = "FAILED: "
)

// State is a stage of the challenge sequence.
type State int

const (
	StateSearching State = iota
	StateCalibrating
	StateChallengeTurn
	StateChallengeSmile
	StateChallengeBlink
	StateVerified
	StateFailed
)

var stateNames = map[State]string{
	StateSearching:      "SEARCHING",
	StateCalibrating:    "CALIBRATING",
	StateChallengeTurn:  "CHALLENGE_TURN",
	StateChallengeSmile: "CHALLENGE_SMILE",
	StateChallengeBlink: "CHALLENGE_BLINK",
	StateVerified:       "VERIFIED",
	StateFailed:         "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateSearching, fmt.Errorf("unknown state %q", name)
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Phase is the current state together with the data only that state uses.
type Phase struct {
	State   State
	Entered time.Time

	// HoldStart is when the sustained condition of a turn or smile challenge
	// became true; zero while it is false.
	HoldStart time.Time
	// BlinkReady latches a closed-eye observation during the blink challenge.
	BlinkReady bool
	// Reason is the failure cause while in StateFailed.
	Reason string
}

// Prompt returns the instruction shown for the phase.
func (p Phase) Prompt() string {
	switch p.State {
	case StateCalibrating:
		return PromptCalibrating
	case StateChallengeTurn:
		return PromptTurn
	case StateChallengeSmile:
		return PromptSmile
	case StateChallengeBlink:
		return PromptBlink
	case StateVerified:
		return PromptVerified
	case StateFailed:
		return promptFailedPrefix + p.Reason
	default:
		return PromptSearching
	}
}

// Checks records which stages of the sequence have been passed.
type Checks struct {
	Calibrated bool `json:"calibrated"`
	Turned     bool `json:"turned"`
	Smiled     bool `json:"smiled"`
	Blinked    bool `json:"blinked"`
}

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
