package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/sentinel/pkg/camera"
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
	"github.com/MrCodeEU/sentinel/pkg/liveness"
	"github.com/MrCodeEU/sentinel/pkg/logging"
	"github.com/MrCodeEU/sentinel/pkg/vision"
)

// Opener opens a frame source for a target string.
type Opener func(target string) (camera.Source, error)

// SessionFactory creates a fresh liveness session driven by clock, which
// reports the timestamp of the frame being processed.
type SessionFactory func(clock liveness.Clock) *liveness.Session

// Outcome is the explicit result of processing one frame.
type Outcome struct {
	Report liveness.Report
	JPEG   []byte

	// Skipped is set when the frame produced no report; Reason says why
	// and Err carries the cause.
	Skipped bool
	Reason  string
	Err     error
}

// Config tunes the runner.
type Config struct {
	// DetectTimeout bounds one detector round trip.
	DetectTimeout time.Duration
	// RetryInitial and RetryMax bound the source retry backoff.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// StopAtEnd makes Run return when a source ends. Otherwise the runner
	// idles until a source switch or cancellation.
	StopAtEnd bool
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		DetectTimeout: 500 * time.Millisecond,
		RetryInitial:  250 * time.Millisecond,
		RetryMax:      5 * time.Second,
	}
}

// Runner processes frames strictly in order on the goroutine that calls Run.
type Runner struct {
	cfg        Config
	detector   landmarks.Detector
	open       Opener
	newSession SessionFactory

	reports  *ReportCell
	frames   *FrameCell
	clock    *FrameClock
	switches chan string

	// OnReport, when set, is called on the processing goroutine with every
	// report. It must not block.
	OnReport func(liveness.Report)

	source  camera.Source
	session *liveness.Session
	log     *logrus.Entry
}

// NewRunner creates a runner. Call Run to start processing.
func NewRunner(cfg Config, detector landmarks.Detector, open Opener, newSession SessionFactory) *Runner {
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = DefaultConfig().DetectTimeout
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = DefaultConfig().RetryInitial
	}
	return &Runner{
		cfg:        cfg,
		detector:   detector,
		open:       open,
		newSession: newSession,
		reports:    NewReportCell(),
		frames:     &FrameCell{},
		clock:      &FrameClock{},
		switches:   make(chan string, 1),
		log:        logging.Component("pipeline"),
	}
}

// Reports returns the latest-report cell.
func (r *Runner) Reports() *ReportCell { return r.reports }

// Frames returns the latest-frame cell.
func (r *Runner) Frames() *FrameCell { return r.frames }

// SwitchSource asks the runner to replace its source with target between
// frames. A newer request replaces one not yet applied.
func (r *Runner) SwitchSource(target string) {
	for {
		select {
		case r.switches <- target:
			return
		default:
		}
		select {
		case <-r.switches:
		default:
		}
	}
}

// Start opens the first source and session. Run calls it when needed.
func (r *Runner) Start(target string) error {
	src, err := r.open(target)
	if err != nil {
		return fmt.Errorf("failed to open source %s: %w", target, err)
	}
	r.source = src
	r.session = r.newSession(r.clock)
	r.log.WithFields(logging.Fields{"source": src.Name(), "session": r.session.ID()}).Info("pipeline started")
	return nil
}

// Run processes frames from target until ctx is done. Source failures are
// retried with backoff. When a source ends, Run returns nil if StopAtEnd is
// set and otherwise waits for the next SwitchSource.
func (r *Runner) Run(ctx context.Context, target string) error {
	if r.source == nil {
		if err := r.Start(target); err != nil {
			return err
		}
	}
	defer r.closeSource()

	backoff := &Backoff{Initial: r.cfg.RetryInitial, Max: r.cfg.RetryMax}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next := <-r.switches:
			r.apply(next)
			backoff.Reset()
		default:
		}

		out := r.Step(ctx)
		switch {
		case out.Err == nil:
			backoff.Reset()
		case errors.Is(out.Err, camera.ErrEndOfStream):
			r.log.WithField("source", r.source.Name()).Info("end of stream")
			if r.cfg.StopAtEnd {
				return nil
			}
			r.log.Warn("source exhausted, waiting for a source switch")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case next := <-r.switches:
				r.apply(next)
				backoff.Reset()
			}
		case errors.Is(out.Err, context.Canceled), errors.Is(out.Err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return ctx.Err()
			}
		case errors.Is(out.Err, camera.ErrCameraUnavailable), errors.Is(out.Err, camera.ErrCameraNotOpen):
			wait := backoff.Next()
			r.log.WithError(out.Err).WithField("retry_in", wait.String()).Warn("frame source failed")
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
}

// Step processes exactly one frame from the current source.
func (r *Runner) Step(ctx context.Context) Outcome {
	if r.source == nil {
		return skipped("no source", camera.ErrCameraNotOpen)
	}

	frame, err := r.source.Read(ctx)
	if err != nil {
		return skipped("read failed", err)
	}
	defer frame.Close()

	jpeg, err := vision.EncodeJPEG(frame.Mat)
	if err != nil {
		r.log.WithError(err).Debug("frame encode failed")
		return skipped("encode failed", err)
	}
	r.frames.Store(jpeg)

	dctx, cancel := context.WithTimeout(ctx, r.cfg.DetectTimeout)
	face, pose, err := r.detector.Detect(dctx, jpeg)
	cancel()
	if err != nil {
		r.log.WithError(err).Warn("landmark detection failed, frame skipped")
		return skipped("detection failed", err)
	}

	r.clock.Set(frame.Timestamp)
	report, err := r.session.Process(liveness.Observation{
		Face:   face,
		Pose:   pose,
		Width:  frame.Width,
		Height: frame.Height,
		Pixels: vision.NewMatFrame(frame.Mat),
	})
	if err != nil {
		r.log.WithError(err).Warn("frame rejected by session")
		return skipped("invalid landmarks", err)
	}

	r.reports.Store(report)
	if r.OnReport != nil {
		r.OnReport(report)
	}
	return Outcome{Report: report, JPEG: jpeg}
}

// apply opens target and, on success, swaps in a fresh session.
func (r *Runner) apply(target string) {
	src, err := r.open(target)
	if err != nil {
		r.log.WithError(err).WithField("source", target).Error("source switch failed, keeping current source")
		return
	}
	r.closeSource()
	r.source = src
	// The new source has its own timeline
	r.clock.Set(time.Time{})
	r.session = r.newSession(r.clock)
	r.log.WithFields(logging.Fields{"source": src.Name(), "session": r.session.ID()}).Info("source switched")
}

func (r *Runner) closeSource() {
	if r.source == nil {
		return
	}
	if err := r.source.Close(); err != nil {
		r.log.WithError(err).Warn("failed to close source")
	}
	r.source = nil
}

func skipped(reason string, err error) Outcome {
	return Outcome{Skipped: true, Reason: reason, Err: err}
}
