package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/sentinel/pkg/liveness"
	"github.com/MrCodeEU/sentinel/pkg/logging"
)

// Recorder defaults.
const (
	DefaultInterval = time.Second
	DefaultMinScore = 0.01

	saveTimeout = 2 * time.Second
)

// Recorder periodically saves the latest report. It runs on its own
// goroutine and only reads the published report, so a slow store never
// delays frame processing.
type Recorder struct {
	store    Store
	latest   func() liveness.Report
	interval time.Duration
	minScore float64

	lastSession string
	lastStamp   time.Time

	saved  atomic.Uint64
	failed atomic.Uint64
}

// NewRecorder creates a recorder reading reports from latest.
func NewRecorder(store Store, latest func() liveness.Report, interval time.Duration, minScore float64) *Recorder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Recorder{store: store, latest: latest, interval: interval, minScore: minScore}
}

// Run saves on every tick until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick saves the latest report if it qualifies. It reports whether a save
// was attempted.
func (r *Recorder) Tick(ctx context.Context) bool {
	report := r.latest()
	if report.Score <= r.minScore {
		return false
	}
	if report.SessionID == r.lastSession && report.Timestamp.Equal(r.lastStamp) {
		return false
	}
	r.lastSession, r.lastStamp = report.SessionID, report.Timestamp

	sctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := r.store.SaveReport(sctx, report); err != nil {
		r.failed.Add(1)
		logging.Component("storage").WithError(err).Warn("failed to save report, dropped")
		return true
	}
	r.saved.Add(1)
	return true
}

// Saved returns the number of reports saved.
func (r *Recorder) Saved() uint64 { return r.saved.Load() }

// Failed returns the number of reports dropped after a store error.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }
