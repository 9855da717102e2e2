// Package pipeline drives frames from a source through the landmark
// detector and the liveness session, and publishes the latest report and
// frame for readers on other goroutines.
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/sentinel/pkg/liveness"
)

// ReportCell holds the most recent report. Readers never block the
// processing goroutine.
type ReportCell struct {
	p atomic.Pointer[liveness.Report]
}

// NewReportCell creates a cell holding the initial report.
func NewReportCell() *ReportCell {
	c := &ReportCell{}
	initial := liveness.InitialReport()
	c.p.Store(&initial)
	return c
}

// Store publishes r. The cell keeps its own copy of the struct; the slices
// inside are never mutated after publication.
func (c *ReportCell) Store(r liveness.Report) {
	c.p.Store(&r)
}

// Load returns the latest report.
func (c *ReportCell) Load() liveness.Report {
	if r := c.p.Load(); r != nil {
		return *r
	}
	return liveness.InitialReport()
}

// FrameCell holds the latest encoded frame and a sequence number that
// increases with each store.
type FrameCell struct {
	mu   sync.RWMutex
	jpeg []byte
	seq  uint64
}

// Store publishes a JPEG frame. The caller must not modify jpeg afterwards.
func (c *FrameCell) Store(jpeg []byte) {
	c.mu.Lock()
	c.jpeg = jpeg
	c.seq++
	c.mu.Unlock()
}

// Load returns the latest frame and its sequence number; seq is 0 until
// the first frame.
func (c *FrameCell) Load() ([]byte, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jpeg, c.seq
}

// FrameClock reports the timestamp of the frame being processed, so
// sessions measure holds and timeouts in media time. Before the first
// frame, or for frames without a timestamp, it falls back to the wall clock.
type FrameClock struct {
	mu  sync.Mutex
	now time.Time
}

// Set records the current frame's timestamp.
func (c *FrameClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Now returns the current frame's timestamp.
func (c *FrameClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		return time.Now()
	}
	return c.now
}
