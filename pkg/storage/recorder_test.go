package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrCodeEU/sentinel/pkg/liveness"
)

// MockStore implements Store for testing
type MockStore struct {
	mu             sync.Mutex
	SaveReportFunc func(ctx context.Context, r liveness.Report) error
	Saved          []liveness.Report
}

func (m *MockStore) SaveReport(ctx context.Context, r liveness.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveReportFunc != nil {
		if err := m.SaveReportFunc(ctx, r); err != nil {
			return err
		}
	}
	m.Saved = append(m.Saved, r)
	return nil
}

func (m *MockStore) Close() error { return nil }

func (m *MockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Saved)
}

func TestRecorder_Tick(t *testing.T) {
	store := &MockStore{}
	now := time.Now()
	current := testReport("s1", 0, now)
	rec := NewRecorder(store, func() liveness.Report { return current }, time.Second, DefaultMinScore)

	// Zero score is never recorded
	if rec.Tick(context.Background()) {
		t.Error("zero-score report should be skipped")
	}

	current = testReport("s1", 0.3, now)
	if !rec.Tick(context.Background()) {
		t.Error("qualifying report should be saved")
	}

	// Same report again is a duplicate
	if rec.Tick(context.Background()) {
		t.Error("unchanged report should not be saved twice")
	}

	current = testReport("s1", 0.5, now.Add(time.Second))
	rec.Tick(context.Background())

	if store.count() != 2 || rec.Saved() != 2 {
		t.Errorf("saved %d reports (counter %d), want 2", store.count(), rec.Saved())
	}
}

func TestRecorder_FailureIsDropped(t *testing.T) {
	store := &MockStore{SaveReportFunc: func(context.Context, liveness.Report) error {
		return errors.New("disk full")
	}}
	current := testReport("s1", 0.5, time.Now())
	rec := NewRecorder(store, func() liveness.Report { return current }, time.Second, DefaultMinScore)

	rec.Tick(context.Background())
	// A failed report is not retried
	rec.Tick(context.Background())

	if rec.Failed() != 1 || rec.Saved() != 0 {
		t.Errorf("failed=%d saved=%d", rec.Failed(), rec.Saved())
	}
}

func TestRecorder_Run(t *testing.T) {
	store := &MockStore{}
	var mu sync.Mutex
	tick := 0
	latest := func() liveness.Report {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return testReport("s1", 0.5, time.Unix(int64(tick), 0))
	}
	rec := NewRecorder(store, latest, 5*time.Millisecond, DefaultMinScore)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.count() < 3 {
		select {
		case <-deadline:
			t.Fatal("recorder did not save in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestNewRecorder_DefaultInterval(t *testing.T) {
	rec := NewRecorder(&MockStore{}, liveness.InitialReport, 0, DefaultMinScore)
	if rec.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", rec.interval, DefaultInterval)
	}
}
