package liveness

import (
	"image"
	"time"

	"github.com/MrCodeEU/sentinel/pkg/landmarks"
)

// MockClock is a manually advanced Clock.
type MockClock struct {
	now time.Time
}

func NewMockClock() *MockClock {
	return &MockClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *MockClock) Now() time.Time { return m.now }

func (m *MockClock) Advance(d time.Duration) { m.now = m.now.Add(d) }

// MockYawEstimator implements features.YawEstimator for testing
type MockYawEstimator struct {
	EstimateYawFunc func(face *landmarks.Face, width, height int) (float64, error)
}

func (m *MockYawEstimator) EstimateYaw(face *landmarks.Face, width, height int) (float64, error) {
	if m.EstimateYawFunc != nil {
		return m.EstimateYawFunc(face, width, height)
	}
	return 0, nil
}

// MockSampler implements features.PatchSampler for testing
type MockSampler struct {
	MeanGreenFunc func(r image.Rectangle) (float64, error)
}

func (m *MockSampler) MeanGreen(r image.Rectangle) (float64, error) {
	if m.MeanGreenFunc != nil {
		return m.MeanGreenFunc(r)
	}
	return 128, nil
}
