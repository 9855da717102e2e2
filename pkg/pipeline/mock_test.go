package pipeline

import (
	"context"
	"time"

	"gocv.io/x/gocv"

	"github.com/MrCodeEU/sentinel/pkg/camera"
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
)

// MockSource implements camera.Source for testing
type MockSource struct {
	ReadFunc  func(ctx context.Context) (*camera.Frame, error)
	CloseFunc func() error
	NameValue string
	Closed    bool
}

func (m *MockSource) Read(ctx context.Context) (*camera.Frame, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx)
	}
	return testFrame(), nil
}

func (m *MockSource) Live() bool { return false }

func (m *MockSource) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

func (m *MockSource) Close() error {
	m.Closed = true
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockDetector implements landmarks.Detector for testing
type MockDetector struct {
	DetectFunc func(ctx context.Context, jpeg []byte) (*landmarks.Face, *landmarks.Pose, error)
	Calls      int
}

func (m *MockDetector) Detect(ctx context.Context, jpeg []byte) (*landmarks.Face, *landmarks.Pose, error) {
	m.Calls++
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, jpeg)
	}
	return nil, nil, nil
}

func testFrame() *camera.Frame {
	return &camera.Frame{
		Mat:       gocv.NewMatWithSize(camera.DefaultHeight, camera.DefaultWidth, gocv.MatTypeCV8UC3),
		Width:     camera.DefaultWidth,
		Height:    camera.DefaultHeight,
		Timestamp: time.Now(),
	}
}
