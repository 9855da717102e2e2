package landmarks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrCodeEU/sentinel/pkg/logging"
)

// Detector returns the face and pose for one frame in a single call.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) (*Face, *Pose, error)
}

// ErrSidecarUnavailable is returned when the inference sidecar cannot be reached.
var ErrSidecarUnavailable = errors.New("landmark sidecar unavailable")

// ErrSidecarResponse is returned when the sidecar answers with an error or garbage.
var ErrSidecarResponse = errors.New("invalid sidecar response")

// sidecarReply is the JSON answer for one frame.
// face: [[x,y,z], ...], pose: [[x,y,z,visibility], ...]; null when not found.
type sidecarReply struct {
	Face  [][]float64 `json:"face"`
	Pose  [][]float64 `json:"pose"`
	Error string      `json:"error,omitempty"`
}

// SidecarClient talks to a MediaPipe inference process over one persistent
// websocket. Each frame is sent as a binary JPEG message and answered by a
// single JSON message carrying both the face mesh and the body pose.
//
// The reply for the most recent frame is cached, so DetectFace and
// DetectPose on the same JPEG cost one round trip.
type SidecarClient struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	lastJPEG []byte
	lastFace *Face
	lastPose *Pose
}

// NewSidecarClient creates a client; the connection is dialed lazily.
func NewSidecarClient(url string, timeout time.Duration) *SidecarClient {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &SidecarClient{
		url:     url,
		timeout: timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// Detect sends one frame and decodes the face and pose from the reply.
func (c *SidecarClient) Detect(ctx context.Context, jpeg []byte) (*Face, *Pose, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastJPEG != nil && bytes.Equal(c.lastJPEG, jpeg) {
		return c.lastFace, c.lastPose, nil
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteMessage(websocket.BinaryMessage, jpeg); err != nil {
		c.drop()
		return nil, nil, fmt.Errorf("%w: write: %v", ErrSidecarUnavailable, err)
	}

	var reply sidecarReply
	if err := conn.ReadJSON(&reply); err != nil {
		c.drop()
		return nil, nil, fmt.Errorf("%w: read: %v", ErrSidecarUnavailable, err)
	}
	if reply.Error != "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrSidecarResponse, reply.Error)
	}

	face, err := decodeFace(reply.Face)
	if err != nil {
		return nil, nil, err
	}
	pose, err := decodePose(reply.Pose)
	if err != nil {
		return nil, nil, err
	}
	c.lastJPEG = append(c.lastJPEG[:0], jpeg...)
	c.lastFace, c.lastPose = face, pose
	return face, pose, nil
}

// DetectFace implements FaceDetector.
func (c *SidecarClient) DetectFace(ctx context.Context, jpeg []byte) (*Face, error) {
	face, _, err := c.Detect(ctx, jpeg)
	return face, err
}

// DetectPose implements PoseDetector.
func (c *SidecarClient) DetectPose(ctx context.Context, jpeg []byte) (*Pose, error) {
	_, pose, err := c.Detect(ctx, jpeg)
	return pose, err
}

// Close closes the websocket if one is open.
func (c *SidecarClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *SidecarClient) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSidecarUnavailable, err)
	}
	logging.Component("landmarks").WithField("url", c.url).Info("Connected to landmark sidecar")
	c.conn = conn
	return conn, nil
}

// drop discards a broken connection so the next call redials.
func (c *SidecarClient) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func decodeFace(raw [][]float64) (*Face, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	face := &Face{Points: make([]Point, len(raw))}
	for i, p := range raw {
		if len(p) < 2 {
			return nil, fmt.Errorf("%w: face point %d has %d values", ErrSidecarResponse, i, len(p))
		}
		face.Points[i] = Point{X: p[0], Y: p[1]}
		if len(p) > 2 {
			face.Points[i].Z = p[2]
		}
	}
	return face, nil
}

func decodePose(raw [][]float64) (*Pose, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	pose := &Pose{Points: make([]PosePoint, len(raw))}
	for i, p := range raw {
		if len(p) < 2 {
			return nil, fmt.Errorf("%w: pose point %d has %d values", ErrSidecarResponse, i, len(p))
		}
		pt := PosePoint{Point: Point{X: p[0], Y: p[1]}, Visibility: 1}
		if len(p) > 2 {
			pt.Z = p[2]
		}
		if len(p) > 3 {
			pt.Visibility = p[3]
		}
		pose.Points[i] = pt
	}
	return pose, nil
}

// Combine adapts separate face and pose detectors into a Detector.
// pose may be nil when no body-pose stream is available.
func Combine(face FaceDetector, pose PoseDetector) Detector {
	return combined{face: face, pose: pose}
}

type combined struct {
	face FaceDetector
	pose PoseDetector
}

func (c combined) Detect(ctx context.Context, jpeg []byte) (*Face, *Pose, error) {
	f, err := c.face.DetectFace(ctx, jpeg)
	if err != nil {
		return nil, nil, fmt.Errorf("face detector: %w", err)
	}
	if c.pose == nil {
		return f, nil, nil
	}
	p, err := c.pose.DetectPose(ctx, jpeg)
	if err != nil {
		return nil, nil, fmt.Errorf("pose detector: %w", err)
	}
	return f, p, nil
}
