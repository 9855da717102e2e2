// Package camera provides frame sources for the liveness pipeline: a live
// capture device or a video file played in a loop.
package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/MrCodeEU/sentinel/pkg/logging"
	"github.com/MrCodeEU/sentinel/pkg/vision"
)

// Default processing size every frame is resized to.
const (
	DefaultWidth  = 640
	DefaultHeight = 480

	// DefaultFPS is assumed for files that do not report a frame rate.
	DefaultFPS = 30
)

// Frame is one prepared BGR frame. The receiver of a Frame owns its Mat and
// must Close it.
type Frame struct {
	Mat       gocv.Mat
	Width     int
	Height    int
	Timestamp time.Time
	Live      bool
}

// Close releases the frame's pixel buffer.
func (f *Frame) Close() error {
	if f == nil {
		return nil
	}
	return f.Mat.Close()
}

// Source produces frames in order.
type Source interface {
	// Read blocks until the next frame is available.
	Read(ctx context.Context) (*Frame, error)
	// Live reports whether the source is a camera rather than a file.
	Live() bool
	// Name describes the source for logs.
	Name() string
	Close() error
}

// Options controls frame preparation.
type Options struct {
	Width  int
	Height int
	// MirrorLive flips live frames horizontally so the subject sees a mirror.
	MirrorLive bool
	// Loop restarts file sources at end of stream instead of failing.
	Loop bool
}

// DefaultOptions returns 640x480, mirrored, looping.
func DefaultOptions() Options {
	return Options{Width: DefaultWidth, Height: DefaultHeight, MirrorLive: true, Loop: true}
}

// ErrCameraNotFound is returned when the device or file does not exist.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraUnavailable is returned when a live device cannot deliver frames.
var ErrCameraUnavailable = errors.New("camera unavailable")

// ErrCameraNotOpen is returned when reading from a closed source.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrEndOfStream is returned by a non-looping file source after its last frame.
var ErrEndOfStream = errors.New("end of stream")

// Target is a parsed source argument.
type Target struct {
	Device int
	Path   string
	Live   bool
}

// ParseTarget interprets an integer as a capture device index and anything
// else as a video file path.
func ParseTarget(target string) Target {
	if idx, err := strconv.Atoi(target); err == nil && idx >= 0 {
		return Target{Device: idx, Live: true}
	}
	return Target{Path: target}
}

func (t Target) String() string {
	if t.Live {
		return fmt.Sprintf("camera:%d", t.Device)
	}
	return t.Path
}

// Capture is a gocv-backed Source.
type Capture struct {
	target Target
	opts   Options

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	raw    gocv.Mat
	closed bool

	// File frames are stamped epoch + index*step so playback speed does
	// not change what the session sees.
	epoch time.Time
	step  time.Duration
	index int64
}

// Open opens target ("0" for the first camera, or a file path).
func Open(target string, opts Options) (*Capture, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}
	t := ParseTarget(target)
	if !t.Live {
		if _, err := os.Stat(t.Path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, t.Path)
		}
	}

	c := &Capture{target: t, opts: opts, raw: gocv.NewMat(), epoch: time.Now()}
	if err := c.open(); err != nil {
		c.raw.Close()
		return nil, err
	}

	logging.Component("camera").WithField("source", t.String()).Info("source opened")
	return c, nil
}

func (c *Capture) open() error {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if c.target.Live {
		vc, err = gocv.OpenVideoCapture(c.target.Device)
	} else {
		vc, err = gocv.OpenVideoCapture(c.target.Path)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: %s", ErrCameraUnavailable, c.target)
	}
	c.cap = vc
	if !c.target.Live {
		c.step = FrameInterval(vc.Get(gocv.VideoCaptureFPS))
	}
	return nil
}

// FrameInterval is the media time between frames at fps. Unknown or
// implausible rates fall back to DefaultFPS.
func FrameInterval(fps float64) time.Duration {
	if math.IsNaN(fps) || fps < 1 || fps > 1000 {
		fps = DefaultFPS
	}
	return time.Duration(float64(time.Second) / fps)
}

// MediaTime is the timestamp of frame index in a clip starting at epoch.
func MediaTime(epoch time.Time, index int64, step time.Duration) time.Time {
	return epoch.Add(time.Duration(index) * step)
}

// Read returns the next prepared frame. A live device that stops
// delivering frames is released and reopened on the following call.
func (c *Capture) Read(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCameraNotOpen
	}
	if c.cap == nil {
		if err := c.open(); err != nil {
			return nil, err
		}
	}

	if !c.grab() {
		if c.target.Live {
			logging.Component("camera").WithField("source", c.target.String()).Warn("capture failed, releasing device")
			c.cap.Close()
			c.cap = nil
			return nil, ErrCameraUnavailable
		}
		if !c.opts.Loop {
			return nil, ErrEndOfStream
		}
		c.cap.Set(gocv.VideoCapturePosFrames, 0)
		if !c.grab() {
			// Undecodable or empty clip; release it so the retry reopens
			logging.Component("camera").WithField("source", c.target.String()).Warn("rewind produced no frame, releasing file")
			c.cap.Close()
			c.cap = nil
			return nil, fmt.Errorf("%w: no frame after rewind: %s", ErrCameraUnavailable, c.target)
		}
	}

	mat, err := vision.Prepare(c.raw, c.opts.Width, c.opts.Height, c.target.Live && c.opts.MirrorLive)
	if err != nil {
		mat.Close()
		return nil, err
	}
	stamp := time.Now()
	if !c.target.Live {
		stamp = MediaTime(c.epoch, c.index, c.step)
		c.index++
	}
	return &Frame{
		Mat:       mat,
		Width:     c.opts.Width,
		Height:    c.opts.Height,
		Timestamp: stamp,
		Live:      c.target.Live,
	}, nil
}

func (c *Capture) grab() bool {
	return c.cap.Read(&c.raw) && !c.raw.Empty()
}

// Live reports whether the source is a capture device.
func (c *Capture) Live() bool { return c.target.Live }

// Name returns the source description.
func (c *Capture) Name() string { return c.target.String() }

// Close releases the device and buffers.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	if c.cap != nil {
		err = c.cap.Close()
		c.cap = nil
	}
	if cerr := c.raw.Close(); err == nil {
		err = cerr
	}
	return err
}
