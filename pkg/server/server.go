// Package server exposes the liveness pipeline over HTTP: the latest report,
// an MJPEG preview, source switching, and a websocket report stream.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/sentinel/pkg/liveness"
	"github.com/MrCodeEU/sentinel/pkg/logging"
)

// ReportReader returns the latest published report.
type ReportReader interface {
	Load() liveness.Report
}

// FrameReader returns the latest encoded frame and its sequence number.
type FrameReader interface {
	Load() ([]byte, uint64)
}

// SourceSwitcher replaces the running frame source.
type SourceSwitcher interface {
	SwitchSource(target string)
}

// Options configures the server.
type Options struct {
	// UploadDir receives uploaded videos.
	UploadDir string
	// CameraTarget is the source restored by /reset_camera.
	CameraTarget string
	// FrameInterval is how often the MJPEG stream polls for a new frame.
	FrameInterval time.Duration
	// MaxUploadBytes bounds request bodies.
	MaxUploadBytes int
}

// DefaultOptions returns options for the default camera.
func DefaultOptions() Options {
	return Options{
		UploadDir:      ".",
		CameraTarget:   "0",
		FrameInterval:  30 * time.Millisecond,
		MaxUploadBytes: 256 << 20,
	}
}

// Server is the HTTP transport.
type Server struct {
	app  *fiber.App
	opts Options

	reports ReportReader
	frames  FrameReader
	sources SourceSwitcher

	statsHub *Hub

	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

// New creates a server and registers its routes.
func New(opts Options, reports ReportReader, frames FrameReader, sources SourceSwitcher) *Server {
	def := DefaultOptions()
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = def.FrameInterval
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = def.MaxUploadBytes
	}
	if opts.UploadDir == "" {
		opts.UploadDir = def.UploadDir
	}
	if opts.CameraTarget == "" {
		opts.CameraTarget = def.CameraTarget
	}

	s := &Server{
		opts:     opts,
		reports:  reports,
		frames:   frames,
		sources:  sources,
		statsHub: NewHub("stats"),
		done:     make(chan struct{}),
		log:      logging.Component("server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Sentinel",
		DisableStartupMessage: true,
		BodyLimit:             opts.MaxUploadBytes,
	})

	// Any origin may read the stats
	app.Use(cors.New())

	app.Get("/stats", s.handleStats)
	app.Get("/video_feed", s.handleVideoFeed)
	app.Post("/upload_video", s.handleUploadVideo)
	app.Post("/reset_camera", s.handleResetCamera)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stats", websocket.New(s.handleStatsWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the report hub.
func (s *Server) Hub() *Hub { return s.statsHub }

// Publish pushes a report to websocket subscribers. It never blocks.
func (s *Server) Publish(r liveness.Report) {
	if err := s.statsHub.BroadcastJSON(r); err != nil {
		s.log.WithError(err).Warn("failed to encode report")
	}
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.statsHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http server listening")
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		s.stopStreams()
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown ends open streams and stops the server.
func (s *Server) Shutdown() error {
	s.stopStreams()
	return s.app.Shutdown()
}

func (s *Server) stopStreams() {
	s.closeOnce.Do(func() { close(s.done) })
}
