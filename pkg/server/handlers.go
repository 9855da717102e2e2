package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	boundary     = "frame"
	uploadPrefix = "temp_"
)

// handleStats returns the latest report.
func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.reports.Load())
}

// handleVideoFeed streams processed frames as multipart JPEG.
func (s *Server) handleVideoFeed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary="+boundary)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.streamFrames(w)
	})
	return nil
}

// streamFrames writes each new frame until the client goes away or the
// server shuts down.
func (s *Server) streamFrames(w *bufio.Writer) {
	ticker := time.NewTicker(s.opts.FrameInterval)
	defer ticker.Stop()

	var last uint64
	for {
		if jpeg, seq := s.frames.Load(); seq != last && len(jpeg) > 0 {
			last = seq
			if err := writePart(w, jpeg); err != nil {
				s.log.WithError(err).Debug("video feed client gone")
				return
			}
		}
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

func writePart(w *bufio.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// handleUploadVideo stores the uploaded file and switches the pipeline to it.
func (s *Server) handleUploadVideo(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing file field",
		})
	}

	name := filepath.Base(file.Filename)
	if name == "." || name == ".." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid file name",
		})
	}

	if err := os.MkdirAll(s.opts.UploadDir, 0755); err != nil {
		s.log.WithError(err).Error("failed to create upload directory")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "upload directory unavailable",
		})
	}

	dst := filepath.Join(s.opts.UploadDir, uploadName(name))
	if err := c.SaveFile(file, dst); err != nil {
		s.log.WithError(err).WithField("path", dst).Error("failed to save upload")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to save file",
		})
	}

	s.log.WithField("path", dst).Info("video uploaded")
	s.sources.SwitchSource(dst)
	return c.JSON(fiber.Map{"status": "Source switched"})
}

// uploadName gives every upload its own file so a clip still being read
// is never overwritten by a later upload with the same name.
func uploadName(name string) string {
	return uploadPrefix + uuid.NewString()[:8] + "_" + name
}

// handleResetCamera switches back to the configured camera.
func (s *Server) handleResetCamera(c *fiber.Ctx) error {
	s.sources.SwitchSource(s.opts.CameraTarget)
	return c.JSON(fiber.Map{"status": "Reset to webcam"})
}

// handleStatsWS sends the current report, then every published one.
func (s *Server) handleStatsWS(conn *websocket.Conn) {
	if data, err := json.Marshal(s.reports.Load()); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			return
		}
	}
	newClient(s.statsHub, conn).run()
}
