package handler

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/facewatch/internal/domain"
)

const streamBoundary = "frame"

// FrameProvider exposes the most recent camera frame and the most recent
// annotated copy of it.
type FrameProvider interface {
	LatestFrame() (domain.Frame, bool)
	LatestAnnotated() (domain.Frame, bool)
}

type StreamConfig struct {
	Interval    time.Duration
	JPEGQuality int
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Interval:    30 * time.Millisecond,
		JPEGQuality: 80,
	}
}

// StreamHandler serves MJPEG streams. Every open stream ends when done is
// closed.
type StreamHandler struct {
	frames FrameProvider
	cfg    StreamConfig
	done   <-chan struct{}
	logger *slog.Logger
}

func NewStreamHandler(frames FrameProvider, cfg StreamConfig, done <-chan struct{}, logger *slog.Logger) *StreamHandler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultStreamConfig().Interval
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultStreamConfig().JPEGQuality
	}
	return &StreamHandler{
		frames: frames,
		cfg:    cfg,
		done:   done,
		logger: logger,
	}
}

func (h *StreamHandler) Raw(c *fiber.Ctx) error {
	return h.stream(c, "raw", h.frames.LatestFrame)
}

// Annotated falls back to the raw frame until the pipeline has published
// its first annotated frame.
func (h *StreamHandler) Annotated(c *fiber.Ctx) error {
	return h.stream(c, "annotated", func() (domain.Frame, bool) {
		if frame, ok := h.frames.LatestAnnotated(); ok {
			return frame, true
		}
		return h.frames.LatestFrame()
	})
}

func (h *StreamHandler) stream(c *fiber.Ctx, name string, next func() (domain.Frame, bool)) error {
	c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary="+streamBoundary)
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")

	logger := h.logger.With(slog.String("stream", name))

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()

		var (
			buf     bytes.Buffer
			lastSeq uint64
			sent    bool
		)

		for {
			frame, ok := next()
			if ok && !frame.Empty() && !(sent && frame.Seq == lastSeq) {
				buf.Reset()
				if err := imaging.Encode(&buf, frame.Image, imaging.JPEG, imaging.JPEGQuality(h.cfg.JPEGQuality)); err != nil {
					logger.Warn("encode stream frame", slog.Any("error", err))
				} else {
					if err := writePart(w, buf.Bytes()); err != nil {
						logger.Debug("stream client gone", slog.Any("error", err))
						return
					}
					lastSeq, sent = frame.Seq, true
				}
			}

			select {
			case <-h.done:
				return
			case <-ticker.C:
			}
		}
	})

	return nil
}

func writePart(w *bufio.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(jpeg)); err != nil {
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
