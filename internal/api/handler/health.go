package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Version is reported by /health. Overridden at link time.
var Version = "0.1.0"

const readyTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type RunningChecker interface {
	Running() bool
}

type HealthHandler struct {
	store   Pinger
	capture RunningChecker
}

func NewHealthHandler(store Pinger, capture RunningChecker) *HealthHandler {
	return &HealthHandler{store: store, capture: capture}
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "ok",
		Version: Version,
	})
}

// Ready reports 503 until the identity store answers and the camera is
// delivering frames.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	checks := map[string]string{"store": "ok", "capture": "ok"}
	ready := true

	ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	}
	if !h.capture.Running() {
		checks["capture"] = "not running"
		ready = false
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{
			Status: "not_ready",
			Checks: checks,
		})
	}

	return c.JSON(HealthResponse{
		Status: "ready",
		Checks: checks,
	})
}
