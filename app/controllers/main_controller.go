package controllers

import (
	"github.com/feedbax/feedbax/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2"
)

// HandleHealth is the liveness endpoint used by deploy checks. Counter reads
// are best effort; an unreachable cache must not fail the health check.
func HandleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":  "ok",
		"service": "feedbax",
	}

	if events, err := counter.WebhookEventCounts(); err == nil && len(events) > 0 {
		resp["webhook_events"] = events
	}
	if sweeps, err := counter.SweepCount(); err == nil {
		resp["sweeps"] = sweeps
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}
