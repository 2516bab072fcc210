package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/feedbax/feedbax/app/models"
	"github.com/feedbax/feedbax/internal/pkg/billing"
	"github.com/feedbax/feedbax/internal/pkg/database"
	"github.com/feedbax/feedbax/internal/pkg/env"
	"github.com/feedbax/feedbax/internal/pkg/metrics/counter"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var billingValidate = validator.New()

type reconcileUserRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type billingStatusRequest struct {
	UserID uint `json:"user_id" validate:"required"`
}

func newBillingService() *billing.Service {
	return billing.NewServiceFromDB(database.GetDB(), billing.NewStripeGatewayFromEnv())
}

// HandleBillingWebhook receives signed provider events. The raw body is
// required for signature verification and must not be pre-parsed.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	gw := billing.NewStripeGatewayFromEnv()
	processor := billing.NewProcessor(billing.NewServiceFromDB(database.GetDB(), gw), gw)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := processor.Process(ctx, rawBody, signature)
	if err != nil {
		if errors.Is(err, billing.ErrSignatureInvalid) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	_ = counter.AddWebhookEvent(outcome.EventType)

	resp := fiber.Map{"received": true}
	if outcome.Duplicate {
		resp["duplicate"] = true
	}
	if outcome.Ignored || outcome.Dropped {
		resp["ignored"] = true
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// HandleReconcileUser reconciles a single user's billing record against the
// provider, looked up by email with remote-customer-id fallback.
func HandleReconcileUser(c *fiber.Ctx) error {
	var req reconcileUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Request body must be JSON"})
	}
	if err := billingValidate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "A valid email is required"})
	}

	svc := newBillingService()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outcome, err := svc.ReconcileUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, billing.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No billing record found for this email"})
		}
		if errors.Is(err, billing.ErrProviderUnavailable) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable", "message": "Payment provider could not be reached"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reconciliation failed"})
	}

	message := "Record already in sync"
	if outcome.Updated {
		message = "Record reconciled"
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":       true,
		"message":       message,
		"previous_data": outcome.Previous,
		"new_data":      outcome.Current,
		"provider_data": fiber.Map{
			"plan":            outcome.Resolved.Plan,
			"status":          outcome.Resolved.Status,
			"subscription_id": outcome.Resolved.SubscriptionID,
			"customer_id":     outcome.Resolved.CustomerID,
		},
	})
}

// HandleReconcileAll runs a full reconciliation sweep over all records.
func HandleReconcileAll(c *fiber.Ctx) error {
	svc := newBillingService()

	timeout := env.GetEnvDuration("BILLING_SWEEP_TIMEOUT", 5*time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary, err := svc.ReconcileAll(ctx)
	if err != nil {
		if errors.Is(err, billing.ErrSweepInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "sweep_in_progress", "message": "A reconciliation sweep is already running"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Sweep failed to start"})
	}

	_ = counter.AddSweep()

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"summary": fiber.Map{
			"sweep_id":             summary.SweepID,
			"total_users":          summary.Total,
			"success_count":        summary.Succeeded,
			"error_count":          summary.Failed,
			"updated_count":        summary.Updated,
			"already_synced_count": summary.AlreadySynced,
			"partial":              summary.Partial,
		},
		"results": summary.Results,
	})
}

// HandleBillingStatus returns the raw local record plus a derived needs_fix
// flag for monitoring. Read-only; it never mutates the record.
func HandleBillingStatus(c *fiber.Ctx) error {
	var req billingStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Request body must be JSON"})
	}
	if err := billingValidate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "user_id is required"})
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	var rec models.BillingRecord
	if err := db.Where("user_id = ?", req.UserID).First(&rec).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No billing record for this user"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"record":    rec,
		"needs_fix": rec.IsDrifted(),
	})
}
