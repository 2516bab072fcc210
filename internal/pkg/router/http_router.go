package router

import (
	"github.com/feedbax/feedbax/app/controllers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/", controllers.HandleHealth)

	// Webhooks are called by the provider and must not be rate limited;
	// signature verification is their gate.
	app.Post("/webhooks/billing", controllers.HandleBillingWebhook)

	// Operator endpoints
	reconcile := app.Group("/reconcile", limiter.New())
	reconcile.Post("/user", controllers.HandleReconcileUser)
	reconcile.Post("/all", controllers.HandleReconcileAll)

	app.Post("/status/user", controllers.HandleBillingStatus)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
