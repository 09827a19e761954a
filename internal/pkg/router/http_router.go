package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/hanflix/billing/app/controllers"
	"github.com/hanflix/billing/internal/pkg/middleware"
)

// InstallRouter wires every billing route. Command routes require the
// authenticated user id from the upstream HTTP layer; the webhook route is
// authenticated by signature only.
func InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	api := app.Group("/api/v1", limiter.New())

	// Provider-facing: payment id embedded in the path or query.
	api.Post("/billing/webhook/:paymentID", controllers.HandlePaymentWebhook)
	api.Post("/billing/webhook", controllers.HandlePaymentWebhook)

	// User-facing command surface.
	user := api.Group("", middleware.RequireUser())
	user.Get("/plans", controllers.HandleListPlans)
	user.Get("/payment-methods", controllers.HandleListPaymentMethods)
	user.Post("/billing/checkout", controllers.HandleCheckout)
	user.Post("/billing/payments/:paymentID/refund", controllers.HandleRefund)
	user.Get("/subscription", controllers.HandleGetSubscription)
	user.Post("/subscription/cancel", controllers.HandleCancelSubscription)
	user.Post("/subscription/upgrade", controllers.HandleProrationCheckout)
	user.Post("/subscription/upgrade/:paymentID/complete", controllers.HandleCompleteProration)
}
