package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hanflix/billing/app/repository"
	"github.com/hanflix/billing/internal/pkg/billing"
	"github.com/hanflix/billing/internal/pkg/database"
	"github.com/hanflix/billing/internal/pkg/middleware"
)

// HandleGetSubscription returns the caller's newest subscription with its
// derived status (a lapsed row reads as expired), or 404 when the user never
// subscribed.
func HandleGetSubscription(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	svc := billing.NewSubscriptionServiceFromDB(database.GetDB())
	sub, err := svc.GetCurrent(c.Context(), userID)
	if err != nil {
		return errorJSON(c, err)
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_subscription"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"subscription": sub,
		"status":       sub.EffectiveStatus(time.Now()),
	})
}

// HandleCancelSubscription reserves a soft cancellation: renewal stops,
// access persists through the paid period. Replayed idempotency keys are
// successes.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	idemKey := strings.TrimSpace(c.Get("Idempotency-Key"))

	svc := billing.NewSubscriptionServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := svc.Cancel(ctx, userID, idemKey); err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

type prorationRequest struct {
	TargetPlanCode string `json:"target_plan_code" validate:"required"`
}

// HandleProrationCheckout prices an immediate upgrade for the remaining
// period and returns the widget-facing checkout descriptor.
func HandleProrationCheckout(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req prorationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
	}

	svc := billing.NewProrationServiceFromDB(database.GetDB())
	checkout, err := svc.CreateProrationCheckout(c.Context(), userID, req.TargetPlanCode)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(checkout)
}

// HandleCompleteProration finalizes a paid upgrade: the payment flips to
// succeeded and the plan swap takes effect immediately.
func HandleCompleteProration(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	raw := c.Params("paymentID")
	paymentID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || paymentID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_payment_id"})
	}

	svc := billing.NewProrationServiceFromDB(database.GetDB())
	sub, err := svc.CompleteProrationPayment(c.Context(), userID, uint(paymentID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

// HandleListPlans returns the plan catalog.
func HandleListPlans(c *fiber.Ctx) error {
	repo := repository.NewFactory(database.GetDB()).GetPlanRepository()
	plans, err := repo.List()
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"plans": plans})
}

// HandleListPaymentMethods returns the caller's saved methods in charge
// order.
func HandleListPaymentMethods(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	repo := repository.NewFactory(database.GetDB()).GetPaymentMethodRepository()
	methods, err := repo.ListActive(userID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"payment_methods": methods})
}
