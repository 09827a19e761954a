package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hanflix/billing/internal/pkg/billing"
)

var validate = validator.New()

// statusForError maps the billing error taxonomy to stable HTTP codes.
// Anything unmapped is an internal error.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrPlanNotFound):
		return fiber.StatusBadRequest, "plan_not_found"
	case errors.Is(err, billing.ErrNoActiveSubscription):
		return fiber.StatusNotFound, "no_active_subscription"
	case errors.Is(err, billing.ErrConflict):
		return fiber.StatusConflict, "duplicate_request"
	case errors.Is(err, billing.ErrPaymentNotFound):
		return fiber.StatusNotFound, "payment_not_found"
	case errors.Is(err, billing.ErrPayloadMismatch):
		return fiber.StatusBadRequest, "payload_mismatch"
	case errors.Is(err, billing.ErrUnsupportedEvent):
		return fiber.StatusUnprocessableEntity, "unsupported_event"
	case errors.Is(err, billing.ErrOutOfOrderEvent):
		return fiber.StatusUnprocessableEntity, "out_of_order_event"
	case errors.Is(err, billing.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, billing.ErrNotEligibleForRefund):
		return fiber.StatusUnprocessableEntity, "not_eligible_for_refund"
	case errors.Is(err, billing.ErrInvalidUpgrade):
		return fiber.StatusBadRequest, "invalid_upgrade"
	case errors.Is(err, billing.ErrZeroProration):
		return fiber.StatusBadRequest, "proration_amount_zero"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	status, code := statusForError(err)
	return c.Status(status).JSON(fiber.Map{"error": code})
}
