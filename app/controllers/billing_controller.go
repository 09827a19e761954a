package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/hanflix/billing/internal/pkg/billing"
	"github.com/hanflix/billing/internal/pkg/database"
	"github.com/hanflix/billing/internal/pkg/gateway"
	"github.com/hanflix/billing/internal/pkg/middleware"
)

const webhookSignatureHeader = "X-Toss-Signature"

type checkoutRequest struct {
	PlanCode   string `json:"plan_code" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

// HandleCheckout creates a hosted checkout session for a plan purchase.
func HandleCheckout(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
	}

	idemKey := strings.TrimSpace(c.Get("Idempotency-Key"))

	svc := billing.NewPaymentServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := svc.Checkout(ctx, userID, req.PlanCode, req.SuccessURL, req.CancelURL, idemKey)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandlePaymentWebhook ingests one provider event for a payment. The payment
// id is path-embedded with a query fallback; authentication is by signature,
// not session. Duplicate deliveries return 2xx so the provider stops
// retrying.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	paymentID := parsePaymentID(c)
	if paymentID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_payment_id"})
	}

	gw := gateway.NewTossClientFromEnv()
	if !gw.VerifyWebhookSignature(rawBody, c.Get(webhookSignatureHeader)) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	var ev billing.WebhookEvent
	if err := c.App().Config().JSONDecoder(rawBody, &ev); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if strings.TrimSpace(ev.EventID) == "" || strings.TrimSpace(ev.Status) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	log.Infof("[Billing] webhook event %s (%s) for payment %d", ev.EventID, ev.Status, paymentID)

	svc := billing.NewPaymentServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := svc.ApplyWebhookEvent(ctx, paymentID, ev); err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

type refundRequest struct {
	PaymentID uint `json:"payment_id" validate:"required"`
}

// HandleRefund executes the fixed refund policy for one of the caller's
// payments.
func HandleRefund(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	paymentID := uint(0)
	if raw := c.Params("paymentID"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			paymentID = uint(v)
		}
	}
	if paymentID == 0 {
		var req refundRequest
		if err := c.BodyParser(&req); err != nil || req.PaymentID == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_payment_id"})
		}
		paymentID = req.PaymentID
	}

	svc := billing.NewPaymentServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	payment, err := svc.RefundIfEligible(ctx, userID, paymentID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(payment)
}

// parsePaymentID resolves the payment id from the path or, failing that,
// the query string. Both forms must land on the same payment.
func parsePaymentID(c *fiber.Ctx) uint {
	raw := c.Params("paymentID")
	if raw == "" {
		raw = c.Query("payment_id")
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
