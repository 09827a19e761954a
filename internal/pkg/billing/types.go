package billing

import "time"

// Webhook event statuses as delivered by the provider adapter after
// signature verification.
const (
	WebhookStatusSucceeded = "succeeded"
	WebhookStatusFailed    = "failed"
	WebhookStatusCanceled  = "canceled"
	WebhookStatusRefunded  = "refunded"
)

// WebhookEvent is the normalized provider notification applied to one
// payment. Optional fields are pointers; when present they must match the
// stored payment exactly.
type WebhookEvent struct {
	EventID           string     `json:"eventId"`
	Status            string     `json:"status"`
	Amount            *int64     `json:"amount,omitempty"`
	Currency          *string    `json:"currency,omitempty"`
	ProviderSessionID *string    `json:"providerSessionId,omitempty"`
	ProviderPaymentID string     `json:"providerPaymentId,omitempty"`
	ReceiptURL        string     `json:"receiptUrl,omitempty"`
	OccurredAt        *time.Time `json:"occurredAt,omitempty"`
}

// CheckoutResult is returned to the HTTP layer after a hosted checkout is
// created.
type CheckoutResult struct {
	PaymentID   uint   `json:"payment_id"`
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// ProrationCheckout describes an upgrade charge consumed by the in-page
// payment widget (no hosted redirect).
type ProrationCheckout struct {
	PaymentID      uint   `json:"payment_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Provider       string `json:"provider"`
	FromPlanCode   string `json:"from_plan_code"`
	TargetPlanCode string `json:"target_plan_code"`
}

// paymentMetadata is the free-form payload stored on a payment row. The
// proration flow uses it to carry both plan codes across the checkout.
type paymentMetadata struct {
	Proration      bool   `json:"proration,omitempty"`
	FromPlanCode   string `json:"from_plan_code,omitempty"`
	TargetPlanCode string `json:"target_plan_code,omitempty"`
}
