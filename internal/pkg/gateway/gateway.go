package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/hanflix/billing/app/models"
)

// DeclineKind classifies a failed charge. Both kinds end the attempt on the
// current method; the split is kept so a future policy can stop re-trying
// hard-declined methods across scheduler runs.
type DeclineKind string

const (
	HardDecline DeclineKind = "HARD_DECLINE"
	SoftDecline DeclineKind = "SOFT_DECLINE"
)

// ChargeError is the typed failure returned by ChargeSavedMethod.
type ChargeError struct {
	Kind    DeclineKind
	Code    string
	Message string
}

func (e *ChargeError) Error() string {
	return fmt.Sprintf("charge declined (%s/%s): %s", e.Kind, e.Code, e.Message)
}

// CheckoutSession is a provider-hosted checkout the user is redirected to.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
}

// ChargeResult is a successful saved-method charge.
type ChargeResult struct {
	ProviderPaymentID string
	PaidAt            time.Time
	ReceiptURL        string
}

// RefundResult is a successful refund.
type RefundResult struct {
	ProviderRefundID string
	RefundedAt       time.Time
}

// Gateway abstracts one external payment processor. The billing core only
// depends on this interface; one adapter exists per real provider and is
// selected via configuration at startup. All network calls carry a bounded
// timeout through ctx plus the adapter's own client timeout.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, user *models.User, plan *models.Plan, successURL, cancelURL string) (*CheckoutSession, error)
	ChargeSavedMethod(ctx context.Context, customerRef, methodRef string, amount int64, currency, description string) (*ChargeResult, error)
	IssueRefund(ctx context.Context, providerPaymentID string, amount int64) (*RefundResult, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
}
