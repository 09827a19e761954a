package billing

import "errors"

// Typed errors surfaced by the command services. Controllers map these to
// stable 4xx codes; anything else is a 500. Idempotent no-ops (duplicate
// webhook event, duplicate cancel key) return nil, not an error.
var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrConflict             = errors.New("duplicate idempotency key")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPayloadMismatch      = errors.New("webhook payload does not match payment")
	ErrUnsupportedEvent     = errors.New("unsupported webhook event status")
	ErrOutOfOrderEvent      = errors.New("webhook event incompatible with payment status")
	ErrForbidden            = errors.New("payment does not belong to user")
	ErrNotEligibleForRefund = errors.New("payment is not eligible for refund")
	ErrInvalidUpgrade       = errors.New("target plan is not an upgrade")
	ErrZeroProration        = errors.New("proration amount rounds to zero")
)

// errKeyConsumed aborts a transaction that lost an idempotency-key race: a
// concurrent request passed the pre-check too and committed first, so this
// side of the race must roll back its writes. Callers translate the rollback
// into an idempotent success (webhook, cancel) or ErrConflict (checkout).
var errKeyConsumed = errors.New("idempotency key consumed concurrently")
