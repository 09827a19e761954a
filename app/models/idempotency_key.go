package models

import "time"

// Idempotency purposes. Presence of (key, purpose) is the sole
// de-duplication signal on every write path.
const (
	IdempotencyPurposeCheckout = "payment.checkout"
	IdempotencyPurposeWebhook  = "payment.webhook"
	IdempotencyPurposeCancel   = "subscription.cancel"
)

// IdempotencyKey is a write-once marker for an already-processed request or
// provider event. Rows are never deleted.
type IdempotencyKey struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(191);not null;index:ux_idempotency_keys_key_purpose,unique,priority:1" json:"key"`
	Purpose   string    `gorm:"type:varchar(50);not null;index:ux_idempotency_keys_key_purpose,unique,priority:2" json:"purpose"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
