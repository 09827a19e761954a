package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCanceled  = "canceled"
	PaymentStatusRefunded  = "refunded"
)

// Payment is one row per attempted charge (hosted checkout, proration
// checkout or recurring charge). Plan code and price are snapshotted at
// creation so later catalog changes never alter an in-flight payment.
// Rows are never deleted; terminal rows only mutate their refund fields.
type Payment struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	PlanID            uint       `gorm:"not null" json:"plan_id"`
	PlanCode          string     `gorm:"type:varchar(50);not null" json:"plan_code"`
	Provider          string     `gorm:"type:varchar(20);not null" json:"provider"`
	Amount            int64      `gorm:"not null" json:"amount"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'KRW'" json:"currency"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProviderSessionID string     `gorm:"type:varchar(191);default:'';index" json:"provider_session_id"`
	ProviderPaymentID string     `gorm:"type:varchar(191);default:'';index" json:"provider_payment_id"`
	ReceiptURL        string     `gorm:"type:varchar(500);default:''" json:"receipt_url"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	FailedAt          *time.Time `gorm:"type:timestamp;default:null" json:"failed_at,omitempty"`
	CanceledAt        *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	RefundedAt        *time.Time `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
	RefundedAmount    int64      `gorm:"default:0" json:"refunded_amount"`
	Metadata          string     `gorm:"type:text" json:"metadata"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the payment reached a final state. The only
// transition left for a terminal payment is succeeded to refunded.
func (p *Payment) IsTerminal() bool {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}
