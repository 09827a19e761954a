package models

import "time"

// Payment provider constants used across billing-related models.
const (
	PaymentProviderToss   = "toss"
	PaymentProviderStripe = "stripe"
)

const (
	PaymentMethodKindCard = "card"
	PaymentMethodKindBank = "bank_transfer"
)

// PaymentMethod is a user's saved charging instrument. Lower priority is
// tried first; at most one non-deleted method per user is the default.
// The billing core only reads these rows; method management (including
// default promotion on delete) is owned by the account service.
type PaymentMethod struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"not null;index" json:"user_id"`
	Provider         string     `gorm:"type:varchar(20);not null" json:"provider"`
	Kind             string     `gorm:"type:varchar(20);not null;default:'card'" json:"kind"`
	ProviderMethodID string     `gorm:"type:varchar(191);not null" json:"provider_method_id"`
	Brand            string     `gorm:"type:varchar(40);default:''" json:"brand"`
	Last4            string     `gorm:"type:varchar(4);default:''" json:"last4"`
	ExpiryMonth      int        `gorm:"default:0" json:"expiry_month"`
	ExpiryYear       int        `gorm:"default:0" json:"expiry_year"`
	IsDefault        bool       `gorm:"default:false" json:"is_default"`
	Priority         int        `gorm:"not null;default:100" json:"priority"`
	DeletedAt        *time.Time `gorm:"type:timestamp;default:null;index" json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
