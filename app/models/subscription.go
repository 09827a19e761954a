package models

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	// Expired is derived on the read path, never stored: an active row whose
	// end_at has passed reads as expired.
	SubscriptionStatusExpired = "expired"
)

// SubscriptionMaxRetry is the dunning budget before auto-cancellation.
const SubscriptionMaxRetry = 3

// Subscription is one paid period owned by a user. A repeat purchase always
// inserts a new row; the recurring scheduler extends the current row in
// place. History rows are kept for reconciliation.
type Subscription struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;index" json:"user_id"`
	PlanID                uint       `gorm:"not null" json:"plan_id"`
	PlanCode              string     `gorm:"type:varchar(50);not null" json:"plan_code"`
	Status                string     `gorm:"type:varchar(20);not null;default:'active';index:idx_subscriptions_status_next_billing,priority:1" json:"status"`
	StartAt               time.Time  `gorm:"type:timestamp;not null" json:"start_at"`
	EndAt                 time.Time  `gorm:"type:timestamp;not null" json:"end_at"`
	AutoRenew             bool       `gorm:"default:true" json:"auto_renew"`
	CancelAtPeriodEnd     bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt            *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	NextBillingAt         *time.Time `gorm:"type:timestamp;default:null;index:idx_subscriptions_status_next_billing,priority:2" json:"next_billing_at,omitempty"`
	RetryCount            int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetry              int        `gorm:"not null;default:3" json:"max_retry"`
	LastRetryAt           *time.Time `gorm:"type:timestamp;default:null" json:"last_retry_at,omitempty"`
	LastErrorCode         string     `gorm:"type:varchar(50);default:''" json:"last_error_code"`
	LastErrorMessage      string     `gorm:"type:varchar(500);default:''" json:"last_error_message"`
	NextPlanID            *uint      `gorm:"default:null" json:"next_plan_id,omitempty"`
	NextPlanCode          string     `gorm:"type:varchar(50);default:''" json:"next_plan_code,omitempty"`
	PlanChangeScheduledAt *time.Time `gorm:"type:timestamp;default:null" json:"plan_change_scheduled_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEffective reports whether the subscription currently grants access.
// cancel_at_period_end does not affect effectiveness before end_at.
func (s *Subscription) IsEffective(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && now.Before(s.EndAt)
}

// EffectiveStatus maps a lapsed active row to the derived expired status.
func (s *Subscription) EffectiveStatus(now time.Time) string {
	if s.Status == SubscriptionStatusActive && !now.Before(s.EndAt) {
		return SubscriptionStatusExpired
	}
	return s.Status
}
