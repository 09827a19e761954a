package models

import "time"

// Plan is an immutable catalog row. Price is stored in minor units
// (KRW has no sub-unit, so price == won).
type Plan struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Code         string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	Price        int64     `gorm:"not null" json:"price"`
	Currency     string    `gorm:"type:varchar(3);not null;default:'KRW'" json:"currency"`
	PeriodMonths int       `gorm:"not null;default:1" json:"period_months"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
