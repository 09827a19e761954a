package models

import "time"

// User carries the minimum identity the billing core needs: an email for
// notifications and the provider-side customer reference used for saved
// method charges. Account management itself lives outside this service.
type User struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Email               string    `gorm:"type:varchar(200);not null;uniqueIndex" json:"email"`
	Name                string    `gorm:"type:varchar(100);default:''" json:"name"`
	ProviderCustomerRef string    `gorm:"type:varchar(191);default:''" json:"-"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
