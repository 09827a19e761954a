package repository

import (
	"github.com/hanflix/billing/app/models"
	"gorm.io/gorm"
)

// paymentMethodRepository implements the PaymentMethodRepository interface
type paymentMethodRepository struct {
	db *gorm.DB
}

// NewPaymentMethodRepository creates a new payment method repository instance
func NewPaymentMethodRepository(db *gorm.DB) PaymentMethodRepository {
	return &paymentMethodRepository{db: db}
}

// ListActive returns the user's non-deleted methods, default first, then by
// ascending priority. This is the same order the recurring scheduler charges in.
func (r *paymentMethodRepository) ListActive(userID uint) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	err := r.db.
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("is_default DESC, priority ASC").
		Find(&methods).Error
	return methods, err
}
