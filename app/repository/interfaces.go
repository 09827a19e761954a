package repository

import (
	"github.com/hanflix/billing/app/models"
)

// PlanRepository defines read access to the plan catalog. Plans are
// reference data and never mutated by this service.
type PlanRepository interface {
	GetByCode(code string) (*models.Plan, error)
	List() ([]models.Plan, error)
}

// PaymentMethodRepository defines read access to a user's saved payment
// methods. Method management (default promotion, priorities) is owned by
// the account service; the billing core only reads a consistent view.
type PaymentMethodRepository interface {
	ListActive(userID uint) ([]models.PaymentMethod, error)
}
