package billing

import (
	"time"

	"github.com/hanflix/billing/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the billing services. The
// GORM implementation runs every mutation of a command path inside a single
// transaction via Transaction, so concurrent webhook/scheduler writes on the
// same row serialize at the storage layer.
type Repository interface {
	Transaction(fn func(Repository) error) error

	GetPlanByCode(code string) (*models.Plan, error)
	GetPlanByID(id uint) (*models.Plan, error)
	GetUserByID(id uint) (*models.User, error)

	// ListChargeablePaymentMethods returns the user's non-deleted methods
	// ordered default-first, then by ascending priority.
	ListChargeablePaymentMethods(userID uint) ([]models.PaymentMethod, error)

	CreatePayment(p *models.Payment) error
	GetPaymentByID(id uint) (*models.Payment, error)
	SavePayment(p *models.Payment) error

	CreateSubscription(s *models.Subscription) error
	SaveSubscription(s *models.Subscription) error
	GetSubscriptionByID(id uint) (*models.Subscription, error)
	// GetEffectiveSubscription returns the user's newest active row with
	// end_at in the future, or nil when none exists.
	GetEffectiveSubscription(userID uint, now time.Time) (*models.Subscription, error)
	// GetLatestSubscription returns the user's newest row regardless of
	// status, or nil when the user never subscribed.
	GetLatestSubscription(userID uint) (*models.Subscription, error)
	// ListDueSubscriptions returns rows eligible for a recurring charge:
	// status active or past_due, auto_renew on, next_billing_at reached.
	ListDueSubscriptions(now time.Time, limit int) ([]models.Subscription, error)

	// RecordIdempotencyKey inserts the (key, purpose) marker and reports
	// whether this call created it (false = already consumed).
	RecordIdempotencyKey(key, purpose string) (bool, error)
	HasIdempotencyKey(key, purpose string) (bool, error)

	// SumWatchedSeconds aggregates watch-log seconds for episodes numbered
	// >= minEpisode recorded strictly after the given time.
	SumWatchedSeconds(userID uint, minEpisode int, after time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetPlanByCode(code string) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.Where("code = ?", code).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetPlanByID(id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) ListChargeablePaymentMethods(userID uint) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	err := r.db.
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("is_default DESC, priority ASC").
		Find(&methods).Error
	return methods, err
}

func (r *gormRepository) CreatePayment(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) GetPaymentByID(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) SavePayment(p *models.Payment) error {
	return r.db.Save(p).Error
}

func (r *gormRepository) CreateSubscription(s *models.Subscription) error {
	return r.db.Create(s).Error
}

func (r *gormRepository) SaveSubscription(s *models.Subscription) error {
	return r.db.Save(s).Error
}

func (r *gormRepository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetEffectiveSubscription(userID uint, now time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ? AND status = ? AND end_at > ?", userID, models.SubscriptionStatusActive, now).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetLatestSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListDueSubscriptions(now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.db.
		Where("status IN ? AND auto_renew = ? AND next_billing_at IS NOT NULL AND next_billing_at <= ?",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}, true, now).
		Order("next_billing_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&subs).Error
	return subs, err
}

func (r *gormRepository) RecordIdempotencyKey(key, purpose string) (bool, error) {
	row := &models.IdempotencyKey{Key: key, Purpose: purpose}
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "key"},
			{Name: "purpose"},
		},
		DoNothing: true,
	}).Create(row)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) HasIdempotencyKey(key, purpose string) (bool, error) {
	var count int64
	err := r.db.Model(&models.IdempotencyKey{}).
		Where("`key` = ? AND purpose = ?", key, purpose).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) SumWatchedSeconds(userID uint, minEpisode int, after time.Time) (int64, error) {
	var total *int64
	err := r.db.Model(&models.WatchLog{}).
		Select("SUM(seconds)").
		Where("user_id = ? AND episode_number >= ? AND created_at > ?", userID, minEpisode, after).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
