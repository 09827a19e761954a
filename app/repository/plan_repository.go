package repository

import (
	"encoding/json"
	"time"

	"github.com/hanflix/billing/app/models"
	"github.com/hanflix/billing/internal/pkg/cache"
	"gorm.io/gorm"
)

const (
	planCacheKeyPrefix = "plan:code:"
	planCacheTTL       = 10 * time.Minute
)

// planRepository implements PlanRepository with a redis read-through cache.
// Plans are immutable in this core's scope, so a short TTL is plenty.
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) GetByCode(code string) (*models.Plan, error) {
	cacheKey := planCacheKeyPrefix + code
	if raw, err := cache.Get(cacheKey); err == nil {
		var plan models.Plan
		if err := json.Unmarshal([]byte(raw), &plan); err == nil {
			return &plan, nil
		}
	}

	var plan models.Plan
	if err := r.db.Where("code = ?", code).First(&plan).Error; err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(&plan); err == nil {
		_ = cache.Set(cacheKey, raw, planCacheTTL)
	}
	return &plan, nil
}

func (r *planRepository) List() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Order("price ASC").Find(&plans).Error
	return plans, err
}
