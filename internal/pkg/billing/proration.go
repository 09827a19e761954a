package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hanflix/billing/app/models"
	"github.com/hanflix/billing/internal/pkg/mail"
	"gorm.io/gorm"
)

// prorationDaysPerMonth is the naive daily-rate divisor. Both plans are
// priced over the same 30-day month so the difference stays monotonic in the
// target price.
const prorationDaysPerMonth = 30

// ProrationService prices mid-period upgrades and applies the immediate
// plan swap once the upgrade charge is paid.
type ProrationService struct {
	repo Repository
	subs *SubscriptionService
	now  func() time.Time
}

func NewProrationService(repo Repository, subs *SubscriptionService) *ProrationService {
	return &ProrationService{
		repo: repo,
		subs: subs,
		now:  time.Now,
	}
}

// NewProrationServiceFromDB creates the service from a GORM DB handle.
func NewProrationServiceFromDB(db *gorm.DB) *ProrationService {
	repo := NewRepository(db)
	return NewProrationService(repo, NewSubscriptionService(repo, mail.NewSMTPNotifier()))
}

// CreateProrationCheckout computes the price difference for the remaining
// whole days of the current period and creates a pending payment for it.
// Downgrades and differences that round to zero are rejected.
func (s *ProrationService) CreateProrationCheckout(ctx context.Context, userID uint, targetPlanCode string) (*ProrationCheckout, error) {
	_ = ctx
	now := s.now()

	sub, err := s.repo.GetEffectiveSubscription(userID, now)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNoActiveSubscription
	}

	current, err := s.repo.GetPlanByID(sub.PlanID)
	if err != nil {
		return nil, err
	}
	target, err := s.repo.GetPlanByCode(strings.TrimSpace(targetPlanCode))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if target.Price <= current.Price {
		return nil, ErrInvalidUpgrade
	}

	remainingDays := int64(sub.EndAt.Sub(now).Hours() / 24)
	amount := ProrationAmount(current.Price, target.Price, remainingDays)
	if amount <= 0 {
		return nil, ErrZeroProration
	}

	meta, _ := json.Marshal(paymentMetadata{
		Proration:      true,
		FromPlanCode:   current.Code,
		TargetPlanCode: target.Code,
	})
	p := &models.Payment{
		UserID:   userID,
		PlanID:   target.ID,
		PlanCode: target.Code,
		Provider: models.PaymentProviderToss,
		Amount:   amount,
		Currency: target.Currency,
		Status:   models.PaymentStatusPending,
		Metadata: string(meta),
	}
	if err := s.repo.CreatePayment(p); err != nil {
		return nil, err
	}

	return &ProrationCheckout{
		PaymentID:      p.ID,
		Amount:         amount,
		Currency:       p.Currency,
		Provider:       p.Provider,
		FromPlanCode:   current.Code,
		TargetPlanCode: target.Code,
	}, nil
}

// CompleteProrationPayment marks the upgrade payment as paid and swaps the
// subscription's plan in place, leaving end_at and next_billing_at alone.
func (s *ProrationService) CompleteProrationPayment(ctx context.Context, userID, paymentID uint) (*models.Subscription, error) {
	_ = ctx
	var out *models.Subscription
	err := s.repo.Transaction(func(repo Repository) error {
		p, err := repo.GetPaymentByID(paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if p.UserID != userID {
			return ErrForbidden
		}
		if p.Status != models.PaymentStatusPending {
			return ErrConflict
		}

		meta := parsePaymentMetadata(p)
		targetCode := meta.TargetPlanCode
		if targetCode == "" {
			targetCode = p.PlanCode
		}
		target, err := repo.GetPlanByCode(targetCode)
		if err != nil {
			return err
		}

		now := s.now()
		p.Status = models.PaymentStatusSucceeded
		p.PaidAt = &now
		if err := repo.SavePayment(p); err != nil {
			return err
		}
		if err := s.subs.swapPlan(repo, userID, target); err != nil {
			return err
		}

		out, err = repo.GetEffectiveSubscription(userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProrationAmount derives a naive per-day rate for both plans and charges
// the difference for the remaining days, floored at zero. Integer division
// is intentional: money stays in minor units end to end.
func ProrationAmount(currentPrice, targetPrice, remainingDays int64) int64 {
	if remainingDays <= 0 {
		return 0
	}
	currentDaily := currentPrice / prorationDaysPerMonth
	targetDaily := targetPrice / prorationDaysPerMonth
	amount := (targetDaily - currentDaily) * remainingDays
	if amount < 0 {
		return 0
	}
	return amount
}
