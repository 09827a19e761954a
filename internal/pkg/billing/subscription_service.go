package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hanflix/billing/app/models"
	"github.com/hanflix/billing/internal/pkg/mail"
	"gorm.io/gorm"
)

// SubscriptionService owns every subscription status transition. The payment
// service and the recurring scheduler cascade through it so the state
// machine has a single writer.
type SubscriptionService struct {
	repo     Repository
	notifier mail.Notifier
	now      func() time.Time
}

func NewSubscriptionService(repo Repository, notifier mail.Notifier) *SubscriptionService {
	return &SubscriptionService{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
	}
}

// NewSubscriptionServiceFromDB creates the service from a GORM DB handle.
func NewSubscriptionServiceFromDB(db *gorm.DB) *SubscriptionService {
	return NewSubscriptionService(NewRepository(db), mail.NewSMTPNotifier())
}

// Subscribe inserts a fresh subscription period for the plan. When the
// user's newest subscription still has paid time left (active or past_due
// with end_at in the future) the new period starts at that end_at, so repeat
// purchases never lose paid-for time.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID uint, planCode string) (*models.Subscription, error) {
	_ = ctx
	return s.subscribe(s.repo, userID, planCode)
}

func (s *SubscriptionService) subscribe(repo Repository, userID uint, planCode string) (*models.Subscription, error) {
	plan, err := repo.GetPlanByCode(strings.TrimSpace(planCode))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	now := s.now()
	startAt := now
	if latest, err := repo.GetLatestSubscription(userID); err != nil {
		return nil, err
	} else if latest != nil && latest.EndAt.After(now) && carriesOver(latest) {
		startAt = latest.EndAt
	}

	endAt := startAt.AddDate(0, plan.PeriodMonths, 0)
	sub := &models.Subscription{
		UserID:            userID,
		PlanID:            plan.ID,
		PlanCode:          plan.Code,
		Status:            models.SubscriptionStatusActive,
		StartAt:           startAt,
		EndAt:             endAt,
		AutoRenew:         true,
		CancelAtPeriodEnd: false,
		NextBillingAt:     &endAt,
		RetryCount:        0,
		MaxRetry:          models.SubscriptionMaxRetry,
	}
	if err := repo.CreateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// carriesOver reports whether a prior row's remaining time transfers to a new
// purchase. A failed renewal (past_due) keeps the time the user already paid
// for; a refund-canceled row does not, since that money went back.
func carriesOver(sub *models.Subscription) bool {
	return sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusPastDue
}

// swapPlan changes the effective subscription's plan in place. The period
// boundaries and next_billing_at stay untouched; an upgrade takes effect
// immediately at the already-scheduled renewal cadence.
func (s *SubscriptionService) swapPlan(repo Repository, userID uint, plan *models.Plan) error {
	sub, err := repo.GetEffectiveSubscription(userID, s.now())
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrNoActiveSubscription
	}
	sub.PlanID = plan.ID
	sub.PlanCode = plan.Code
	return repo.SaveSubscription(sub)
}

// Cancel reserves a soft cancellation: renewal stops but access persists
// through end_at. A replayed idempotency key is a success with no side
// effect.
func (s *SubscriptionService) Cancel(ctx context.Context, userID uint, idempotencyKey string) error {
	_ = ctx
	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		seen, err := s.repo.HasIdempotencyKey(key, models.IdempotencyPurposeCancel)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}

	err := s.repo.Transaction(func(repo Repository) error {
		sub, err := repo.GetEffectiveSubscription(userID, s.now())
		if err != nil {
			return err
		}
		if sub == nil {
			return ErrNoActiveSubscription
		}

		sub.AutoRenew = false
		sub.CancelAtPeriodEnd = true
		if err := repo.SaveSubscription(sub); err != nil {
			return err
		}
		if key != "" {
			created, err := repo.RecordIdempotencyKey(key, models.IdempotencyPurposeCancel)
			if err != nil {
				return err
			}
			if !created {
				// A racing request with the same key already canceled and
				// notified; roll back before the duplicate notice.
				return errKeyConsumed
			}
		}

		s.notifyCancelAtPeriodEnd(repo, sub)
		return nil
	})
	if errors.Is(err, errKeyConsumed) {
		return nil
	}
	return err
}

// GetCurrent returns the user's newest subscription row, lapsed or not, so
// the read path can report the derived expired status. Nil means the user
// never subscribed.
func (s *SubscriptionService) GetCurrent(ctx context.Context, userID uint) (*models.Subscription, error) {
	_ = ctx
	return s.repo.GetLatestSubscription(userID)
}

// markPastDue transitions an effective subscription to past_due after a
// failed charge reported by webhook. Retry counters stay untouched; they
// are owned by the scheduler.
func (s *SubscriptionService) markPastDue(repo Repository, userID uint) error {
	now := s.now()
	sub, err := repo.GetEffectiveSubscription(userID, now)
	if err != nil || sub == nil {
		return err
	}
	sub.Status = models.SubscriptionStatusPastDue
	sub.LastRetryAt = &now
	return repo.SaveSubscription(sub)
}

// softCancel disables renewal while preserving access, the same reservation
// a user-initiated cancel makes.
func (s *SubscriptionService) softCancel(repo Repository, userID uint) error {
	sub, err := repo.GetEffectiveSubscription(userID, s.now())
	if err != nil || sub == nil {
		return err
	}
	sub.AutoRenew = false
	sub.CancelAtPeriodEnd = true
	return repo.SaveSubscription(sub)
}

// cancelImmediately terminates access now. Refund is the only caller.
func (s *SubscriptionService) cancelImmediately(repo Repository, userID uint) error {
	now := s.now()
	sub, err := repo.GetEffectiveSubscription(userID, now)
	if err != nil || sub == nil {
		return err
	}
	sub.Status = models.SubscriptionStatusCanceled
	sub.AutoRenew = false
	sub.CancelAtPeriodEnd = true
	sub.CanceledAt = &now
	return repo.SaveSubscription(sub)
}

func (s *SubscriptionService) notifyCancelAtPeriodEnd(repo Repository, sub *models.Subscription) {
	user, err := repo.GetUserByID(sub.UserID)
	if err != nil {
		log.Errorf("[Billing] load user %d for cancel notice failed: %v", sub.UserID, err)
		return
	}
	if err := s.notifier.SendCancelAtPeriodEnd(user, sub); err != nil {
		log.Errorf("[Billing] cancel-at-period-end notice to user %d failed: %v", sub.UserID, err)
	}
}
