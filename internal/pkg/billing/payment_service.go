package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hanflix/billing/app/models"
	"github.com/hanflix/billing/internal/pkg/gateway"
	"github.com/hanflix/billing/internal/pkg/mail"
	"gorm.io/gorm"
)

const (
	refundWindow            = 24 * time.Hour
	refundWatchLimitSeconds = 300
	// Episodes 1-3 are free to watch, so consumption below this number
	// never counts against refund eligibility.
	firstPaidEpisode = 4
)

// PaymentService owns the one-off payment lifecycle: hosted checkout
// creation, idempotent webhook application and refund execution. Subscription
// cascades go through the SubscriptionService so every status transition has
// one writer.
type PaymentService struct {
	repo    Repository
	gateway gateway.Gateway
	subs    *SubscriptionService
	now     func() time.Time
}

func NewPaymentService(repo Repository, gw gateway.Gateway, subs *SubscriptionService) *PaymentService {
	return &PaymentService{
		repo:    repo,
		gateway: gw,
		subs:    subs,
		now:     time.Now,
	}
}

// NewPaymentServiceFromDB wires the service with the Toss adapter and SMTP
// notifier.
func NewPaymentServiceFromDB(db *gorm.DB) *PaymentService {
	repo := NewRepository(db)
	return NewPaymentService(repo, gateway.NewTossClientFromEnv(), NewSubscriptionService(repo, mail.NewSMTPNotifier()))
}

// Checkout creates a pending payment with the plan price snapshotted and a
// provider-hosted checkout session for it.
func (s *PaymentService) Checkout(ctx context.Context, userID uint, planCode, successURL, cancelURL, idempotencyKey string) (*CheckoutResult, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		seen, err := s.repo.HasIdempotencyKey(key, models.IdempotencyPurposeCheckout)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, ErrConflict
		}
	}

	plan, err := s.repo.GetPlanByCode(strings.TrimSpace(planCode))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	var result *CheckoutResult
	err = s.repo.Transaction(func(repo Repository) error {
		p := &models.Payment{
			UserID:   userID,
			PlanID:   plan.ID,
			PlanCode: plan.Code,
			Provider: models.PaymentProviderToss,
			Amount:   plan.Price,
			Currency: plan.Currency,
			Status:   models.PaymentStatusPending,
		}
		if err := repo.CreatePayment(p); err != nil {
			return err
		}

		session, err := s.gateway.CreateCheckoutSession(ctx, user, plan, successURL, cancelURL)
		if err != nil {
			return err
		}
		p.ProviderSessionID = session.SessionID
		if err := repo.SavePayment(p); err != nil {
			return err
		}

		if key != "" {
			created, err := repo.RecordIdempotencyKey(key, models.IdempotencyPurposeCheckout)
			if err != nil {
				return err
			}
			if !created {
				// A concurrent request with the same key committed after
				// the pre-check; roll this payment back.
				return ErrConflict
			}
		}

		result = &CheckoutResult{
			PaymentID:   p.ID,
			SessionID:   session.SessionID,
			RedirectURL: session.RedirectURL,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyWebhookEvent applies one provider event to the payment it references.
// Repeated delivery of the same event id is a no-op success; events whose
// payload or ordering contradicts the stored payment are rejected.
func (s *PaymentService) ApplyWebhookEvent(ctx context.Context, paymentID uint, ev WebhookEvent) error {
	_ = ctx
	err := s.repo.Transaction(func(repo Repository) error {
		seen, err := repo.HasIdempotencyKey(ev.EventID, models.IdempotencyPurposeWebhook)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}

		p, err := repo.GetPaymentByID(paymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		if err := validateEventAgainstPayment(ev, p); err != nil {
			return err
		}

		status := strings.ToLower(strings.TrimSpace(ev.Status))
		duplicate, err := checkEventOrder(status, p)
		if err != nil {
			return err
		}
		if duplicate {
			// Terminal state already applied by an earlier event or an
			// inline refund; consume the event id and stop.
			created, err := repo.RecordIdempotencyKey(ev.EventID, models.IdempotencyPurposeWebhook)
			if err != nil {
				return err
			}
			if !created {
				return errKeyConsumed
			}
			return nil
		}

		switch status {
		case WebhookStatusSucceeded:
			if err := s.applySucceeded(repo, p, ev); err != nil {
				return err
			}
		case WebhookStatusFailed:
			if err := s.applyFailed(repo, p); err != nil {
				return err
			}
		case WebhookStatusCanceled:
			if err := s.applyCanceled(repo, p); err != nil {
				return err
			}
		case WebhookStatusRefunded:
			if err := s.applyRefund(repo, p, p.Amount, s.eventTime(ev)); err != nil {
				return err
			}
		default:
			return ErrUnsupportedEvent
		}

		created, err := repo.RecordIdempotencyKey(ev.EventID, models.IdempotencyPurposeWebhook)
		if err != nil {
			return err
		}
		if !created {
			// Unique index caught a racing delivery of the same event id;
			// the winner already applied it, so this apply rolls back.
			return errKeyConsumed
		}
		return nil
	})
	if errors.Is(err, errKeyConsumed) {
		return nil
	}
	return err
}

// RefundIfEligible executes the full-amount refund policy: the payment must
// belong to the caller, be succeeded and paid within the last 24 hours, and
// the user must have watched fewer than 300 seconds of paid episodes since
// paying. The subscription cancellation cascades inline; the provider's
// later refunded webhook sees a terminal payment and no-ops.
func (s *PaymentService) RefundIfEligible(ctx context.Context, userID, paymentID uint) (*models.Payment, error) {
	p, err := s.repo.GetPaymentByID(paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrForbidden
	}
	if p.Status != models.PaymentStatusSucceeded || p.PaidAt == nil {
		return nil, ErrNotEligibleForRefund
	}

	now := s.now()
	if now.Sub(*p.PaidAt) > refundWindow {
		return nil, ErrNotEligibleForRefund
	}
	watched, err := s.repo.SumWatchedSeconds(userID, firstPaidEpisode, *p.PaidAt)
	if err != nil {
		return nil, err
	}
	if watched >= refundWatchLimitSeconds {
		return nil, ErrNotEligibleForRefund
	}

	res, err := s.gateway.IssueRefund(ctx, p.ProviderPaymentID, p.Amount)
	if err != nil {
		return nil, err
	}

	err = s.repo.Transaction(func(repo Repository) error {
		fresh, err := repo.GetPaymentByID(p.ID)
		if err != nil {
			return err
		}
		p = fresh
		if p.Status == models.PaymentStatusRefunded {
			// A provider webhook settled the refund while the gateway call
			// was in flight; keep its timestamps.
			return nil
		}
		return s.applyRefund(repo, p, p.Amount, res.RefundedAt)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PaymentService) applySucceeded(repo Repository, p *models.Payment, ev WebhookEvent) error {
	paidAt := s.eventTime(ev)
	p.Status = models.PaymentStatusSucceeded
	p.PaidAt = &paidAt
	if ev.ProviderPaymentID != "" {
		p.ProviderPaymentID = ev.ProviderPaymentID
	}
	if ev.ReceiptURL != "" {
		p.ReceiptURL = ev.ReceiptURL
	}
	if err := repo.SavePayment(p); err != nil {
		return err
	}

	if meta := parsePaymentMetadata(p); meta.Proration && meta.TargetPlanCode != "" {
		target, err := repo.GetPlanByCode(meta.TargetPlanCode)
		if err != nil {
			return err
		}
		return s.subs.swapPlan(repo, p.UserID, target)
	}

	_, err := s.subs.subscribe(repo, p.UserID, p.PlanCode)
	return err
}

func (s *PaymentService) applyFailed(repo Repository, p *models.Payment) error {
	now := s.now()
	p.Status = models.PaymentStatusFailed
	p.FailedAt = &now
	if err := repo.SavePayment(p); err != nil {
		return err
	}
	return s.subs.markPastDue(repo, p.UserID)
}

func (s *PaymentService) applyCanceled(repo Repository, p *models.Payment) error {
	now := s.now()
	p.Status = models.PaymentStatusCanceled
	p.CanceledAt = &now
	if err := repo.SavePayment(p); err != nil {
		return err
	}
	return s.subs.softCancel(repo, p.UserID)
}

// applyRefund is the single source of the refund transition, shared by the
// webhook path and RefundIfEligible.
func (s *PaymentService) applyRefund(repo Repository, p *models.Payment, amount int64, at time.Time) error {
	p.Status = models.PaymentStatusRefunded
	p.RefundedAt = &at
	p.RefundedAmount = amount
	if err := repo.SavePayment(p); err != nil {
		return err
	}
	return s.subs.cancelImmediately(repo, p.UserID)
}

func (s *PaymentService) eventTime(ev WebhookEvent) time.Time {
	if ev.OccurredAt != nil && !ev.OccurredAt.IsZero() {
		return *ev.OccurredAt
	}
	return s.now()
}

// validateEventAgainstPayment re-validates optional event fields against the
// stored payment. A signature-valid event that references the wrong payment
// must never be applied.
func validateEventAgainstPayment(ev WebhookEvent, p *models.Payment) error {
	if ev.Amount != nil && *ev.Amount != p.Amount {
		return ErrPayloadMismatch
	}
	if ev.Currency != nil && !strings.EqualFold(*ev.Currency, p.Currency) {
		return ErrPayloadMismatch
	}
	if ev.ProviderSessionID != nil && p.ProviderSessionID != "" && *ev.ProviderSessionID != p.ProviderSessionID {
		return ErrPayloadMismatch
	}
	return nil
}

// checkEventOrder enforces causal ordering: each event status requires a
// compatible current payment status. An event matching the payment's current
// terminal status is reported as a duplicate no-op.
func checkEventOrder(status string, p *models.Payment) (duplicate bool, err error) {
	switch status {
	case WebhookStatusSucceeded:
		if p.Status == models.PaymentStatusSucceeded {
			return true, nil
		}
		if p.Status != models.PaymentStatusPending {
			return false, ErrOutOfOrderEvent
		}
	case WebhookStatusFailed:
		if p.Status == models.PaymentStatusFailed {
			return true, nil
		}
		if p.Status != models.PaymentStatusPending {
			return false, ErrOutOfOrderEvent
		}
	case WebhookStatusCanceled:
		if p.Status == models.PaymentStatusCanceled {
			return true, nil
		}
		if p.Status != models.PaymentStatusPending {
			return false, ErrOutOfOrderEvent
		}
	case WebhookStatusRefunded:
		if p.Status == models.PaymentStatusRefunded {
			return true, nil
		}
		if p.Status != models.PaymentStatusSucceeded {
			return false, ErrOutOfOrderEvent
		}
	default:
		return false, ErrUnsupportedEvent
	}
	return false, nil
}

func parsePaymentMetadata(p *models.Payment) paymentMetadata {
	var meta paymentMetadata
	if strings.TrimSpace(p.Metadata) == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(p.Metadata), &meta); err != nil {
		log.Warnf("[Billing] payment %d has unreadable metadata: %v", p.ID, err)
	}
	return meta
}
