package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/hanflix/billing/app/models"
	"github.com/hanflix/billing/internal/pkg/env"
	"github.com/hanflix/billing/internal/pkg/gateway"
	"github.com/hanflix/billing/internal/pkg/mail"
	"gorm.io/gorm"
)

const (
	defaultSchedulerIntervalHours = 6
	// retryBackoff is the short dunning backoff, distinct from the long
	// billing-period interval.
	retryBackoff      = 24 * time.Hour
	chargeTimeout     = 30 * time.Second
	defaultBatchLimit = 500
)

// Scheduler is the recurring-billing driver: on a fixed interval it scans
// subscriptions due for renewal and walks each through the dunning policy.
// It is the only autonomous writer and the sole owner of retry counters.
type Scheduler struct {
	repo     Repository
	gateway  gateway.Gateway
	subs     *SubscriptionService
	notifier mail.Notifier

	interval   time.Duration
	batchLimit int

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	now     func() time.Time
}

func NewScheduler(repo Repository, gw gateway.Gateway, subs *SubscriptionService, notifier mail.Notifier) *Scheduler {
	intervalHours := defaultSchedulerIntervalHours
	if v, err := strconv.Atoi(env.GetEnv("BILLING_SCHEDULER_INTERVAL_HOURS", "")); err == nil && v > 0 {
		intervalHours = v
	}

	return &Scheduler{
		repo:       repo,
		gateway:    gw,
		subs:       subs,
		notifier:   notifier,
		interval:   time.Duration(intervalHours) * time.Hour,
		batchLimit: defaultBatchLimit,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// NewSchedulerFromDB wires the scheduler with the Toss adapter and SMTP
// notifier.
func NewSchedulerFromDB(db *gorm.DB) *Scheduler {
	repo := NewRepository(db)
	notifier := mail.NewSMTPNotifier()
	return NewScheduler(repo, gateway.NewTossClientFromEnv(), NewSubscriptionService(repo, notifier), notifier)
}

// Start begins the periodic billing loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	// Recreate stop channel for each start cycle so the scheduler can be
	// restarted safely.
	s.stopCh = make(chan struct{})
	s.running = true
	s.ticker = time.NewTicker(s.interval)

	s.wg.Add(1)
	go s.loop()

	log.Infof("[Billing Scheduler] Started (interval %s)", s.interval)
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.wg.Wait()
	s.running = false

	log.Info("[Billing Scheduler] Stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ticker.C:
			if err := s.RunOnce(context.Background()); err != nil {
				log.Errorf("[Billing Scheduler] run failed: %v", err)
			}
		}
	}
}

// RunOnce processes every due subscription once. One subscription's failure
// never aborts the batch: each is wrapped in its own recover boundary and
// degrades to a past_due/retry transition.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now()
	due, err := s.repo.ListDueSubscriptions(now, s.batchLimit)
	if err != nil {
		return fmt.Errorf("list due subscriptions: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var failed int
	for i := range due {
		if err := s.processSubscription(ctx, due[i].ID); err != nil {
			failed++
			log.Errorf("[Billing Scheduler] subscription %d: %v", due[i].ID, err)
		}
	}
	log.Infof("[Billing Scheduler] processed %d due subscriptions (%d errored)", len(due), failed)
	return nil
}

func (s *Scheduler) processSubscription(ctx context.Context, subID uint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var exhausted *models.Subscription
	err = s.repo.Transaction(func(repo Repository) error {
		sub, err := repo.GetSubscriptionByID(subID)
		if err != nil {
			return err
		}

		now := s.now()
		// Re-check under the transaction: a racing webhook may have
		// extended or canceled the row since the scan.
		if !s.stillDue(sub, now) {
			return nil
		}

		if err := s.applyScheduledPlanChange(repo, sub, now); err != nil {
			return err
		}

		plan, err := repo.GetPlanByID(sub.PlanID)
		if err != nil {
			return err
		}
		user, err := repo.GetUserByID(sub.UserID)
		if err != nil {
			return err
		}

		methods, err := repo.ListChargeablePaymentMethods(sub.UserID)
		if err != nil {
			return err
		}
		if len(methods) == 0 {
			// Nothing to retry yet; park the row without burning a retry.
			sub.Status = models.SubscriptionStatusPastDue
			sub.LastRetryAt = &now
			sub.LastErrorCode = "no_payment_method"
			sub.LastErrorMessage = "user has no chargeable payment method"
			return repo.SaveSubscription(sub)
		}

		result, declineErr := s.chargeAnyMethod(ctx, user, plan, methods)
		if result != nil {
			return s.renew(repo, sub, plan, result, now)
		}

		exhaustedNow, err := s.recordFailure(repo, sub, declineErr, now)
		if err != nil {
			return err
		}
		if exhaustedNow {
			exhausted = sub
		}
		return nil
	})
	if err != nil {
		return err
	}

	if exhausted != nil {
		s.notifyDunningExhausted(exhausted)
	}
	return nil
}

func (s *Scheduler) stillDue(sub *models.Subscription, now time.Time) bool {
	if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusPastDue {
		return false
	}
	if !sub.AutoRenew || sub.NextBillingAt == nil {
		return false
	}
	return !sub.NextBillingAt.After(now)
}

// applyScheduledPlanChange lands a pending downgrade at the renewal
// boundary, so the upcoming charge is priced at the new plan.
func (s *Scheduler) applyScheduledPlanChange(repo Repository, sub *models.Subscription, now time.Time) error {
	if sub.NextPlanID == nil || sub.PlanChangeScheduledAt == nil || sub.PlanChangeScheduledAt.After(now) {
		return nil
	}
	next, err := repo.GetPlanByID(*sub.NextPlanID)
	if err != nil {
		return err
	}
	sub.PlanID = next.ID
	sub.PlanCode = next.Code
	sub.NextPlanID = nil
	sub.NextPlanCode = ""
	sub.PlanChangeScheduledAt = nil
	return nil
}

// chargeAnyMethod tries each saved method in order until one succeeds. The
// winning method is returned with the charge result; when every method
// declines the last decline is returned for error stamping.
func (s *Scheduler) chargeAnyMethod(ctx context.Context, user *models.User, plan *models.Plan, methods []models.PaymentMethod) (*chargeOutcome, error) {
	description := fmt.Sprintf("%s 정기 결제", plan.Name)

	var lastErr error
	for i := range methods {
		m := &methods[i]

		chargeCtx, cancel := context.WithTimeout(ctx, chargeTimeout)
		res, err := s.gateway.ChargeSavedMethod(chargeCtx, user.ProviderCustomerRef, m.ProviderMethodID, plan.Price, plan.Currency, description)
		cancel()

		if err == nil {
			return &chargeOutcome{method: m, result: res}, nil
		}
		lastErr = err

		var ce *gateway.ChargeError
		if errors.As(err, &ce) {
			log.Warnf("[Billing Scheduler] method %d declined (%s/%s)", m.ID, ce.Kind, ce.Code)
		} else {
			log.Warnf("[Billing Scheduler] method %d charge error: %v", m.ID, err)
		}
	}
	return nil, lastErr
}

type chargeOutcome struct {
	method *models.PaymentMethod
	result *gateway.ChargeResult
}

// renew records the succeeded payment and extends the period in place.
func (s *Scheduler) renew(repo Repository, sub *models.Subscription, plan *models.Plan, outcome *chargeOutcome, now time.Time) error {
	res := outcome.result
	paidAt := res.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	payment := &models.Payment{
		UserID:            sub.UserID,
		PlanID:            plan.ID,
		PlanCode:          plan.Code,
		Provider:          outcome.method.Provider,
		Amount:            plan.Price,
		Currency:          plan.Currency,
		Status:            models.PaymentStatusSucceeded,
		ProviderPaymentID: res.ProviderPaymentID,
		ReceiptURL:        res.ReceiptURL,
		PaidAt:            &paidAt,
	}
	if err := repo.CreatePayment(payment); err != nil {
		return err
	}

	base := sub.EndAt
	if base.Before(now) {
		base = now
	}
	newEnd := base.AddDate(0, plan.PeriodMonths, 0)

	sub.EndAt = newEnd
	sub.NextBillingAt = &newEnd
	sub.Status = models.SubscriptionStatusActive
	sub.RetryCount = 0
	sub.LastErrorCode = ""
	sub.LastErrorMessage = ""
	return repo.SaveSubscription(sub)
}

// recordFailure applies the dunning policy after every method declined.
// Returns true when the retry budget is exhausted and the row was canceled.
func (s *Scheduler) recordFailure(repo Repository, sub *models.Subscription, declineErr error, now time.Time) (bool, error) {
	sub.Status = models.SubscriptionStatusPastDue
	sub.LastRetryAt = &now
	sub.LastErrorCode = "provider_error"
	sub.LastErrorMessage = ""
	var ce *gateway.ChargeError
	if errors.As(declineErr, &ce) {
		sub.LastErrorCode = ce.Code
		sub.LastErrorMessage = ce.Message
	} else if declineErr != nil {
		sub.LastErrorMessage = declineErr.Error()
	}

	sub.RetryCount++
	if sub.RetryCount >= sub.MaxRetry {
		sub.Status = models.SubscriptionStatusCanceled
		sub.AutoRenew = false
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = &now
		sub.NextBillingAt = nil
		return true, repo.SaveSubscription(sub)
	}

	next := now.Add(retryBackoff)
	sub.NextBillingAt = &next
	return false, repo.SaveSubscription(sub)
}

func (s *Scheduler) notifyDunningExhausted(sub *models.Subscription) {
	user, err := s.repo.GetUserByID(sub.UserID)
	if err != nil {
		log.Errorf("[Billing Scheduler] load user %d for dunning notice failed: %v", sub.UserID, err)
		return
	}
	if err := s.notifier.SendCanceledDueToDunning(user, sub); err != nil {
		log.Errorf("[Billing Scheduler] dunning notice to user %d failed: %v", sub.UserID, err)
	}
}
