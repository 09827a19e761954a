package billing

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/hanflix/billing/app/models"
	"github.com/hanflix/billing/internal/pkg/gateway"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository. Reads return copies and writes store
// copies so a forgotten Save shows up as a test failure, and Transaction
// restores a snapshot on error so rollbacks behave like a real database.
type fakeRepo struct {
	plans    map[string]models.Plan
	users    map[uint]models.User
	methods  map[uint][]models.PaymentMethod
	payments map[uint]models.Payment
	subs     map[uint]models.Subscription
	keys     map[string]bool
	watch    []models.WatchLog

	// staleKeyReads makes HasIdempotencyKey report every key as unseen,
	// modeling a concurrent writer that commits its key between this
	// transaction's pre-check and its insert.
	staleKeyReads bool

	nextPaymentID uint
	nextSubID     uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		plans:    map[string]models.Plan{},
		users:    map[uint]models.User{},
		methods:  map[uint][]models.PaymentMethod{},
		payments: map[uint]models.Payment{},
		subs:     map[uint]models.Subscription{},
		keys:     map[string]bool{},
	}
}

func (r *fakeRepo) addPlan(p models.Plan) models.Plan {
	if p.ID == 0 {
		p.ID = uint(len(r.plans) + 1)
	}
	if p.Currency == "" {
		p.Currency = "KRW"
	}
	if p.PeriodMonths == 0 {
		p.PeriodMonths = 1
	}
	r.plans[p.Code] = p
	return p
}

func (r *fakeRepo) addUser(u models.User) models.User {
	if u.ID == 0 {
		u.ID = uint(len(r.users) + 1)
	}
	r.users[u.ID] = u
	return u
}

func (r *fakeRepo) clone() *fakeRepo {
	cp := *r
	cp.plans = maps.Clone(r.plans)
	cp.users = maps.Clone(r.users)
	cp.methods = maps.Clone(r.methods)
	cp.payments = maps.Clone(r.payments)
	cp.subs = maps.Clone(r.subs)
	cp.keys = maps.Clone(r.keys)
	cp.watch = append([]models.WatchLog(nil), r.watch...)
	return &cp
}

func (r *fakeRepo) Transaction(fn func(Repository) error) error {
	snap := r.clone()
	if err := fn(r); err != nil {
		*r = *snap
		return err
	}
	return nil
}

func (r *fakeRepo) GetPlanByCode(code string) (*models.Plan, error) {
	p, ok := r.plans[code]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := p
	return &cp, nil
}

func (r *fakeRepo) GetPlanByID(id uint) (*models.Plan, error) {
	for _, p := range r.plans {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetUserByID(id uint) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := u
	return &cp, nil
}

func (r *fakeRepo) ListChargeablePaymentMethods(userID uint) ([]models.PaymentMethod, error) {
	var out []models.PaymentMethod
	for _, m := range r.methods[userID] {
		if m.DeletedAt == nil {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

func (r *fakeRepo) CreatePayment(p *models.Payment) error {
	r.nextPaymentID++
	p.ID = r.nextPaymentID
	p.CreatedAt = time.Now()
	r.payments[p.ID] = *p
	return nil
}

func (r *fakeRepo) GetPaymentByID(id uint) (*models.Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := p
	return &cp, nil
}

func (r *fakeRepo) SavePayment(p *models.Payment) error {
	if _, ok := r.payments[p.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.payments[p.ID] = *p
	return nil
}

func (r *fakeRepo) CreateSubscription(s *models.Subscription) error {
	r.nextSubID++
	s.ID = r.nextSubID
	s.CreatedAt = time.Now()
	r.subs[s.ID] = *s
	return nil
}

func (r *fakeRepo) SaveSubscription(s *models.Subscription) error {
	if _, ok := r.subs[s.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.subs[s.ID] = *s
	return nil
}

func (r *fakeRepo) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	s, ok := r.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := s
	return &cp, nil
}

func (r *fakeRepo) GetEffectiveSubscription(userID uint, now time.Time) (*models.Subscription, error) {
	var best *models.Subscription
	for id := range r.subs {
		s := r.subs[id]
		if s.UserID != userID || s.Status != models.SubscriptionStatusActive || !now.Before(s.EndAt) {
			continue
		}
		if best == nil || s.ID > best.ID {
			cp := s
			best = &cp
		}
	}
	return best, nil
}

func (r *fakeRepo) GetLatestSubscription(userID uint) (*models.Subscription, error) {
	var best *models.Subscription
	for id := range r.subs {
		s := r.subs[id]
		if s.UserID != userID {
			continue
		}
		if best == nil || s.ID > best.ID {
			cp := s
			best = &cp
		}
	}
	return best, nil
}

func (r *fakeRepo) ListDueSubscriptions(now time.Time, limit int) ([]models.Subscription, error) {
	var out []models.Subscription
	for id := range r.subs {
		s := r.subs[id]
		due := (s.Status == models.SubscriptionStatusActive || s.Status == models.SubscriptionStatusPastDue) &&
			s.AutoRenew && s.NextBillingAt != nil && !s.NextBillingAt.After(now)
		if due {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) RecordIdempotencyKey(key, purpose string) (bool, error) {
	k := key + "|" + purpose
	if r.keys[k] {
		return false, nil
	}
	r.keys[k] = true
	return true, nil
}

func (r *fakeRepo) HasIdempotencyKey(key, purpose string) (bool, error) {
	if r.staleKeyReads {
		return false, nil
	}
	return r.keys[key+"|"+purpose], nil
}

func (r *fakeRepo) SumWatchedSeconds(userID uint, minEpisode int, after time.Time) (int64, error) {
	var total int64
	for _, w := range r.watch {
		if w.UserID == userID && w.EpisodeNumber >= minEpisode && w.CreatedAt.After(after) {
			total += w.Seconds
		}
	}
	return total, nil
}

// fakeGateway scripts charge outcomes per method ref and records every call.
// onRefund, when set, runs during IssueRefund to model events landing while
// the gateway call is in flight.
type fakeGateway struct {
	chargeErrs map[string]error
	charged    []string
	sessions   int
	refunds    []string
	onRefund   func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{chargeErrs: map[string]error{}}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, user *models.User, plan *models.Plan, successURL, cancelURL string) (*gateway.CheckoutSession, error) {
	g.sessions++
	id := fmt.Sprintf("sess_%d", g.sessions)
	return &gateway.CheckoutSession{SessionID: id, RedirectURL: "https://pay.example.com/" + id}, nil
}

func (g *fakeGateway) ChargeSavedMethod(ctx context.Context, customerRef, methodRef string, amount int64, currency, description string) (*gateway.ChargeResult, error) {
	g.charged = append(g.charged, methodRef)
	if err, ok := g.chargeErrs[methodRef]; ok {
		return nil, err
	}
	return &gateway.ChargeResult{
		ProviderPaymentID: "pay_" + methodRef,
		PaidAt:            time.Now(),
		ReceiptURL:        "https://receipt.example.com/" + methodRef,
	}, nil
}

func (g *fakeGateway) IssueRefund(ctx context.Context, providerPaymentID string, amount int64) (*gateway.RefundResult, error) {
	g.refunds = append(g.refunds, providerPaymentID)
	if g.onRefund != nil {
		g.onRefund()
	}
	return &gateway.RefundResult{ProviderRefundID: "rf_" + providerPaymentID, RefundedAt: time.Now()}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	return signature == "valid"
}

// fakeNotifier counts outbound notices.
type fakeNotifier struct {
	cancelAtPeriodEnd int
	dunning           int
}

func (n *fakeNotifier) SendCancelAtPeriodEnd(user *models.User, sub *models.Subscription) error {
	n.cancelAtPeriodEnd++
	return nil
}

func (n *fakeNotifier) SendCanceledDueToDunning(user *models.User, sub *models.Subscription) error {
	n.dunning++
	return nil
}
