package billing

import (
	"context"
	"testing"
	"time"

	"github.com/hanflix/billing/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSubscriptionTestEnv() (*fakeRepo, *fakeNotifier, *SubscriptionService) {
	repo := newFakeRepo()
	notifier := &fakeNotifier{}
	svc := NewSubscriptionService(repo, notifier)
	svc.now = func() time.Time { return testNow }
	return repo, notifier, svc
}

func TestSubscribeStartsNewPeriodNow(t *testing.T) {
	repo, _, svc := newSubscriptionTestEnv()
	repo.addPlan(models.Plan{Code: "BASIC", Name: "베이직", Price: 5000})
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	sub, err := svc.Subscribe(context.Background(), user.ID, "BASIC")
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, testNow, sub.StartAt)
	assert.Equal(t, testNow.AddDate(0, 1, 0), sub.EndAt)
	assert.True(t, sub.AutoRenew)
	require.NotNil(t, sub.NextBillingAt)
	assert.Equal(t, sub.EndAt, *sub.NextBillingAt)
	assert.Equal(t, models.SubscriptionMaxRetry, sub.MaxRetry)
}

func TestSubscribeCarriesOverRemainingTime(t *testing.T) {
	repo, _, svc := newSubscriptionTestEnv()
	repo.addPlan(models.Plan{Code: "BASIC", Name: "베이직", Price: 5000})
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	first, err := svc.Subscribe(context.Background(), user.ID, "BASIC")
	require.NoError(t, err)

	second, err := svc.Subscribe(context.Background(), user.ID, "BASIC")
	require.NoError(t, err)

	// A repeat purchase must not eat the already-paid period.
	assert.Equal(t, first.EndAt, second.StartAt)
	assert.Equal(t, testNow.AddDate(0, 2, 0), second.EndAt)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSubscribeCarriesOverFromPastDueRow(t *testing.T) {
	repo, _, svc := newSubscriptionTestEnv()
	plan := repo.addPlan(models.Plan{Code: "BASIC", Name: "베이직", Price: 5000})
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	// A failed renewal parked the row past_due, but the paid period still
	// has ten days left.
	end := testNow.Add(10 * 24 * time.Hour)
	pastDue := &models.Subscription{
		UserID:   user.ID,
		PlanID:   plan.ID,
		PlanCode: plan.Code,
		Status:   models.SubscriptionStatusPastDue,
		StartAt:  end.AddDate(0, -1, 0),
		EndAt:    end,
		MaxRetry: models.SubscriptionMaxRetry,
	}
	require.NoError(t, repo.CreateSubscription(pastDue))

	sub, err := svc.Subscribe(context.Background(), user.ID, "BASIC")
	require.NoError(t, err)
	assert.Equal(t, end, sub.StartAt)
	assert.Equal(t, end.AddDate(0, 1, 0), sub.EndAt)
}

func TestSubscribeDoesNotCarryOverRefundedRow(t *testing.T) {
	repo, _, svc := newSubscriptionTestEnv()
	plan := repo.addPlan(models.Plan{Code: "BASIC", Name: "베이직", Price: 5000})
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	// Refund canceled the row immediately; its end_at is still in the
	// future but that time was paid back.
	canceledAt := testNow.Add(-time.Hour)
	canceled := &models.Subscription{
		UserID:     user.ID,
		PlanID:     plan.ID,
		PlanCode:   plan.Code,
		Status:     models.SubscriptionStatusCanceled,
		StartAt:    testNow.AddDate(0, -1, 0),
		EndAt:      testNow.Add(20 * 24 * time.Hour),
		CanceledAt: &canceledAt,
		MaxRetry:   models.SubscriptionMaxRetry,
	}
	require.NoError(t, repo.CreateSubscription(canceled))

	sub, err := svc.Subscribe(context.Background(), user.ID, "BASIC")
	require.NoError(t, err)
	assert.Equal(t, testNow, sub.StartAt)
}

func TestSubscribeUnknownPlan(t *testing.T) {
	repo, _, svc := newSubscriptionTestEnv()
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	_, err := svc.Subscribe(context.Background(), user.ID, "NOPE")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestCancelIsSoftAndNotifiesOnce(t *testing.T) {
	repo, notifier, svc := newSubscriptionTestEnv()
	repo.addPlan(models.Plan{Code: "BASIC", Name: "베이직", Price: 5000})
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	sub, err := svc.Subscribe(context.Background(), user.ID, "BASIC")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), user.ID, "cancel-key-1"))

	got, err := repo.GetSubscriptionByID(sub.ID)
	require.NoError(t, err)
	assert.False(t, got.AutoRenew)
	assert.True(t, got.CancelAtPeriodEnd)
	// Access persists through the paid period.
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
	assert.True(t, got.IsEffective(testNow))
	assert.Equal(t, 1, notifier.cancelAtPeriodEnd)
}

func TestCancelReplayedKeyIsNoOp(t *testing.T) {
	repo, notifier, svc := newSubscriptionTestEnv()
	repo.addPlan(models.Plan{Code: "BASIC", Name: "베이직", Price: 5000})
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	_, err := svc.Subscribe(context.Background(), user.ID, "BASIC")
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), user.ID, "cancel-key-1"))
	require.NoError(t, svc.Cancel(context.Background(), user.ID, "cancel-key-1"))

	assert.Equal(t, 1, notifier.cancelAtPeriodEnd)
}

func TestCancelLosingKeyRaceSkipsDuplicateNotice(t *testing.T) {
	repo, notifier, svc := newSubscriptionTestEnv()
	repo.addPlan(models.Plan{Code: "BASIC", Name: "베이직", Price: 5000})
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	_, err := svc.Subscribe(context.Background(), user.ID, "BASIC")
	require.NoError(t, err)

	// A racing cancel with the same key commits between the pre-check and
	// this transaction's key insert.
	repo.keys["cancel-race|"+models.IdempotencyPurposeCancel] = true
	repo.staleKeyReads = true

	require.NoError(t, svc.Cancel(context.Background(), user.ID, "cancel-race"))
	assert.Equal(t, 0, notifier.cancelAtPeriodEnd)
}

func TestCancelWithoutActiveSubscription(t *testing.T) {
	repo, _, svc := newSubscriptionTestEnv()
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	err := svc.Cancel(context.Background(), user.ID, "cancel-key-1")
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

func TestGetCurrentReportsLapsedRowAsExpired(t *testing.T) {
	repo, _, svc := newSubscriptionTestEnv()
	repo.addPlan(models.Plan{Code: "BASIC", Name: "베이직", Price: 5000})
	user := repo.addUser(models.User{Email: "a@hanflix.kr"})

	lapsed := &models.Subscription{
		UserID:   user.ID,
		PlanID:   1,
		PlanCode: "BASIC",
		Status:   models.SubscriptionStatusActive,
		StartAt:  testNow.AddDate(0, -2, 0),
		EndAt:    testNow.AddDate(0, -1, 0),
	}
	require.NoError(t, repo.CreateSubscription(lapsed))

	// The lapsed row is still returned so the read path can surface the
	// derived expired status; the stored status is never rewritten.
	got, err := svc.GetCurrent(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, lapsed.ID, got.ID)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
	assert.Equal(t, models.SubscriptionStatusExpired, got.EffectiveStatus(testNow))

	none, err := svc.GetCurrent(context.Background(), user.ID+1)
	require.NoError(t, err)
	assert.Nil(t, none)
}
