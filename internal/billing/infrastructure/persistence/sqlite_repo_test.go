package persistence_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/internal/billing/infrastructure/persistence"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
	_ "github.com/medplan/medplan/internal/shared/infrastructure/database/sqlite"
	"github.com/medplan/medplan/internal/shared/infrastructure/migrations"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) database.Connection {
	t.Helper()
	ctx := context.Background()
	conn, err := database.Open(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "billing.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = migrations.Run(ctx, conn)
	require.NoError(t, err)
	return conn
}

func createSubscription(t *testing.T, repo domain.SubscriptionRepository) *domain.Subscription {
	t.Helper()
	s := domain.NewFreeSubscription(domain.Owner{Type: domain.SubscriberDoctor, ID: uuid.New()}, time.Now())
	require.NoError(t, repo.Create(context.Background(), s))
	return s
}

func pendingPayment(subID uuid.UUID, createdAt time.Time) *domain.Payment {
	price := domain.Price{Amount: decimal.RequireFromString("25000.50"), Currency: "XOF"}
	return domain.NewPendingPayment(subID, price, domain.NewPlanChangeIntent(domain.PlanPremium, 3), createdAt)
}

func TestSQLiteSubscriptionRepository_CreateFindUpdate(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	repo := persistence.NewSubscriptionRepository(conn)
	_, ok := repo.(*persistence.SQLiteSubscriptionRepository)
	require.True(t, ok)

	s := createSubscription(t, repo)

	found, err := repo.FindByOwner(ctx, s.Owner())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, s.ID, found.ID)
	assert.Equal(t, domain.PlanFree, found.Plan)
	assert.Nil(t, found.EndDate)

	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	found.ApplyPlanChange(domain.PlanStandard, 2, now)
	require.NoError(t, repo.Update(ctx, found))

	reloaded, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStandard, reloaded.Plan)
	assert.Equal(t, domain.StatusActive, reloaded.Status)
	require.NotNil(t, reloaded.EndDate)
	assert.True(t, reloaded.EndDate.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestSQLiteSubscriptionRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewSQLiteSubscriptionRepository(setupTestDB(t))

	found, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)

	err = repo.Update(ctx, &domain.Subscription{ID: uuid.New(), Plan: domain.PlanFree, Status: domain.StatusActive})
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestSQLiteSubscriptionRepository_OneSubscriptionPerOwner(t *testing.T) {
	ctx := context.Background()
	repo := persistence.NewSQLiteSubscriptionRepository(setupTestDB(t))
	s := createSubscription(t, repo)

	dup := domain.NewFreeSubscription(s.Owner(), time.Now())
	assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrSubscriptionExists)
}

func TestSQLitePaymentRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	subs := persistence.NewSQLiteSubscriptionRepository(conn)
	repo := persistence.NewPaymentRepository(conn)
	s := createSubscription(t, subs)

	p := pendingPayment(s.ID, time.Now())
	require.NoError(t, repo.Create(ctx, p))

	p.PayToken = "pay-123"
	p.NotifToken = "notif-456"
	p.ExternalOrderID = "OM-789"
	require.NoError(t, repo.AttachProviderRefs(ctx, p))

	found, err := repo.FindByTransactionID(ctx, p.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, p.ID, found.ID)
	assert.True(t, p.Amount.Equal(found.Amount))
	assert.Equal(t, domain.NewPlanChangeIntent(domain.PlanPremium, 3), found.Intent)
	assert.Equal(t, "pay-123", found.PayToken)
	assert.Equal(t, "notif-456", found.NotifToken)
	assert.Equal(t, domain.PaymentPending, found.Status)

	pending, err := repo.FindPendingBySubscription(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, p.ID, pending.ID)

	require.NoError(t, found.Complete(time.Now()))
	ok, err := repo.TransitionStatus(ctx, found)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second settle attempt loses.
	again := *found
	again.Status = domain.PaymentFailed
	ok, err = repo.TransitionStatus(ctx, &again)
	require.NoError(t, err)
	assert.False(t, ok)

	reloaded, err := repo.FindByTransactionID(ctx, p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)

	pending, err = repo.FindPendingBySubscription(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestSQLitePaymentRepository_OnePendingPerSubscription(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	subs := persistence.NewSQLiteSubscriptionRepository(conn)
	repo := persistence.NewSQLitePaymentRepository(conn)
	s := createSubscription(t, subs)

	require.NoError(t, repo.Create(ctx, pendingPayment(s.ID, time.Now())))

	err := repo.Create(ctx, pendingPayment(s.ID, time.Now().Add(time.Millisecond)))
	assert.ErrorIs(t, err, domain.ErrCheckoutInProgress)
}

func TestSQLitePaymentRepository_DuplicateTransactionIDIsNotCheckoutInProgress(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	subs := persistence.NewSQLiteSubscriptionRepository(conn)
	repo := persistence.NewSQLitePaymentRepository(conn)
	s := createSubscription(t, subs)

	first := pendingPayment(s.ID, time.Now())
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, first.Fail(domain.FailureProviderError, time.Now()))
	ok, err := repo.TransitionStatus(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	retry := pendingPayment(s.ID, time.Now())
	retry.TransactionID = first.TransactionID
	err = repo.Create(ctx, retry)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCheckoutInProgress)
	assert.True(t, database.IsUniqueViolation(err))
}

func TestSQLitePaymentRepository_Listing(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	subs := persistence.NewSQLiteSubscriptionRepository(conn)
	repo := persistence.NewSQLitePaymentRepository(conn)
	s := createSubscription(t, subs)

	base := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	old := pendingPayment(s.ID, base)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, old.Fail(domain.FailureCancelled, base))
	_, err := repo.TransitionStatus(ctx, old)
	require.NoError(t, err)

	fresh := pendingPayment(s.ID, base.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, fresh))

	list, err := repo.ListBySubscription(ctx, s.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, fresh.ID, list[0].ID)
	assert.Equal(t, domain.FailureCancelled, list[1].FailureReason)

	stale, err := repo.ListStalePending(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, fresh.ID, stale[0].ID)

	stale, err = repo.ListStalePending(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestSQLitePaymentRepository_JoinsTransaction(t *testing.T) {
	ctx := context.Background()
	conn := setupTestDB(t)
	subs := persistence.NewSQLiteSubscriptionRepository(conn)
	repo := persistence.NewSQLitePaymentRepository(conn)
	s := createSubscription(t, subs)
	uow := database.NewUnitOfWork(conn)

	p := pendingPayment(s.ID, time.Now())
	txCtx, err := uow.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Create(txCtx, p))
	require.NoError(t, uow.Rollback(txCtx))

	found, err := repo.FindByTransactionID(ctx, p.TransactionID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
