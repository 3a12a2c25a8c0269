package billing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/adapter/cli"
	"github.com/medplan/medplan/internal/billing/application"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	prices      *domain.PriceMatrix
	overview    *application.Overview
	caller      application.AuthenticatedSubscriber
	existing    *domain.Subscription
	swept       int
	sweptAfter  time.Duration
	finalized   []string
	finalizeOut *application.FinalizeOutcome
}

func (f *fakeService) Prices() *domain.PriceMatrix { return f.prices }

func (f *fakeService) EnsureSubscription(_ context.Context, owner domain.Owner) (*domain.Subscription, bool, error) {
	if f.existing != nil {
		return f.existing, false, nil
	}
	f.existing = domain.NewFreeSubscription(owner, time.Now())
	return f.existing, true, nil
}

func (f *fakeService) GetOverview(_ context.Context, caller application.AuthenticatedSubscriber) (*application.Overview, error) {
	f.caller = caller
	return f.overview, nil
}

func (f *fakeService) FinalizeByOrder(_ context.Context, orderID, amount string) (*application.FinalizeOutcome, error) {
	f.finalized = append(f.finalized, orderID+"/"+amount)
	return f.finalizeOut, nil
}

func (f *fakeService) SweepAbandoned(_ context.Context, olderThan time.Duration) (int, error) {
	f.sweptAfter = olderThan
	return f.swept, nil
}

func resetFlags() {
	subscriberType = ""
	subscriberID = ""
	sweepOlderThan = 30 * time.Minute
	finalizeAmount = ""
}

func withService(t *testing.T, svc *fakeService) {
	t.Helper()
	resetFlags()
	cli.SetApp(&cli.App{BillingService: svc})
	t.Cleanup(func() { cli.SetApp(nil) })
}

func newPrices(t *testing.T) *domain.PriceMatrix {
	t.Helper()
	prices, err := domain.NewPriceMatrix("XOF", map[string]string{
		"DOCTOR_STANDARD":   "10000",
		"DOCTOR_PREMIUM":    "25000",
		"HOSPITAL_STANDARD": "50000",
		"HOSPITAL_PREMIUM":  "120000",
	})
	require.NoError(t, err)
	return prices
}

func TestCommands_NoApp(t *testing.T) {
	resetFlags()
	cli.SetApp(nil)

	for _, cmd := range Cmd.Commands() {
		var output strings.Builder
		cmd.SetContext(context.Background())
		cmd.SetOut(&output)

		err := cmd.RunE(cmd, []string{"REN-x"})
		assert.NoError(t, err, cmd.Name())
		assert.Contains(t, output.String(), "require a database connection", cmd.Name())
	}
}

func TestPricingCmd(t *testing.T) {
	withService(t, &fakeService{prices: newPrices(t)})

	var output strings.Builder
	pricingCmd.SetContext(context.Background())
	pricingCmd.SetOut(&output)

	require.NoError(t, pricingCmd.RunE(pricingCmd, nil))
	assert.Contains(t, output.String(), "HOSPITAL")
	assert.Contains(t, output.String(), "120000 XOF")
}

func TestStatusCmd(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	svc := &fakeService{overview: &application.Overview{
		Subscription: &domain.Subscription{
			ID:        uuid.New(),
			OwnerType: domain.SubscriberDoctor,
			OwnerID:   id,
			Plan:      domain.PlanStandard,
			Status:    domain.StatusActive,
			StartDate: &start,
			EndDate:   &end,
		},
		DisplayStatus: domain.StatusActive,
		UnitPrice:     &domain.Price{Amount: decimal.NewFromInt(10000), Currency: "XOF"},
		RecentPayments: []*domain.Payment{{
			TransactionID: "REN-a-1-1",
			Status:        domain.PaymentCompleted,
			Amount:        decimal.NewFromInt(10000),
			Currency:      "XOF",
			CreatedAt:     start,
		}},
	}}
	withService(t, svc)
	subscriberType = "doctor"
	subscriberID = id.String()

	var output strings.Builder
	statusCmd.SetContext(context.Background())
	statusCmd.SetOut(&output)

	require.NoError(t, statusCmd.RunE(statusCmd, nil))
	out := output.String()
	assert.Contains(t, out, "Subscription: STANDARD (ACTIVE)")
	assert.Contains(t, out, "Ends: 2025-04-01")
	assert.Contains(t, out, "Monthly price: 10000 XOF")
	assert.Contains(t, out, "REN-a-1-1")

	assert.Equal(t, id, svc.caller.SubscriberID)
	assert.True(t, svc.caller.HasRole(application.RoleSuperadmin))
}

func TestStatusCmd_InvalidOwner(t *testing.T) {
	withService(t, &fakeService{})
	subscriberType = "PATIENT"
	subscriberID = uuid.NewString()

	statusCmd.SetContext(context.Background())
	err := statusCmd.RunE(statusCmd, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSubscriberType)

	subscriberType = "HOSPITAL"
	subscriberID = "not-a-uuid"
	err = statusCmd.RunE(statusCmd, nil)
	assert.Error(t, err)
}

func TestProvisionCmd(t *testing.T) {
	svc := &fakeService{}
	withService(t, svc)
	subscriberType = "HOSPITAL"
	subscriberID = uuid.NewString()

	var output strings.Builder
	provisionCmd.SetContext(context.Background())
	provisionCmd.SetOut(&output)

	require.NoError(t, provisionCmd.RunE(provisionCmd, nil))
	assert.Contains(t, output.String(), "Provisioned FREE subscription")

	output.Reset()
	require.NoError(t, provisionCmd.RunE(provisionCmd, nil))
	assert.Contains(t, output.String(), "already has subscription")
}

func TestSweepCmd(t *testing.T) {
	svc := &fakeService{swept: 3}
	withService(t, svc)
	sweepOlderThan = time.Hour

	var output strings.Builder
	sweepCmd.SetContext(context.Background())
	sweepCmd.SetOut(&output)

	require.NoError(t, sweepCmd.RunE(sweepCmd, nil))
	assert.Equal(t, "Swept 3 abandoned payment(s).\n", output.String())
	assert.Equal(t, time.Hour, svc.sweptAfter)
}

func TestFinalizeCmd(t *testing.T) {
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	svc := &fakeService{finalizeOut: &application.FinalizeOutcome{
		Status:        application.FinalizeCompleted,
		PaymentStatus: domain.PaymentCompleted,
		Subscription:  &domain.Subscription{Plan: domain.PlanPremium, EndDate: &end},
	}}
	withService(t, svc)
	finalizeAmount = "25000"

	var output strings.Builder
	finalizeCmd.SetContext(context.Background())
	finalizeCmd.SetOut(&output)

	require.NoError(t, finalizeCmd.RunE(finalizeCmd, []string{"REN-a-1-1"}))
	assert.Equal(t, []string{"REN-a-1-1/25000"}, svc.finalized)
	assert.Contains(t, output.String(), "Outcome: completed")
	assert.Contains(t, output.String(), "PREMIUM active until 2025-04-01")
}
