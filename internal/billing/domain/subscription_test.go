package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func paidSubscription(plan Plan, end time.Time) *Subscription {
	start := end.AddDate(0, -1, 0)
	return &Subscription{
		ID:        uuid.New(),
		OwnerType: SubscriberDoctor,
		OwnerID:   uuid.New(),
		Plan:      plan,
		Status:    StatusActive,
		StartDate: &start,
		EndDate:   &end,
	}
}

func TestNewFreeSubscription(t *testing.T) {
	owner := Owner{Type: SubscriberHospital, ID: uuid.New()}
	now := date(2025, 2, 1)

	s := NewFreeSubscription(owner, now)

	assert.Equal(t, PlanFree, s.Plan)
	assert.Equal(t, StatusActive, s.Status)
	assert.Nil(t, s.EndDate)
	assert.Equal(t, owner, s.Owner())
	require.Len(t, s.PendingEvents(), 1)
	assert.Equal(t, RoutingKeySubscriptionProvisioned, s.PendingEvents()[0].RoutingKey())
}

func TestApplyRenewal_ExpiredStartsNow(t *testing.T) {
	s := paidSubscription(PlanStandard, date(2025, 1, 1))
	now := date(2025, 2, 1)

	assert.Equal(t, StatusExpired, s.DisplayStatus(now))

	s.ApplyRenewal(2, now)

	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, date(2025, 2, 1), *s.StartDate)
	assert.Equal(t, date(2025, 4, 1), *s.EndDate)
	assert.Equal(t, StatusActive, s.DisplayStatus(now))
	require.Len(t, s.PendingEvents(), 1)
	assert.Equal(t, RoutingKeySubscriptionRenewed, s.PendingEvents()[0].RoutingKey())
}

func TestApplyRenewal_LiveExtendsFromEndDate(t *testing.T) {
	s := paidSubscription(PlanStandard, date(2025, 3, 1))

	s.ApplyRenewal(1, date(2025, 2, 1))

	assert.Equal(t, date(2025, 3, 1), *s.StartDate)
	assert.Equal(t, date(2025, 4, 1), *s.EndDate)
}

func TestApplyPlanChange(t *testing.T) {
	s := paidSubscription(PlanStandard, date(2025, 3, 1))
	now := time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)

	s.ApplyPlanChange(PlanPremium, 3, now)

	assert.Equal(t, PlanPremium, s.Plan)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, now, *s.StartDate)
	assert.Equal(t, now.AddDate(0, 3, 0), *s.EndDate)

	event, ok := s.PendingEvents()[0].(*SubscriptionPlanChanged)
	require.True(t, ok)
	assert.Equal(t, PlanStandard, event.PreviousPlan)
	assert.Equal(t, PlanPremium, event.Plan)
}

func TestApplyIntent_UnknownIsNoop(t *testing.T) {
	s := paidSubscription(PlanStandard, date(2025, 3, 1))
	before := *s.EndDate

	assert.False(t, s.ApplyIntent(Intent{}, date(2025, 2, 1)))
	assert.Equal(t, before, *s.EndDate)
	assert.Empty(t, s.PendingEvents())

	assert.True(t, s.ApplyIntent(NewRenewalIntent(1), date(2025, 2, 1)))
	assert.Equal(t, date(2025, 4, 1), *s.EndDate)
}

func TestCheckRenewable(t *testing.T) {
	free := NewFreeSubscription(Owner{Type: SubscriberDoctor, ID: uuid.New()}, time.Now())
	assert.ErrorIs(t, free.CheckRenewable(), ErrFreePlanNotRenewable)
	assert.ErrorIs(t, free.CheckRenewable(), ErrInvalidOperation)

	assert.NoError(t, paidSubscription(PlanPremium, time.Now()).CheckRenewable())
}

func TestCheckPlanChange(t *testing.T) {
	tests := []struct {
		name    string
		current Plan
		target  Plan
		wantErr error
	}{
		{"free to standard", PlanFree, PlanStandard, nil},
		{"standard to premium", PlanStandard, PlanPremium, nil},
		{"premium to standard", PlanPremium, PlanStandard, nil},
		{"same plan", PlanStandard, PlanStandard, ErrPlanAlreadyActive},
		{"free to free", PlanFree, PlanFree, ErrPlanAlreadyActive},
		{"paid to free", PlanPremium, PlanFree, ErrDowngradeToFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := paidSubscription(tt.current, time.Now())
			err := s.CheckPlanChange(tt.target)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestNormalizeMonths(t *testing.T) {
	m, err := NormalizeMonths(0)
	require.NoError(t, err)
	assert.Equal(t, 1, m)

	m, err = NormalizeMonths(-4)
	require.NoError(t, err)
	assert.Equal(t, 1, m)

	m, err = NormalizeMonths(12)
	require.NoError(t, err)
	assert.Equal(t, 12, m)

	_, err = NormalizeMonths(MaxMonths + 1)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestParsePlanAndSubscriberType(t *testing.T) {
	p, err := ParsePlan(" premium ")
	require.NoError(t, err)
	assert.Equal(t, PlanPremium, p)

	_, err = ParsePlan("GOLD")
	assert.ErrorIs(t, err, ErrInvalidPlan)

	st, err := ParseSubscriberType("hospital")
	require.NoError(t, err)
	assert.Equal(t, SubscriberHospital, st)

	_, err = ParseSubscriberType("PATIENT")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}
