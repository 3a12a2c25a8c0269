package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrices() map[string]string {
	return map[string]string{
		"DOCTOR_STANDARD":   "10000",
		"DOCTOR_PREMIUM":    "25000",
		"HOSPITAL_STANDARD": "50000",
		"HOSPITAL_PREMIUM":  "120000",
	}
}

func TestPriceMatrix_PaidPositiveFreeZero(t *testing.T) {
	m, err := NewPriceMatrix("XOF", testPrices())
	require.NoError(t, err)

	for _, st := range SubscriberTypes {
		for _, plan := range Plans {
			price, err := m.ResolveUnitPrice(plan, st)
			require.NoError(t, err, "%s %s", st, plan)
			assert.Equal(t, "XOF", price.Currency)
			if plan.IsPaid() {
				assert.True(t, price.Amount.IsPositive(), "%s %s", st, plan)
			} else {
				assert.True(t, price.Amount.IsZero(), "%s %s", st, plan)
			}
		}
	}
}

func TestPriceMatrix_MissingEntry(t *testing.T) {
	m, err := NewPriceMatrix("XOF", map[string]string{"DOCTOR_STANDARD": "10000"})
	require.NoError(t, err)

	_, err = m.ResolveUnitPrice(PlanPremium, SubscriberHospital)
	assert.ErrorIs(t, err, ErrPriceNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, m.Entries(), 3)
	require.Len(t, m.PaidEntries(), 1)
	assert.Equal(t, PlanStandard, m.PaidEntries()[0].Plan)
}

func TestPriceMatrix_PaidEntries(t *testing.T) {
	m, err := NewPriceMatrix("XOF", testPrices())
	require.NoError(t, err)

	assert.Len(t, m.Entries(), 6)
	paid := m.PaidEntries()
	assert.Len(t, paid, 4)
	for _, e := range paid {
		assert.True(t, e.Plan.IsPaid())
		assert.True(t, e.Price.Amount.IsPositive())
	}
}

func TestPriceMatrix_RejectsBadConfig(t *testing.T) {
	_, err := NewPriceMatrix("XOF", map[string]string{"DOCTOR_STANDARD": "0"})
	assert.Error(t, err)

	_, err = NewPriceMatrix("XOF", map[string]string{"DOCTOR_STANDARD": "ten"})
	assert.Error(t, err)

	_, err = NewPriceMatrix("XOF", map[string]string{"DOCTOR_STANDARD": "9999.99"})
	assert.ErrorContains(t, err, "whole amount")

	m, err := NewPriceMatrix("XOF", map[string]string{"DOCTOR_STANDARD": "10000.00"})
	require.NoError(t, err)
	price, err := m.ResolveUnitPrice(PlanStandard, SubscriberDoctor)
	require.NoError(t, err)
	assert.True(t, price.Amount.Equal(decimal.NewFromInt(10000)))

	_, err = NewPriceMatrix("", testPrices())
	assert.Error(t, err)
}

func TestPriceMatrix_Total(t *testing.T) {
	m, err := NewPriceMatrix("XOF", testPrices())
	require.NoError(t, err)

	total, err := m.Total(PlanStandard, SubscriberDoctor, 3)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30000).Equal(total.Amount))
}
