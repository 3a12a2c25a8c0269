package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Price is the amount due for a single billing month.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// PriceKey builds the configuration key for a (subscriber type, plan) pair,
// e.g. DOCTOR_STANDARD.
func PriceKey(subscriberType SubscriberType, plan Plan) string {
	return string(subscriberType) + "_" + string(plan)
}

// PriceEntry is one row of the price matrix.
type PriceEntry struct {
	SubscriberType SubscriberType `json:"subscriber_type"`
	Plan           Plan           `json:"plan"`
	Price          Price          `json:"price"`
}

// PriceMatrix resolves unit prices. It is immutable after construction and
// safe for concurrent use.
type PriceMatrix struct {
	currency string
	prices   map[string]decimal.Decimal
}

// NewPriceMatrix parses configured prices keyed by PriceKey. Paid plans must
// have a strictly positive whole price; FREE entries are ignored.
func NewPriceMatrix(currency string, configured map[string]string) (*PriceMatrix, error) {
	if currency == "" {
		return nil, fmt.Errorf("price currency is required")
	}

	prices := make(map[string]decimal.Decimal, len(configured))
	for key, raw := range configured {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", key, err)
		}
		if !amount.IsPositive() {
			return nil, fmt.Errorf("price %s must be positive, got %s", key, raw)
		}
		// The provider charges whole currency units.
		if !amount.Equal(amount.Truncate(0)) {
			return nil, fmt.Errorf("price %s must be a whole amount, got %s", key, raw)
		}
		prices[key] = amount
	}

	return &PriceMatrix{currency: currency, prices: prices}, nil
}

// Currency returns the matrix currency.
func (m *PriceMatrix) Currency() string {
	return m.currency
}

// ResolveUnitPrice returns the one-month price of plan for subscriberType.
// FREE always costs zero. A missing paid entry is ErrPriceNotFound.
func (m *PriceMatrix) ResolveUnitPrice(plan Plan, subscriberType SubscriberType) (Price, error) {
	if plan == PlanFree {
		return Price{Amount: decimal.Zero, Currency: m.currency}, nil
	}
	amount, ok := m.prices[PriceKey(subscriberType, plan)]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s %s", ErrPriceNotFound, subscriberType, plan)
	}
	return Price{Amount: amount, Currency: m.currency}, nil
}

// Total returns the price for months billing periods.
func (m *PriceMatrix) Total(plan Plan, subscriberType SubscriberType, months int) (Price, error) {
	unit, err := m.ResolveUnitPrice(plan, subscriberType)
	if err != nil {
		return Price{}, err
	}
	return Price{
		Amount:   unit.Amount.Mul(decimal.NewFromInt(int64(months))),
		Currency: unit.Currency,
	}, nil
}

// Entries lists every resolvable (subscriber type, plan) pair in a stable order.
func (m *PriceMatrix) Entries() []PriceEntry {
	var entries []PriceEntry
	for _, st := range SubscriberTypes {
		for _, plan := range Plans {
			price, err := m.ResolveUnitPrice(plan, st)
			if err != nil {
				continue
			}
			entries = append(entries, PriceEntry{SubscriberType: st, Plan: plan, Price: price})
		}
	}
	return entries
}

// PaidEntries lists the resolvable pairs of billed plans only.
func (m *PriceMatrix) PaidEntries() []PriceEntry {
	var entries []PriceEntry
	for _, e := range m.Entries() {
		if e.Plan.IsPaid() {
			entries = append(entries, e)
		}
	}
	return entries
}
