package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus moves once from PENDING to COMPLETED or FAILED.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// PaymentMethodMobileMoney is the only supported payment method.
const PaymentMethodMobileMoney = "MOBILE_MONEY"

// FailureReason records why a payment was failed.
type FailureReason string

const (
	FailureProviderError FailureReason = "provider_error"
	FailureNotSuccess    FailureReason = "not_success"
	FailureCancelled     FailureReason = "cancelled"
	FailureAbandoned     FailureReason = "abandoned"
)

// Payment is one checkout attempt against the provider.
type Payment struct {
	ID              uuid.UUID
	SubscriptionID  uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	Method          string
	Status          PaymentStatus
	TransactionID   string
	Intent          Intent
	PayToken        string
	NotifToken      string
	ExternalOrderID string
	FailureReason   FailureReason
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// NewPendingPayment creates the PENDING row written before the provider is called.
func NewPendingPayment(subscriptionID uuid.UUID, price Price, intent Intent, now time.Time) *Payment {
	now = now.UTC()
	return &Payment{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Amount:         price.Amount,
		Currency:       price.Currency,
		Method:         PaymentMethodMobileMoney,
		Status:         PaymentPending,
		TransactionID:  intent.TransactionID(subscriptionID, now),
		Intent:         intent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (p *Payment) IsPending() bool {
	return p.Status == PaymentPending
}

// ResolveIntent returns the stored intent, falling back to decoding the
// transaction id for rows written without one.
func (p *Payment) ResolveIntent() Intent {
	if p.Intent.Kind != "" {
		return p.Intent
	}
	_, intent, err := ParseTransactionID(p.TransactionID)
	if err != nil {
		return Intent{}
	}
	return intent
}

// IsStale reports whether a pending payment was created before cutoff.
func (p *Payment) IsStale(cutoff time.Time) bool {
	return p.IsPending() && p.CreatedAt.Before(cutoff)
}

// Complete marks the payment as paid.
func (p *Payment) Complete(now time.Time) error {
	if !p.IsPending() {
		return ErrPaymentSettled
	}
	now = now.UTC()
	p.Status = PaymentCompleted
	p.UpdatedAt = now
	p.CompletedAt = &now
	return nil
}

// Fail marks the payment as failed for reason.
func (p *Payment) Fail(reason FailureReason, now time.Time) error {
	if !p.IsPending() {
		return ErrPaymentSettled
	}
	p.Status = PaymentFailed
	p.FailureReason = reason
	p.UpdatedAt = now.UTC()
	return nil
}
