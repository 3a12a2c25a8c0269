package domain

import (
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/medplan/medplan/internal/shared/domain"
)

const (
	AggregateSubscription = "Subscription"
	AggregatePayment      = "SubscriptionPayment"
)

// Routing keys for billing events.
const (
	RoutingKeySubscriptionProvisioned = "billing.subscription.provisioned"
	RoutingKeySubscriptionRenewed     = "billing.subscription.renewed"
	RoutingKeySubscriptionPlanChanged = "billing.subscription.plan_changed"
	RoutingKeyCheckoutStarted         = "billing.checkout.started"
	RoutingKeyPaymentCompleted        = "billing.payment.completed"
	RoutingKeyPaymentFailed           = "billing.payment.failed"
)

// SubscriptionProvisioned is emitted when a subscriber gets its FREE subscription.
type SubscriptionProvisioned struct {
	sharedDomain.BaseEvent
	OwnerType SubscriberType `json:"owner_type"`
	OwnerID   uuid.UUID      `json:"owner_id"`
	Plan      Plan           `json:"plan"`
}

func NewSubscriptionProvisioned(s *Subscription, now time.Time) *SubscriptionProvisioned {
	return &SubscriptionProvisioned{
		BaseEvent: sharedDomain.NewBaseEvent(s.ID, AggregateSubscription, RoutingKeySubscriptionProvisioned, now),
		OwnerType: s.OwnerType,
		OwnerID:   s.OwnerID,
		Plan:      s.Plan,
	}
}

// SubscriptionRenewed is emitted when a renewal payment extends the period.
type SubscriptionRenewed struct {
	sharedDomain.BaseEvent
	Plan      Plan      `json:"plan"`
	Months    int       `json:"months"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// SubscriptionPlanChanged is emitted when a plan change payment switches plans.
type SubscriptionPlanChanged struct {
	sharedDomain.BaseEvent
	PreviousPlan Plan      `json:"previous_plan"`
	Plan         Plan      `json:"plan"`
	Months       int       `json:"months"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
}

// CheckoutStarted is emitted once the provider accepted a checkout.
type CheckoutStarted struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	TransactionID  string    `json:"transaction_id"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Intent         Intent    `json:"intent"`
}

// PaymentCompletedEvent is emitted when the provider confirmed a payment.
type PaymentCompletedEvent struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	TransactionID  string    `json:"transaction_id"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
}

// PaymentFailedEvent is emitted when a payment settles as FAILED.
type PaymentFailedEvent struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID     `json:"subscription_id"`
	TransactionID  string        `json:"transaction_id"`
	Reason         FailureReason `json:"reason"`
}

func NewCheckoutStarted(p *Payment, now time.Time) *CheckoutStarted {
	return &CheckoutStarted{
		BaseEvent:      sharedDomain.NewBaseEvent(p.ID, AggregatePayment, RoutingKeyCheckoutStarted, now),
		SubscriptionID: p.SubscriptionID,
		TransactionID:  p.TransactionID,
		Amount:         p.Amount.String(),
		Currency:       p.Currency,
		Intent:         p.Intent,
	}
}

func NewPaymentCompleted(p *Payment, now time.Time) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent:      sharedDomain.NewBaseEvent(p.ID, AggregatePayment, RoutingKeyPaymentCompleted, now),
		SubscriptionID: p.SubscriptionID,
		TransactionID:  p.TransactionID,
		Amount:         p.Amount.String(),
		Currency:       p.Currency,
	}
}

func NewPaymentFailed(p *Payment, reason FailureReason, now time.Time) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent:      sharedDomain.NewBaseEvent(p.ID, AggregatePayment, RoutingKeyPaymentFailed, now),
		SubscriptionID: p.SubscriptionID,
		TransactionID:  p.TransactionID,
		Reason:         reason,
	}
}
