package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutRequest asks the provider to open a web payment session.
type CheckoutRequest struct {
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	ReturnURL string
	CancelURL string
	NotifyURL string
	Reference string
}

// CheckoutSession is the provider's answer to a CheckoutRequest.
type CheckoutSession struct {
	CheckoutURL string
	PayToken    string
	NotifToken  string
}

// StatusRequest identifies a previously initiated payment.
type StatusRequest struct {
	OrderID  string
	PayToken string
	Amount   decimal.Decimal
}

// StatusReport is the raw transaction status returned by the provider.
type StatusReport struct {
	Status  string
	Message string
	TxnID   string
}

// PaymentGateway talks to the mobile-money provider. Failures are returned
// as *domain.ProviderError.
type PaymentGateway interface {
	InitiateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	QueryStatus(ctx context.Context, req StatusRequest) (*StatusReport, error)
}

// ErrLockHeld is returned by CheckoutLocker.Acquire when the lock is taken.
var ErrLockHeld = errors.New("checkout lock held")

// CheckoutLocker serializes checkout creation per subscription.
type CheckoutLocker interface {
	// Acquire returns a release func, or ErrLockHeld when another checkout
	// holds the lock.
	Acquire(ctx context.Context, subscriptionID uuid.UUID, ttl time.Duration) (func(), error)
}
