package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every billing error wraps exactly one of them so callers can
// classify with errors.Is.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrProviderError    = errors.New("payment provider error")
)

var (
	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrPaymentNotFound      = fmt.Errorf("payment %w", ErrNotFound)
	ErrPriceNotFound        = fmt.Errorf("price %w", ErrNotFound)

	ErrFreePlanNotRenewable  = fmt.Errorf("%w: the free plan cannot be renewed", ErrInvalidOperation)
	ErrDowngradeToFree       = fmt.Errorf("%w: cannot switch from a paid plan to the free plan", ErrInvalidOperation)
	ErrPlanAlreadyActive     = fmt.Errorf("%w: plan already active", ErrInvalidOperation)
	ErrCheckoutInProgress    = fmt.Errorf("%w: checkout already in progress", ErrInvalidOperation)
	ErrTooManyMonths         = fmt.Errorf("%w: too many months", ErrInvalidOperation)
	ErrInvalidPlan           = fmt.Errorf("%w: invalid plan", ErrInvalidOperation)
	ErrInvalidSubscriberType = fmt.Errorf("%w: invalid subscriber type", ErrInvalidOperation)
	ErrPaymentSettled        = fmt.Errorf("%w: payment already settled", ErrInvalidOperation)
	ErrSubscriptionExists    = fmt.Errorf("%w: subscription already exists", ErrInvalidOperation)
)

// ProviderError wraps a failure talking to the payment provider.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("payment provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderError, e.Err}
}
