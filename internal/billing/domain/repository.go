package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionRepository persists subscriptions. Finders return nil, nil
// when nothing matches.
type SubscriptionRepository interface {
	Create(ctx context.Context, s *Subscription) error
	Update(ctx context.Context, s *Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindByOwner(ctx context.Context, owner Owner) (*Subscription, error)
}

// PaymentRepository persists subscription payments. Finders return nil, nil
// when nothing matches.
type PaymentRepository interface {
	// Create inserts a PENDING payment. It returns ErrCheckoutInProgress when
	// the subscription already has one.
	Create(ctx context.Context, p *Payment) error

	// AttachProviderRefs stores the identifiers returned by the provider.
	AttachProviderRefs(ctx context.Context, p *Payment) error

	// TransitionStatus writes the settled status of p only if the stored row
	// is still PENDING, and reports whether it did.
	TransitionStatus(ctx context.Context, p *Payment) (bool, error)

	FindByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	FindPendingBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*Payment, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*Payment, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*Payment, error)
}
