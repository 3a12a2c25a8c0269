package application

import (
	"context"
	"errors"

	"github.com/medplan/medplan/internal/billing/domain"
	sharedApplication "github.com/medplan/medplan/internal/shared/application"
)

// Overview is what the subscriber's billing page shows.
type Overview struct {
	Subscription   *domain.Subscription
	DisplayStatus  domain.SubscriptionStatus
	UnitPrice      *domain.Price
	PendingPayment *domain.Payment
	RecentPayments []*domain.Payment
}

// EnsureSubscription returns the owner's subscription, provisioning a FREE
// one when the owner has none. The bool reports whether it was created.
func (s *Service) EnsureSubscription(ctx context.Context, owner domain.Owner) (*domain.Subscription, bool, error) {
	if _, err := domain.ParseSubscriberType(string(owner.Type)); err != nil {
		return nil, false, err
	}

	existing, err := s.subscriptions.FindByOwner(ctx, owner)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	subscription := domain.NewFreeSubscription(owner, s.clock())
	err = sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.subscriptions.Create(txCtx, subscription); err != nil {
			return err
		}
		return s.appendEvents(txCtx, "", subscription.PendingEvents()...)
	})
	if errors.Is(err, domain.ErrSubscriptionExists) {
		// Lost a provisioning race; the other writer's row is the one.
		existing, err = s.loadSubscription(ctx, owner)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	subscription.ClearEvents()

	s.logger.InfoContext(ctx, "subscription provisioned", "subscription_id", subscription.ID, "owner", owner.String())
	return subscription, true, nil
}

// GetOverview returns the caller's subscription with its derived status and
// latest payments.
func (s *Service) GetOverview(ctx context.Context, caller AuthenticatedSubscriber) (*Overview, error) {
	if !caller.identified() {
		return nil, domain.ErrUnauthorized
	}
	subscription, err := s.loadSubscription(ctx, caller.Owner())
	if err != nil {
		return nil, err
	}

	overview := &Overview{
		Subscription:  subscription,
		DisplayStatus: subscription.DisplayStatus(s.clock()),
	}
	if subscription.Plan.IsPaid() {
		if price, err := s.prices.ResolveUnitPrice(subscription.Plan, subscription.OwnerType); err == nil {
			overview.UnitPrice = &price
		}
	}

	overview.PendingPayment, err = s.payments.FindPendingBySubscription(ctx, subscription.ID)
	if err != nil {
		return nil, err
	}
	overview.RecentPayments, err = s.payments.ListBySubscription(ctx, subscription.ID, s.cfg.RecentPayments)
	if err != nil {
		return nil, err
	}
	return overview, nil
}
