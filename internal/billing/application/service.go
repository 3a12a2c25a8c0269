// Package application implements the subscription lifecycle: checkout
// creation, provider-confirmed finalization and housekeeping.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/medplan/medplan/internal/billing/domain"
	sharedApplication "github.com/medplan/medplan/internal/shared/application"
	sharedDomain "github.com/medplan/medplan/internal/shared/domain"
	"github.com/medplan/medplan/internal/shared/infrastructure/outbox"
	"github.com/medplan/medplan/pkg/observability"
	"github.com/shopspring/decimal"
)

// Config holds the service settings.
type Config struct {
	// PublicBaseURL prefixes the return, cancel and notify URLs given to the provider.
	PublicBaseURL string
	// Reference is shown to the payer on the provider page.
	Reference string
	// LockTTL bounds how long a checkout may hold the subscription lock.
	LockTTL time.Duration
	// AbandonAfter is the age at which a PENDING payment is considered abandoned.
	AbandonAfter time.Duration
	// RecentPayments is how many payments GetOverview returns.
	RecentPayments int
}

// DefaultConfig returns the default service settings.
func DefaultConfig() Config {
	return Config{
		PublicBaseURL:  "http://localhost:8080",
		Reference:      "MedPlan",
		LockTTL:        45 * time.Second,
		AbandonAfter:   30 * time.Minute,
		RecentPayments: 5,
	}
}

// CheckoutResult is returned once the provider accepted a checkout.
type CheckoutResult struct {
	CheckoutURL   string
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Intent        domain.Intent
}

// Service is the subscription lifecycle service.
type Service struct {
	subscriptions domain.SubscriptionRepository
	payments      domain.PaymentRepository
	outboxRepo    outbox.Repository
	uow           sharedApplication.UnitOfWork
	prices        *domain.PriceMatrix
	gateway       PaymentGateway
	locker        CheckoutLocker
	cfg           Config
	logger        *slog.Logger
	metrics       observability.Metrics
	clock         func() time.Time
}

// NewService creates the lifecycle service.
func NewService(
	subscriptions domain.SubscriptionRepository,
	payments domain.PaymentRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	prices *domain.PriceMatrix,
	gateway PaymentGateway,
	locker CheckoutLocker,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	if cfg.AbandonAfter <= 0 {
		cfg.AbandonAfter = defaults.AbandonAfter
	}
	if cfg.RecentPayments <= 0 {
		cfg.RecentPayments = defaults.RecentPayments
	}
	if cfg.Reference == "" {
		cfg.Reference = defaults.Reference
	}
	return &Service{
		subscriptions: subscriptions,
		payments:      payments,
		outboxRepo:    outboxRepo,
		uow:           uow,
		prices:        prices,
		gateway:       gateway,
		locker:        locker,
		cfg:           cfg,
		logger:        logger,
		metrics:       observability.NoopMetrics{},
		clock:         time.Now,
	}
}

// WithMetrics sets the metrics sink.
func (s *Service) WithMetrics(metrics observability.Metrics) *Service {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Prices exposes the price matrix.
func (s *Service) Prices() *domain.PriceMatrix {
	return s.prices
}

// RequestRenewal starts a checkout extending the caller's paid plan by months.
func (s *Service) RequestRenewal(ctx context.Context, caller AuthenticatedSubscriber, months int) (*CheckoutResult, error) {
	if err := s.authorizeManage(caller); err != nil {
		return nil, err
	}
	months, err := domain.NormalizeMonths(months)
	if err != nil {
		return nil, err
	}

	subscription, err := s.loadSubscription(ctx, caller.Owner())
	if err != nil {
		return nil, err
	}
	if err := subscription.CheckRenewable(); err != nil {
		return nil, err
	}

	price, err := s.prices.Total(subscription.Plan, subscription.OwnerType, months)
	if err != nil {
		return nil, err
	}
	return s.startCheckout(ctx, caller, subscription, domain.NewRenewalIntent(months), price)
}

// RequestPlanChange starts a checkout switching the caller to target for months.
func (s *Service) RequestPlanChange(ctx context.Context, caller AuthenticatedSubscriber, target domain.Plan, months int) (*CheckoutResult, error) {
	if err := s.authorizeManage(caller); err != nil {
		return nil, err
	}
	target, err := domain.ParsePlan(string(target))
	if err != nil {
		return nil, err
	}
	months, err = domain.NormalizeMonths(months)
	if err != nil {
		return nil, err
	}

	subscription, err := s.loadSubscription(ctx, caller.Owner())
	if err != nil {
		return nil, err
	}
	if err := subscription.CheckPlanChange(target); err != nil {
		return nil, err
	}

	price, err := s.prices.Total(target, subscription.OwnerType, months)
	if err != nil {
		return nil, err
	}
	return s.startCheckout(ctx, caller, subscription, domain.NewPlanChangeIntent(target, months), price)
}

// startCheckout writes the PENDING payment and asks the provider for a
// session. The provider call runs outside any transaction; a failure marks
// the payment FAILED before the error is returned.
func (s *Service) startCheckout(
	ctx context.Context,
	caller AuthenticatedSubscriber,
	subscription *domain.Subscription,
	intent domain.Intent,
	price domain.Price,
) (*CheckoutResult, error) {
	release, err := s.locker.Acquire(ctx, subscription.ID, s.cfg.LockTTL)
	if errors.Is(err, ErrLockHeld) {
		return nil, domain.ErrCheckoutInProgress
	}
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock()
	if err := s.clearPending(ctx, subscription, now); err != nil {
		return nil, err
	}

	payment := domain.NewPendingPayment(subscription.ID, price, intent, now)
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		"transaction_id", payment.TransactionID,
		"subscription_id", subscription.ID,
		"intent", intent.Kind,
	)

	session, err := s.gateway.InitiateCheckout(ctx, CheckoutRequest{
		OrderID:   payment.TransactionID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		ReturnURL: s.callbackURL("/api/v1/billing/return", payment, true),
		CancelURL: s.callbackURL("/api/v1/billing/cancel", payment, false),
		NotifyURL: s.callbackURL("/api/v1/billing/notify", payment, true),
		Reference: s.cfg.Reference,
	})
	if err != nil {
		s.metrics.Counter(observability.MetricCheckoutFailed, 1, observability.T("reason", string(domain.FailureProviderError)))
		// The caller may have gone away; the compensating write must still land.
		if _, failErr := s.failPayment(context.WithoutCancel(ctx), payment, domain.FailureProviderError, caller.UserID); failErr != nil {
			logger.ErrorContext(ctx, "failed to mark payment failed after provider error", "error", failErr)
		}
		logger.WarnContext(ctx, "checkout initiation failed", "error", err)
		return nil, err
	}

	payment.PayToken = session.PayToken
	payment.NotifToken = session.NotifToken
	payment.ExternalOrderID = payment.TransactionID
	payment.UpdatedAt = s.clock().UTC()

	err = sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := s.payments.AttachProviderRefs(txCtx, payment); err != nil {
			return err
		}
		return s.appendEvents(txCtx, caller.UserID, domain.NewCheckoutStarted(payment, now))
	})
	if err != nil {
		return nil, fmt.Errorf("store provider references: %w", err)
	}

	s.metrics.Counter(observability.MetricCheckoutInitiated, 1, observability.T("intent", string(intent.Kind)))
	logger.InfoContext(ctx, "checkout initiated", "amount", payment.Amount.String(), "currency", payment.Currency)

	return &CheckoutResult{
		CheckoutURL:   session.CheckoutURL,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Intent:        intent,
	}, nil
}

// clearPending rejects a new checkout while another one is in flight. A
// pending payment older than AbandonAfter is failed as abandoned instead.
func (s *Service) clearPending(ctx context.Context, subscription *domain.Subscription, now time.Time) error {
	pending, err := s.payments.FindPendingBySubscription(ctx, subscription.ID)
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}
	if !pending.IsStale(now.Add(-s.cfg.AbandonAfter)) {
		return domain.ErrCheckoutInProgress
	}
	if _, err := s.failPayment(ctx, pending, domain.FailureAbandoned, ""); err != nil {
		return err
	}
	s.metrics.Counter(observability.MetricSweepAbandoned, 1)
	s.logger.InfoContext(ctx, "abandoned checkout replaced", "transaction_id", pending.TransactionID)
	return nil
}

// failPayment settles p as FAILED if it is still pending and reports whether
// this call did the transition. When it did not, p is refreshed from the store.
func (s *Service) failPayment(ctx context.Context, p *domain.Payment, reason domain.FailureReason, actorID string) (bool, error) {
	now := s.clock()
	if err := p.Fail(reason, now); err != nil {
		return false, nil
	}

	var transitioned bool
	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		ok, err := s.payments.TransitionStatus(txCtx, p)
		if err != nil || !ok {
			return err
		}
		transitioned = true
		return s.appendEvents(txCtx, actorID, domain.NewPaymentFailed(p, reason, now))
	})
	if err != nil || transitioned {
		return transitioned, err
	}

	// Another writer settled the row first; report what it stored.
	current, err := s.payments.FindByTransactionID(ctx, p.TransactionID)
	if err != nil {
		return false, err
	}
	if current != nil {
		*p = *current
	}
	return false, nil
}

func (s *Service) loadSubscription(ctx context.Context, owner domain.Owner) (*domain.Subscription, error) {
	subscription, err := s.subscriptions.FindByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, owner)
	}
	return subscription, nil
}

func (s *Service) authorizeManage(caller AuthenticatedSubscriber) error {
	if !caller.identified() {
		return domain.ErrUnauthorized
	}
	if !caller.CanManageBilling() {
		return fmt.Errorf("%w: billing requires the %s role", domain.ErrUnauthorized, RoleHospitalAdmin)
	}
	return nil
}

func (s *Service) appendEvents(ctx context.Context, actorID string, events ...sharedDomain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}
	sharedApplication.ApplyEventMetadata(events, sharedApplication.EventMetadataFromContext(ctx, actorID))
	msgs, err := outbox.NewMessages(events)
	if err != nil {
		return err
	}
	return s.outboxRepo.Save(ctx, msgs...)
}

func (s *Service) callbackURL(path string, p *domain.Payment, withAmount bool) string {
	q := url.Values{}
	q.Set("order_id", p.TransactionID)
	if withAmount {
		q.Set("amount", p.Amount.String())
	}
	return s.cfg.PublicBaseURL + path + "?" + q.Encode()
}
