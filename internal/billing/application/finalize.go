package application

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/medplan/medplan/internal/billing/domain"
	sharedApplication "github.com/medplan/medplan/internal/shared/application"
	sharedDomain "github.com/medplan/medplan/internal/shared/domain"
	"github.com/medplan/medplan/pkg/observability"
	"github.com/shopspring/decimal"
)

// FinalizeStatus is the result of reconciling a payment with the provider.
type FinalizeStatus string

const (
	FinalizeCompleted        FinalizeStatus = "completed"
	FinalizeMissingParams    FinalizeStatus = "missing_params"
	FinalizePaymentNotFound  FinalizeStatus = "payment_not_found"
	FinalizeAlreadyProcessed FinalizeStatus = "already_processed"
	FinalizeNotSuccess       FinalizeStatus = "not_success"
	FinalizeCancelled        FinalizeStatus = "cancelled"
)

// providerActor is the actor recorded on events triggered by provider callbacks.
const providerActor = "payment-provider"

// FinalizeOutcome reports what finalize did. Expected situations are
// outcomes, not errors.
type FinalizeOutcome struct {
	Status        FinalizeStatus
	TransactionID string
	PaymentStatus domain.PaymentStatus
	Subscription  *domain.Subscription
}

func outcome(status FinalizeStatus, p *domain.Payment) *FinalizeOutcome {
	o := &FinalizeOutcome{Status: status}
	if p != nil {
		o.TransactionID = p.TransactionID
		o.PaymentStatus = p.Status
	}
	return o
}

// FinalizeReturn reconciles the payment identified by orderID with the
// provider and, on success, applies its intent to the subscription. The
// months and plan applied always come from the stored payment.
//
// A provider transport failure is returned as an error and leaves the
// payment PENDING so a later call can settle it.
func (s *Service) FinalizeReturn(ctx context.Context, orderID, amount, payToken string) (*FinalizeOutcome, error) {
	if orderID == "" || amount == "" || payToken == "" {
		return s.recordOutcome(outcome(FinalizeMissingParams, nil)), nil
	}

	payment, err := s.payments.FindByTransactionID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("transaction_id", orderID)
	if payment == nil {
		logger.WarnContext(ctx, "finalize for unknown payment")
		return s.recordOutcome(outcome(FinalizePaymentNotFound, nil)), nil
	}
	if !tokensMatch(payment.PayToken, payToken) || !amountMatches(payment.Amount, amount) {
		logger.WarnContext(ctx, "finalize identifiers do not match payment")
		return s.recordOutcome(outcome(FinalizePaymentNotFound, nil)), nil
	}
	if !payment.IsPending() {
		return s.recordOutcome(outcome(FinalizeAlreadyProcessed, payment)), nil
	}

	report, err := s.gateway.QueryStatus(ctx, StatusRequest{
		OrderID:  payment.TransactionID,
		PayToken: payment.PayToken,
		Amount:   payment.Amount,
	})
	if err != nil {
		logger.WarnContext(ctx, "provider status query failed", "error", err)
		return nil, err
	}

	result := domain.InterpretProviderStatus(report.Status, report.Message)
	if !result.IsSuccess() {
		ok, err := s.failPayment(ctx, payment, domain.FailureNotSuccess, providerActor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.recordOutcome(outcome(FinalizeAlreadyProcessed, payment)), nil
		}
		logger.InfoContext(ctx, "payment not successful", "provider_status", report.Status, "provider_outcome", result)
		return s.recordOutcome(outcome(FinalizeNotSuccess, payment)), nil
	}

	return s.completePayment(ctx, payment, report)
}

// completePayment settles the payment and applies its intent in one
// transaction. The conditional status update decides the winner when two
// finalize calls race.
func (s *Service) completePayment(ctx context.Context, payment *domain.Payment, report *StatusReport) (*FinalizeOutcome, error) {
	now := s.clock()
	logger := s.logger.With("transaction_id", payment.TransactionID, "subscription_id", payment.SubscriptionID)

	var (
		subscription *domain.Subscription
		lost         bool
		applied      bool
	)
	err := sharedApplication.WithUnitOfWork(ctx, s.uow, func(txCtx context.Context) error {
		if err := payment.Complete(now); err != nil {
			return err
		}
		ok, err := s.payments.TransitionStatus(txCtx, payment)
		if err != nil {
			return err
		}
		if !ok {
			lost = true
			return nil
		}

		subscription, err = s.subscriptions.FindByID(txCtx, payment.SubscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, payment.SubscriptionID)
		}

		events := []sharedDomain.DomainEvent{domain.NewPaymentCompleted(payment, now)}
		if applied = subscription.ApplyIntent(payment.ResolveIntent(), now); applied {
			if err := s.subscriptions.Update(txCtx, subscription); err != nil {
				return err
			}
			events = append(events, subscription.PendingEvents()...)
		}
		return s.appendEvents(txCtx, providerActor, events...)
	})
	if err != nil {
		return nil, err
	}
	if lost {
		if current, err := s.payments.FindByTransactionID(ctx, payment.TransactionID); err == nil && current != nil {
			payment = current
		}
		return s.recordOutcome(outcome(FinalizeAlreadyProcessed, payment)), nil
	}
	subscription.ClearEvents()

	if applied {
		logger.InfoContext(ctx, "payment completed", "provider_txn_id", report.TxnID,
			"plan", subscription.Plan, "end_date", subscription.EndDate)
	} else {
		logger.WarnContext(ctx, "payment completed without a recognized intent", "provider_txn_id", report.TxnID)
	}

	o := outcome(FinalizeCompleted, payment)
	o.Subscription = subscription
	return s.recordOutcome(o), nil
}

// FinalizeByOrder finalizes from the provider return redirect, which only
// carries the order id and amount. The stored pay token is used.
func (s *Service) FinalizeByOrder(ctx context.Context, orderID, amount string) (*FinalizeOutcome, error) {
	if orderID == "" || amount == "" {
		return s.recordOutcome(outcome(FinalizeMissingParams, nil)), nil
	}
	payment, err := s.payments.FindByTransactionID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment != nil && !payment.IsPending() {
		return s.recordOutcome(outcome(FinalizeAlreadyProcessed, payment)), nil
	}
	if payment == nil || payment.PayToken == "" {
		return s.recordOutcome(outcome(FinalizePaymentNotFound, nil)), nil
	}
	return s.FinalizeReturn(ctx, orderID, amount, payment.PayToken)
}

// HandleNotification processes the provider's server-to-server callback.
// The callback's own status is ignored; the provider is queried again.
func (s *Service) HandleNotification(ctx context.Context, orderID, amount, notifToken string) (*FinalizeOutcome, error) {
	if orderID == "" || amount == "" || notifToken == "" {
		return s.recordOutcome(outcome(FinalizeMissingParams, nil)), nil
	}
	payment, err := s.payments.FindByTransactionID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil || !tokensMatch(payment.NotifToken, notifToken) {
		s.logger.WarnContext(ctx, "notification does not match a payment", "transaction_id", orderID)
		return s.recordOutcome(outcome(FinalizePaymentNotFound, nil)), nil
	}
	return s.FinalizeReturn(ctx, orderID, amount, payment.PayToken)
}

// CancelCheckout fails a pending payment the payer abandoned on the provider page.
func (s *Service) CancelCheckout(ctx context.Context, orderID string) (*FinalizeOutcome, error) {
	if orderID == "" {
		return s.recordOutcome(outcome(FinalizeMissingParams, nil)), nil
	}
	payment, err := s.payments.FindByTransactionID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return s.recordOutcome(outcome(FinalizePaymentNotFound, nil)), nil
	}
	if !payment.IsPending() {
		return s.recordOutcome(outcome(FinalizeAlreadyProcessed, payment)), nil
	}

	ok, err := s.failPayment(ctx, payment, domain.FailureCancelled, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.recordOutcome(outcome(FinalizeAlreadyProcessed, payment)), nil
	}
	s.logger.InfoContext(ctx, "checkout cancelled", "transaction_id", orderID)
	return s.recordOutcome(outcome(FinalizeCancelled, payment)), nil
}

func (s *Service) recordOutcome(o *FinalizeOutcome) *FinalizeOutcome {
	s.metrics.Counter(observability.MetricFinalize, 1, observability.T("outcome", string(o.Status)))
	return o
}

func tokensMatch(stored, supplied string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

func amountMatches(stored decimal.Decimal, supplied string) bool {
	amount, err := decimal.NewFromString(supplied)
	if err != nil {
		return false
	}
	return amount.Equal(stored)
}

// SweepAbandoned fails PENDING payments created more than olderThan ago and
// returns how many it settled.
func (s *Service) SweepAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.AbandonAfter
	}
	cutoff := s.clock().Add(-olderThan)

	const batch = 100
	swept := 0
	for {
		stale, err := s.payments.ListStalePending(ctx, cutoff, batch)
		if err != nil {
			return swept, err
		}
		for _, p := range stale {
			ok, err := s.failPayment(ctx, p, domain.FailureAbandoned, "")
			if err != nil {
				return swept, err
			}
			if ok {
				swept++
			}
		}
		if len(stale) < batch {
			break
		}
	}

	if swept > 0 {
		s.metrics.Counter(observability.MetricSweepAbandoned, int64(swept))
		s.logger.InfoContext(ctx, "abandoned checkouts swept", "count", swept, "cutoff", cutoff)
	}
	return swept, nil
}
