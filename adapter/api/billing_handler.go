package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/medplan/medplan/internal/billing/application"
	"github.com/medplan/medplan/internal/billing/domain"
)

// BillingService is the part of the lifecycle service the handlers call.
type BillingService interface {
	Prices() *domain.PriceMatrix
	GetOverview(ctx context.Context, caller application.AuthenticatedSubscriber) (*application.Overview, error)
	RequestRenewal(ctx context.Context, caller application.AuthenticatedSubscriber, months int) (*application.CheckoutResult, error)
	RequestPlanChange(ctx context.Context, caller application.AuthenticatedSubscriber, target domain.Plan, months int) (*application.CheckoutResult, error)
	FinalizeReturn(ctx context.Context, orderID, amount, payToken string) (*application.FinalizeOutcome, error)
	FinalizeByOrder(ctx context.Context, orderID, amount string) (*application.FinalizeOutcome, error)
	HandleNotification(ctx context.Context, orderID, amount, notifToken string) (*application.FinalizeOutcome, error)
	CancelCheckout(ctx context.Context, orderID string) (*application.FinalizeOutcome, error)
}

// BillingHandler handles subscription and payment requests.
type BillingHandler struct {
	service   BillingService
	validator *Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(service BillingService, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		service:   service,
		validator: NewValidator(),
		logger:    logger,
	}
}

// PricingResponse lists the monthly price of every paid plan.
type PricingResponse struct {
	Currency string              `json:"currency"`
	Prices   []domain.PriceEntry `json:"prices"`
}

// SubscriptionResponse is the JSON view of a subscription.
type SubscriptionResponse struct {
	ID             string     `json:"id"`
	SubscriberType string     `json:"subscriber_type"`
	SubscriberID   string     `json:"subscriber_id"`
	Plan           string     `json:"plan"`
	Status         string     `json:"status"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
}

// PaymentResponse is the JSON view of a payment.
type PaymentResponse struct {
	TransactionID string        `json:"transaction_id"`
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	Status        string        `json:"status"`
	Intent        domain.Intent `json:"intent"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// OverviewResponse is returned by GET /api/v1/subscription.
type OverviewResponse struct {
	Subscription   SubscriptionResponse `json:"subscription"`
	DisplayStatus  string               `json:"display_status"`
	UnitPrice      *domain.Price        `json:"unit_price,omitempty"`
	PendingPayment *PaymentResponse     `json:"pending_payment,omitempty"`
	RecentPayments []PaymentResponse    `json:"recent_payments"`
}

// CheckoutResponse tells the client where to send the payer.
type CheckoutResponse struct {
	CheckoutURL   string        `json:"checkout_url"`
	TransactionID string        `json:"transaction_id"`
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	Intent        domain.Intent `json:"intent"`
}

// FinalizeResponse reports a finalize outcome.
type FinalizeResponse struct {
	Status        string                `json:"status"`
	TransactionID string                `json:"transaction_id,omitempty"`
	PaymentStatus string                `json:"payment_status,omitempty"`
	Subscription  *SubscriptionResponse `json:"subscription,omitempty"`
}

// GetPricing handles GET /api/v1/pricing
func (h *BillingHandler) GetPricing(w http.ResponseWriter, r *http.Request) {
	prices := h.service.Prices()
	writeJSON(w, http.StatusOK, PricingResponse{
		Currency: prices.Currency(),
		Prices:   prices.PaidEntries(),
	})
}

// GetSubscription handles GET /api/v1/subscription
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	caller, _ := SubscriberFromContext(r.Context())

	overview, err := h.service.GetOverview(r.Context(), caller)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := OverviewResponse{
		Subscription:   toSubscriptionResponse(overview.Subscription),
		DisplayStatus:  string(overview.DisplayStatus),
		UnitPrice:      overview.UnitPrice,
		RecentPayments: make([]PaymentResponse, 0, len(overview.RecentPayments)),
	}
	if overview.PendingPayment != nil {
		p := toPaymentResponse(overview.PendingPayment)
		resp.PendingPayment = &p
	}
	for _, p := range overview.RecentPayments {
		resp.RecentPayments = append(resp.RecentPayments, toPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RequestRenewal handles POST /api/v1/subscription/renewal
func (h *BillingHandler) RequestRenewal(w http.ResponseWriter, r *http.Request) {
	var req RenewalRequest
	if err := h.validator.decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, r, err)
		return
	}
	caller, _ := SubscriberFromContext(r.Context())

	result, err := h.service.RequestRenewal(r.Context(), caller, req.Months)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckoutResponse(result))
}

// RequestPlanChange handles POST /api/v1/subscription/plan-change
func (h *BillingHandler) RequestPlanChange(w http.ResponseWriter, r *http.Request) {
	var req PlanChangeRequest
	if err := h.validator.decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, r, err)
		return
	}
	caller, _ := SubscriberFromContext(r.Context())

	result, err := h.service.RequestPlanChange(r.Context(), caller, domain.Plan(req.Plan), req.Months)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckoutResponse(result))
}

// Finalize handles GET /api/v1/billing/finalize
func (h *BillingHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.service.FinalizeReturn(r.Context(), q.Get("order_id"), q.Get("amount"), q.Get("pay_token"))
	h.writeOutcome(w, r, out, err)
}

// Return handles GET /api/v1/billing/return, the provider's success redirect.
func (h *BillingHandler) Return(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.service.FinalizeByOrder(r.Context(), q.Get("order_id"), q.Get("amount"))
	h.writeOutcome(w, r, out, err)
}

// Cancel handles GET /api/v1/billing/cancel
func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.CancelCheckout(r.Context(), r.URL.Query().Get("order_id"))
	h.writeOutcome(w, r, out, err)
}

// Notify handles POST /api/v1/billing/notify. The posted status is only
// logged; the payment is settled from a fresh provider query.
func (h *BillingHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := h.validator.decodeAndValidate(r, &req); err != nil {
		writeRequestError(w, r, err)
		return
	}
	q := r.URL.Query()
	h.logger.InfoContext(r.Context(), "provider notification received",
		"transaction_id", q.Get("order_id"),
		"provider_status", req.Status,
		"provider_txn_id", req.TxnID,
	)

	out, err := h.service.HandleNotification(r.Context(), q.Get("order_id"), q.Get("amount"), req.NotifToken)
	h.writeOutcome(w, r, out, err)
}

func (h *BillingHandler) writeOutcome(w http.ResponseWriter, r *http.Request, out *application.FinalizeOutcome, err error) {
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	switch out.Status {
	case application.FinalizeMissingParams:
		status = http.StatusBadRequest
	case application.FinalizePaymentNotFound:
		status = http.StatusNotFound
	}

	resp := FinalizeResponse{
		Status:        string(out.Status),
		TransactionID: out.TransactionID,
		PaymentStatus: string(out.PaymentStatus),
	}
	if out.Subscription != nil {
		s := toSubscriptionResponse(out.Subscription)
		resp.Subscription = &s
	}
	writeJSON(w, status, resp)
}

func toSubscriptionResponse(s *domain.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:             s.ID.String(),
		SubscriberType: string(s.OwnerType),
		SubscriberID:   s.OwnerID.String(),
		Plan:           string(s.Plan),
		Status:         string(s.Status),
		StartDate:      s.StartDate,
		EndDate:        s.EndDate,
	}
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		TransactionID: p.TransactionID,
		Amount:        p.Amount.String(),
		Currency:      p.Currency,
		Status:        string(p.Status),
		Intent:        p.ResolveIntent(),
		FailureReason: string(p.FailureReason),
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
	}
}

func toCheckoutResponse(r *application.CheckoutResult) CheckoutResponse {
	return CheckoutResponse{
		CheckoutURL:   r.CheckoutURL,
		TransactionID: r.TransactionID,
		Amount:        r.Amount.String(),
		Currency:      r.Currency,
		Intent:        r.Intent,
	}
}
