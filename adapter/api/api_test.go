package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/application"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/pkg/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

type mockBillingService struct {
	mock.Mock
	prices *domain.PriceMatrix
}

func (m *mockBillingService) Prices() *domain.PriceMatrix {
	return m.prices
}

func (m *mockBillingService) GetOverview(ctx context.Context, caller application.AuthenticatedSubscriber) (*application.Overview, error) {
	args := m.Called(ctx, caller)
	if v := args.Get(0); v != nil {
		return v.(*application.Overview), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBillingService) RequestRenewal(ctx context.Context, caller application.AuthenticatedSubscriber, months int) (*application.CheckoutResult, error) {
	args := m.Called(ctx, caller, months)
	if v := args.Get(0); v != nil {
		return v.(*application.CheckoutResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBillingService) RequestPlanChange(ctx context.Context, caller application.AuthenticatedSubscriber, target domain.Plan, months int) (*application.CheckoutResult, error) {
	args := m.Called(ctx, caller, target, months)
	if v := args.Get(0); v != nil {
		return v.(*application.CheckoutResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBillingService) FinalizeReturn(ctx context.Context, orderID, amount, payToken string) (*application.FinalizeOutcome, error) {
	args := m.Called(ctx, orderID, amount, payToken)
	if v := args.Get(0); v != nil {
		return v.(*application.FinalizeOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBillingService) FinalizeByOrder(ctx context.Context, orderID, amount string) (*application.FinalizeOutcome, error) {
	args := m.Called(ctx, orderID, amount)
	if v := args.Get(0); v != nil {
		return v.(*application.FinalizeOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBillingService) HandleNotification(ctx context.Context, orderID, amount, notifToken string) (*application.FinalizeOutcome, error) {
	args := m.Called(ctx, orderID, amount, notifToken)
	if v := args.Get(0); v != nil {
		return v.(*application.FinalizeOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockBillingService) CancelCheckout(ctx context.Context, orderID string) (*application.FinalizeOutcome, error) {
	args := m.Called(ctx, orderID)
	if v := args.Get(0); v != nil {
		return v.(*application.FinalizeOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestServer(t *testing.T, health *observability.HealthRegistry) (http.Handler, *mockBillingService) {
	t.Helper()
	prices, err := domain.NewPriceMatrix("XOF", map[string]string{
		"DOCTOR_STANDARD":   "10000",
		"DOCTOR_PREMIUM":    "25000",
		"HOSPITAL_STANDARD": "50000",
		"HOSPITAL_PREMIUM":  "120000",
	})
	require.NoError(t, err)

	svc := &mockBillingService{prices: prices}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewBillingHandler(svc, logger)
	auth := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	srv := NewServer(DefaultServerConfig(), handler, auth, health, logger)
	return srv.Handler(), svc
}

func signToken(t *testing.T, key []byte, subscriber application.AuthenticatedSubscriber, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subscriber.UserID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		SubscriberType: string(subscriber.Type),
		SubscriberID:   subscriber.SubscriberID.String(),
		Roles:          subscriber.Roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func doctor() application.AuthenticatedSubscriber {
	return application.AuthenticatedSubscriber{
		UserID:       "user-1",
		Type:         domain.SubscriberDoctor,
		SubscriberID: uuid.MustParse("0b8f7c52-8d61-4a55-a9a4-3c1f8e0f7f11"),
		Roles:        []string{"doctor"},
	}
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func authed(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSigningKey, doctor(), time.Hour))
	return req
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h, _ := newTestServer(t, nil)
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		report := decode[observability.HealthReport](t, rec)
		assert.Equal(t, observability.HealthStatusHealthy, report.Status)
	})

	t.Run("critical dependency down", func(t *testing.T) {
		health := observability.NewHealthRegistry()
		health.Register("database", true, func(context.Context) error { return errors.New("connection refused") })
		h, _ := newTestServer(t, health)

		rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		report := decode[observability.HealthReport](t, rec)
		assert.Equal(t, "connection refused", report.Checks["database"].Message)
	})
}

func TestGetPricing(t *testing.T) {
	h, _ := newTestServer(t, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/pricing", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[PricingResponse](t, rec)
	assert.Equal(t, "XOF", resp.Currency)
	assert.Len(t, resp.Prices, 4)
	for _, entry := range resp.Prices {
		assert.True(t, entry.Price.Amount.IsPositive(), "%s %s", entry.SubscriberType, entry.Plan)
	}
}

func TestAuthentication(t *testing.T) {
	h, svc := newTestServer(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not-a-jwt"},
		{name: "wrong key", header: "Bearer " + signToken(t, []byte("other-key"), doctor(), time.Hour)},
		{name: "expired", header: "Bearer " + signToken(t, testSigningKey, doctor(), -time.Hour)},
		{name: "unknown subscriber type", header: "Bearer " + signToken(t, testSigningKey, application.AuthenticatedSubscriber{
			UserID: "u", Type: "PATIENT", SubscriberID: uuid.New(),
		}, time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(h, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "unauthorized", resp.Code)
		})
	}
	svc.AssertNotCalled(t, "GetOverview", mock.Anything, mock.Anything)
}

func TestAuthenticator_EmptyKeyRejectsEverything(t *testing.T) {
	auth := NewAuthenticator(JWTConfig{})
	_, err := auth.Authenticate(signToken(t, testSigningKey, doctor(), time.Hour))
	assert.Error(t, err)
}

func TestGetSubscription(t *testing.T) {
	h, svc := newTestServer(t, nil)
	caller := doctor()
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &domain.Subscription{
		ID:        uuid.New(),
		OwnerType: caller.Type,
		OwnerID:   caller.SubscriberID,
		Plan:      domain.PlanStandard,
		Status:    domain.StatusActive,
		EndDate:   &end,
	}
	price := domain.Price{Amount: decimal.NewFromInt(10000), Currency: "XOF"}
	svc.On("GetOverview", mock.Anything, caller).Return(&application.Overview{
		Subscription:  sub,
		DisplayStatus: domain.StatusExpired,
		UnitPrice:     &price,
	}, nil)

	rec := serve(h, authed(t, http.MethodGet, "/api/v1/subscription", ""))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[OverviewResponse](t, rec)
	assert.Equal(t, "EXPIRED", resp.DisplayStatus)
	assert.Equal(t, "ACTIVE", resp.Subscription.Status)
	assert.Equal(t, "STANDARD", resp.Subscription.Plan)
	assert.Empty(t, resp.RecentPayments)
	svc.AssertExpectations(t)
}

func TestRequestRenewal(t *testing.T) {
	t.Run("starts a checkout", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("RequestRenewal", mock.Anything, doctor(), 3).Return(&application.CheckoutResult{
			CheckoutURL:   "https://webpay.test/abc",
			TransactionID: "REN-x-3-1",
			Amount:        decimal.NewFromInt(30000),
			Currency:      "XOF",
			Intent:        domain.NewRenewalIntent(3),
		}, nil)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/renewal", `{"months":3}`))

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[CheckoutResponse](t, rec)
		assert.Equal(t, "https://webpay.test/abc", resp.CheckoutURL)
		assert.Equal(t, "30000", resp.Amount)
		assert.Equal(t, domain.IntentRenewal, resp.Intent.Kind)
		svc.AssertExpectations(t)
	})

	t.Run("empty body uses zero months", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("RequestRenewal", mock.Anything, doctor(), 0).Return(nil, domain.ErrFreePlanNotRenewable)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/renewal", ""))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "free_plan_not_renewable", resp.Code)
		assert.Equal(t, "L'offre gratuite ne peut pas être renouvelée.", resp.Message)
	})

	t.Run("english message on request", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("RequestRenewal", mock.Anything, doctor(), 1).Return(nil, domain.ErrCheckoutInProgress)

		req := authed(t, http.MethodPost, "/api/v1/subscription/renewal", `{"months":1}`)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9,fr;q=0.8")
		rec := serve(h, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "A payment is already in progress for this subscription.", decode[ErrorResponse](t, rec).Message)
	})

	t.Run("provider failure", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("RequestRenewal", mock.Anything, doctor(), 1).
			Return(nil, &domain.ProviderError{Op: "webpayment", StatusCode: 503, Err: errors.New("down")})

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/renewal", `{"months":1}`))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "provider_error", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("negative months reach the service", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("RequestRenewal", mock.Anything, doctor(), -1).Return(&application.CheckoutResult{
			CheckoutURL:   "https://webpay.test/one",
			TransactionID: "REN-x-1-1",
			Amount:        decimal.NewFromInt(10000),
			Currency:      "XOF",
			Intent:        domain.NewRenewalIntent(1),
		}, nil)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/renewal", `{"months":-1}`))

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, 1, decode[CheckoutResponse](t, rec).Intent.Months)
		svc.AssertExpectations(t)
	})

	t.Run("negative months on plan change reach the service", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("RequestPlanChange", mock.Anything, doctor(), domain.PlanPremium, -2).Return(&application.CheckoutResult{
			CheckoutURL:   "https://webpay.test/chg",
			TransactionID: "CHG-x-PREMIUM-1-1",
			Amount:        decimal.NewFromInt(25000),
			Currency:      "XOF",
			Intent:        domain.NewPlanChangeIntent(domain.PlanPremium, 1),
		}, nil)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/plan-change", `{"plan":"PREMIUM","months":-2}`))

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		svc.AssertExpectations(t)
	})

	t.Run("too many months", func(t *testing.T) {
		h, svc := newTestServer(t, nil)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/renewal", `{"months":40}`))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "validation_failed", resp.Code)
		assert.Equal(t, "lte=36", resp.Fields["months"])
		svc.AssertNotCalled(t, "RequestRenewal", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		h, _ := newTestServer(t, nil)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/renewal", `{"months":`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", decode[ErrorResponse](t, rec).Code)
	})
}

func TestRequestPlanChange(t *testing.T) {
	t.Run("starts a checkout", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("RequestPlanChange", mock.Anything, doctor(), domain.PlanPremium, 3).Return(&application.CheckoutResult{
			CheckoutURL:   "https://webpay.test/chg",
			TransactionID: "CHG-x-PREMIUM-3-1",
			Amount:        decimal.NewFromInt(75000),
			Currency:      "XOF",
			Intent:        domain.NewPlanChangeIntent(domain.PlanPremium, 3),
		}, nil)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/plan-change", `{"plan":"PREMIUM","months":3}`))

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[CheckoutResponse](t, rec)
		assert.Equal(t, domain.PlanPremium, resp.Intent.TargetPlan)
		svc.AssertExpectations(t)
	})

	t.Run("plan is required", func(t *testing.T) {
		h, _ := newTestServer(t, nil)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/plan-change", `{"months":3}`))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "required", decode[ErrorResponse](t, rec).Fields["plan"])
	})

	t.Run("same plan", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("RequestPlanChange", mock.Anything, doctor(), domain.PlanStandard, 1).
			Return(nil, domain.ErrPlanAlreadyActive)

		rec := serve(h, authed(t, http.MethodPost, "/api/v1/subscription/plan-change", `{"plan":"STANDARD","months":1}`))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "plan_already_active", decode[ErrorResponse](t, rec).Code)
	})
}

func TestFinalizeEndpoints(t *testing.T) {
	t.Run("finalize completed", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		svc.On("FinalizeReturn", mock.Anything, "REN-a-1-1", "10000", "tok").Return(&application.FinalizeOutcome{
			Status:        application.FinalizeCompleted,
			TransactionID: "REN-a-1-1",
			PaymentStatus: domain.PaymentCompleted,
			Subscription:  &domain.Subscription{ID: uuid.New(), Plan: domain.PlanStandard, Status: domain.StatusActive, EndDate: &end},
		}, nil)

		rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/billing/finalize?order_id=REN-a-1-1&amount=10000&pay_token=tok", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[FinalizeResponse](t, rec)
		assert.Equal(t, "completed", resp.Status)
		assert.Equal(t, "COMPLETED", resp.PaymentStatus)
		require.NotNil(t, resp.Subscription)
		assert.True(t, resp.Subscription.EndDate.Equal(end))
	})

	t.Run("finalize missing params", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("FinalizeReturn", mock.Anything, "", "", "").
			Return(&application.FinalizeOutcome{Status: application.FinalizeMissingParams}, nil)

		rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/billing/finalize", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing_params", decode[FinalizeResponse](t, rec).Status)
	})

	t.Run("finalize provider unavailable", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("FinalizeReturn", mock.Anything, "REN-a-1-1", "10000", "tok").
			Return(nil, &domain.ProviderError{Op: "transactionstatus", Err: context.DeadlineExceeded})

		rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/billing/finalize?order_id=REN-a-1-1&amount=10000&pay_token=tok", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("return redirect", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("FinalizeByOrder", mock.Anything, "REN-a-1-1", "10000").
			Return(&application.FinalizeOutcome{Status: application.FinalizeAlreadyProcessed, PaymentStatus: domain.PaymentCompleted}, nil)

		rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/billing/return?order_id=REN-a-1-1&amount=10000", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "already_processed", decode[FinalizeResponse](t, rec).Status)
	})

	t.Run("cancel redirect", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("CancelCheckout", mock.Anything, "REN-a-1-1").
			Return(&application.FinalizeOutcome{Status: application.FinalizeCancelled, PaymentStatus: domain.PaymentFailed}, nil)

		rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/billing/cancel?order_id=REN-a-1-1", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cancelled", decode[FinalizeResponse](t, rec).Status)
	})

	t.Run("notification", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("HandleNotification", mock.Anything, "REN-a-1-1", "10000", "notif-1").
			Return(&application.FinalizeOutcome{Status: application.FinalizeCompleted}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/notify?order_id=REN-a-1-1&amount=10000",
			strings.NewReader(`{"status":"SUCCESS","notif_token":"notif-1","txnid":"MP1"}`))
		rec := serve(h, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("notification without token", func(t *testing.T) {
		h, _ := newTestServer(t, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/notify?order_id=REN-a-1-1&amount=10000",
			strings.NewReader(`{"status":"SUCCESS"}`))
		rec := serve(h, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown payment", func(t *testing.T) {
		h, svc := newTestServer(t, nil)
		svc.On("CancelCheckout", mock.Anything, "nope").
			Return(&application.FinalizeOutcome{Status: application.FinalizePaymentNotFound}, nil)

		rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/billing/cancel?order_id=nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{domain.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
		{domain.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrDowngradeToFree, http.StatusUnprocessableEntity, "downgrade_to_free"},
		{domain.ErrInvalidSubscriberType, http.StatusUnprocessableEntity, "invalid_operation"},
		{&domain.ProviderError{Op: "token", Err: errors.New("x")}, http.StatusBadGateway, "provider_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestPreferredLanguage(t *testing.T) {
	tests := map[string]string{
		"":                "fr",
		"en":              "en",
		"en-GB,en;q=0.8":  "en",
		"de-DE, fr;q=0.7": "fr",
		"fr-SN":           "fr",
		"es":              "fr",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Language", header)
		assert.Equal(t, want, preferredLanguage(req), header)
	}
}
