// Package orangemoney is a client for the Orange Money Web Payment API.
package orangemoney

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/medplan/medplan/internal/billing/application"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/pkg/observability"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultBaseURL  = "https://api.orange.com/orange-money-webpay/dev/v1"
	DefaultTokenURL = "https://api.orange.com/oauth/v3/token"
)

// Config configures the client.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	MerchantKey  string
	Currency     string
	Lang         string

	// Timeout bounds every provider call, token fetch included.
	Timeout time.Duration

	// FailureThreshold consecutive failures open the breaker for BreakerTimeout.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.Lang == "" {
		c.Lang = "fr"
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Client implements application.PaymentGateway.
type Client struct {
	cfg     Config
	tokens  oauth2.TokenSource
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewClient creates a client. Tokens come from the client-credentials grant
// and are reused until they expire.
func NewClient(cfg Config, logger *slog.Logger, metrics observability.Metrics) *Client {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	c := &Client{
		cfg:     cfg,
		tokens:  cc.TokenSource(tokenCtx),
		http:    httpClient,
		logger:  logger,
		metrics: metrics,
	}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "orange-money",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c
}

// AccessToken returns a valid bearer token, fetching a new one when the
// cached token has expired.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.ProviderError{Op: "token", Err: err}
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return "", &domain.ProviderError{Op: "token", Err: err}
	}
	return tok.AccessToken, nil
}

type webPaymentRequest struct {
	MerchantKey string `json:"merchant_key"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
	NotifURL    string `json:"notif_url"`
	Lang        string `json:"lang"`
	Reference   string `json:"reference"`
}

type webPaymentResponse struct {
	Message    string `json:"message"`
	PayToken   string `json:"pay_token"`
	PaymentURL string `json:"payment_url"`
	NotifToken string `json:"notif_token"`
}

// wholeAmount converts amount to the integer units the provider accepts and
// refuses amounts with a fractional part.
func wholeAmount(op string, amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Truncate(0)) {
		return 0, &domain.ProviderError{Op: op, Err: fmt.Errorf("amount %s is not a whole number of currency units", amount)}
	}
	return amount.IntPart(), nil
}

// InitiateCheckout opens a web payment session.
func (c *Client) InitiateCheckout(ctx context.Context, req application.CheckoutRequest) (*application.CheckoutSession, error) {
	amount, err := wholeAmount("webpayment", req.Amount)
	if err != nil {
		return nil, err
	}
	currency := req.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	body := webPaymentRequest{
		MerchantKey: c.cfg.MerchantKey,
		Currency:    currency,
		OrderID:     req.OrderID,
		Amount:      amount,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
		NotifURL:    req.NotifyURL,
		Lang:        c.cfg.Lang,
		Reference:   req.Reference,
	}

	var resp webPaymentResponse
	if err := c.call(ctx, "webpayment", body, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentURL == "" || resp.PayToken == "" {
		return nil, &domain.ProviderError{Op: "webpayment", Err: errors.New("response is missing payment_url or pay_token")}
	}

	c.logger.InfoContext(ctx, "web payment initiated", "order_id", req.OrderID)
	return &application.CheckoutSession{
		CheckoutURL: resp.PaymentURL,
		PayToken:    resp.PayToken,
		NotifToken:  resp.NotifToken,
	}, nil
}

type transactionStatusRequest struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	PayToken string `json:"pay_token"`
}

type transactionStatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	OrderID string `json:"order_id"`
	TxnID   string `json:"txnid"`
}

// QueryStatus asks the provider for the state of a payment.
func (c *Client) QueryStatus(ctx context.Context, req application.StatusRequest) (*application.StatusReport, error) {
	amount, err := wholeAmount("transactionstatus", req.Amount)
	if err != nil {
		return nil, err
	}
	body := transactionStatusRequest{
		OrderID:  req.OrderID,
		Amount:   amount,
		PayToken: req.PayToken,
	}

	var resp transactionStatusResponse
	if err := c.call(ctx, "transactionstatus", body, &resp); err != nil {
		return nil, err
	}
	return &application.StatusReport{
		Status:  resp.Status,
		Message: resp.Message,
		TxnID:   resp.TxnID,
	}, nil
}

// Ping checks that a token can be obtained.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.AccessToken(ctx)
	return err
}

func (c *Client) call(ctx context.Context, op string, in, out any) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.post(ctx, op, in, out)
	})
	c.metrics.Timing(observability.MetricProviderLatency, time.Since(start), observability.T("op", op))
	if err == nil {
		return nil
	}

	c.metrics.Counter(observability.MetricProviderErrors, 1, observability.T("op", op))
	c.logger.WarnContext(ctx, "payment provider call failed", "op", op, "error", err)

	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	return &domain.ProviderError{Op: op, Err: err}
}

func (c *Client) post(ctx context.Context, op string, in, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+op, bytes.NewReader(payload))
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
