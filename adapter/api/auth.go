package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/application"
	"github.com/medplan/medplan/internal/billing/domain"
)

type subscriberCtxKey struct{}

// Claims are the bearer token claims issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	SubscriberType string   `json:"subscriber_type"`
	SubscriberID   string   `json:"subscriber_id"`
	Roles          []string `json:"roles"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	// SigningKey is the shared HS256 secret.
	SigningKey []byte
	Issuer     string
	Leeway     time.Duration
}

// Authenticator resolves the calling subscriber from an HS256 bearer token.
type Authenticator struct {
	key    []byte
	parser *jwt.Parser
}

// NewAuthenticator creates an authenticator. An empty signing key rejects
// every token.
func NewAuthenticator(cfg JWTConfig) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return &Authenticator{key: cfg.SigningKey, parser: jwt.NewParser(opts...)}
}

var errNoSigningKey = errors.New("no signing key configured")

// Authenticate parses a raw token into the subscriber it identifies.
func (a *Authenticator) Authenticate(raw string) (application.AuthenticatedSubscriber, error) {
	if len(a.key) == 0 {
		return application.AuthenticatedSubscriber{}, errNoSigningKey
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	})
	if err != nil {
		return application.AuthenticatedSubscriber{}, err
	}

	subscriberType, err := domain.ParseSubscriberType(claims.SubscriberType)
	if err != nil {
		return application.AuthenticatedSubscriber{}, err
	}
	subscriberID, err := uuid.Parse(claims.SubscriberID)
	if err != nil {
		return application.AuthenticatedSubscriber{}, err
	}

	return application.AuthenticatedSubscriber{
		UserID:       claims.Subject,
		Type:         subscriberType,
		SubscriberID: subscriberID,
		Roles:        claims.Roles,
	}, nil
}

// Require rejects requests without a valid bearer token and stores the
// subscriber on the request context.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			writeDomainError(w, r, domain.ErrUnauthorized)
			return
		}

		subscriber, err := a.Authenticate(strings.TrimSpace(token))
		if err != nil {
			writeDomainError(w, r, domain.ErrUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subscriberCtxKey{}, subscriber)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubscriberFromContext returns the subscriber stored by Require.
func SubscriberFromContext(ctx context.Context) (application.AuthenticatedSubscriber, bool) {
	s, ok := ctx.Value(subscriberCtxKey{}).(application.AuthenticatedSubscriber)
	return s, ok
}
