package cli

import (
	"context"
	"time"

	"github.com/medplan/medplan/internal/billing/application"
	"github.com/medplan/medplan/internal/billing/domain"
)

// BillingService is the part of the lifecycle service operators use.
type BillingService interface {
	Prices() *domain.PriceMatrix
	EnsureSubscription(ctx context.Context, owner domain.Owner) (*domain.Subscription, bool, error)
	GetOverview(ctx context.Context, caller application.AuthenticatedSubscriber) (*application.Overview, error)
	FinalizeByOrder(ctx context.Context, orderID, amount string) (*application.FinalizeOutcome, error)
	SweepAbandoned(ctx context.Context, olderThan time.Duration) (int, error)
}

// Server is a long-running HTTP server.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// App holds the CLI application dependencies.
type App struct {
	BillingService BillingService

	// APIServer is started by the serve command.
	APIServer Server

	// Migrate applies pending schema migrations and returns their versions.
	Migrate func(ctx context.Context) ([]string, error)
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
