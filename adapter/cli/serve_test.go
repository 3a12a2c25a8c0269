package cli

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/medplan/medplan/internal/billing/application"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	startErr error
	stopped  chan struct{}
	shutdown bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{stopped: make(chan struct{})}
}

func (s *fakeServer) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	<-s.stopped
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(ctx context.Context) error {
	s.shutdown = true
	close(s.stopped)
	return nil
}

type stubBilling struct{}

func (stubBilling) Prices() *domain.PriceMatrix { return nil }

func (stubBilling) EnsureSubscription(context.Context, domain.Owner) (*domain.Subscription, bool, error) {
	return nil, false, nil
}

func (stubBilling) GetOverview(context.Context, application.AuthenticatedSubscriber) (*application.Overview, error) {
	return nil, nil
}

func (stubBilling) FinalizeByOrder(context.Context, string, string) (*application.FinalizeOutcome, error) {
	return nil, nil
}

func (stubBilling) SweepAbandoned(context.Context, time.Duration) (int, error) { return 0, nil }

func TestServe_ShutsDownOnCancel(t *testing.T) {
	srv := newFakeServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.True(t, srv.shutdown)
}

func TestServe_StartError(t *testing.T) {
	srv := newFakeServer()
	srv.startErr = errors.New("address in use")

	err := serve(context.Background(), srv)
	assert.EqualError(t, err, "address in use")
	assert.False(t, srv.shutdown)
}

func TestServeCmd_NoApp(t *testing.T) {
	SetApp(nil)
	err := serveCmd.RunE(serveCmd, nil)
	assert.Error(t, err)
}

func TestMigrateCmd(t *testing.T) {
	t.Cleanup(func() { SetApp(nil) })

	t.Run("applies pending versions", func(t *testing.T) {
		SetApp(&App{Migrate: func(context.Context) ([]string, error) {
			return []string{"001_billing", "002_outbox"}, nil
		}})

		var output strings.Builder
		migrateCmd.SetContext(context.Background())
		migrateCmd.SetOut(&output)

		require.NoError(t, migrateCmd.RunE(migrateCmd, nil))
		assert.Equal(t, "Applied 001_billing\nApplied 002_outbox\n", output.String())
	})

	t.Run("up to date", func(t *testing.T) {
		SetApp(&App{Migrate: func(context.Context) ([]string, error) { return nil, nil }})

		var output strings.Builder
		migrateCmd.SetContext(context.Background())
		migrateCmd.SetOut(&output)

		require.NoError(t, migrateCmd.RunE(migrateCmd, nil))
		assert.Equal(t, "Database is up to date.\n", output.String())
	})

	t.Run("no database", func(t *testing.T) {
		SetApp(nil)
		assert.Error(t, migrateCmd.RunE(migrateCmd, nil))
	})
}

func TestVersionCmd(t *testing.T) {
	t.Cleanup(func() { versionShort = false })

	var output strings.Builder
	versionCmd.SetOut(&output)

	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(output.String(), "medplan dev\n"))

	output.Reset()
	versionShort = true
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "dev\n", output.String())
}

func TestHealthCmd(t *testing.T) {
	t.Cleanup(func() { SetApp(nil) })

	SetApp(nil)
	assert.Error(t, healthCmd.RunE(healthCmd, nil))

	SetApp(&App{BillingService: stubBilling{}})
	var output strings.Builder
	healthCmd.SetOut(&output)
	require.NoError(t, healthCmd.RunE(healthCmd, nil))
	assert.Equal(t, "ok\n", output.String())
}
