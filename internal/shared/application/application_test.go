package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/shared/domain"
	"github.com/medplan/medplan/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUnitOfWork struct {
	mock.Mock
}

func (m *mockUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(context.Context), args.Error(1)
}

func (m *mockUnitOfWork) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockUnitOfWork) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestWithUnitOfWork_Commits(t *testing.T) {
	ctx := context.Background()
	uow := new(mockUnitOfWork)
	uow.On("Begin", ctx).Return(ctx, nil)
	uow.On("Commit", ctx).Return(nil)

	called := false
	err := WithUnitOfWork(ctx, uow, func(context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	uow.AssertExpectations(t)
	uow.AssertNotCalled(t, "Rollback", mock.Anything)
}

func TestWithUnitOfWork_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	uow := new(mockUnitOfWork)
	uow.On("Begin", ctx).Return(ctx, nil)
	uow.On("Rollback", ctx).Return(nil)

	boom := errors.New("boom")
	err := WithUnitOfWork(ctx, uow, func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	uow.AssertExpectations(t)
	uow.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestWithUnitOfWork_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	uow := new(mockUnitOfWork)
	uow.On("Begin", ctx).Return(ctx, nil)
	uow.On("Rollback", ctx).Return(nil)

	assert.Panics(t, func() {
		_ = WithUnitOfWork(ctx, uow, func(context.Context) error { panic("kaboom") })
	})
	uow.AssertExpectations(t)
}

func TestWithUnitOfWork_BeginError(t *testing.T) {
	ctx := context.Background()
	uow := new(mockUnitOfWork)
	uow.On("Begin", ctx).Return(nil, errors.New("pool exhausted"))

	err := WithUnitOfWork(ctx, uow, func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})

	assert.EqualError(t, err, "pool exhausted")
}

type testEvent struct {
	domain.BaseEvent
}

func TestEventMetadataFromContext(t *testing.T) {
	ctx := observability.WithCorrelationID(context.Background(), "corr-42")
	md := EventMetadataFromContext(ctx, "user-1")

	assert.Equal(t, "corr-42", md.CorrelationID)
	assert.NotEmpty(t, md.CausationID)
	assert.Equal(t, "user-1", md.ActorID)

	md = EventMetadataFromContext(context.Background(), "")
	assert.NotEmpty(t, md.CorrelationID)
}

func TestApplyEventMetadata(t *testing.T) {
	event := &testEvent{BaseEvent: domain.NewBaseEvent(uuid.New(), "Subscription", "billing.subscription.renewed", time.Now())}
	md := domain.EventMetadata{CorrelationID: "c", ActorID: "a"}

	ApplyEventMetadata([]domain.DomainEvent{event}, md)

	assert.Equal(t, md, event.Metadata())
}
