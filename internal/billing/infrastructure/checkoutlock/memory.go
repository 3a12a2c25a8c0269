package checkoutlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/application"
)

// MemoryLocker is a process-local locker for local mode and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[uuid.UUID]memoryLease
	next  uint64
	clock func() time.Time
}

type memoryLease struct {
	token     uint64
	expiresAt time.Time
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[uuid.UUID]memoryLease),
		clock: time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, subscriptionID uuid.UUID, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if lease, ok := l.held[subscriptionID]; ok && now.Before(lease.expiresAt) {
		return nil, application.ErrLockHeld
	}

	l.next++
	token := l.next
	l.held[subscriptionID] = memoryLease{token: token, expiresAt: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[subscriptionID]; ok && lease.token == token {
			delete(l.held, subscriptionID)
		}
	}, nil
}
