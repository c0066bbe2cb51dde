package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockNotObtained is returned when another holder owns the lock
var ErrLockNotObtained = errors.New("cache: lock not obtained")

// ErrLockNotHeld is returned when refreshing or releasing a lock that expired
// or was taken over by another holder
var ErrLockNotHeld = errors.New("cache: lock not held")

// BatchLocker hands out exclusive, expiring leases on a key. The scheduler
// takes one for the whole batch so two operators cannot run overlapping batches.
type BatchLocker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock
type Lease interface {
	// Refresh extends the lease by ttl
	Refresh(ctx context.Context, ttl time.Duration) error
	// Release gives the lock up
	Release(ctx context.Context) error
}

// lockEntry is one held in-memory lock
type lockEntry struct {
	token     string
	expiresAt time.Time
}

// InMemoryBatchLocker implements BatchLocker for a single process
//
// Thread Safety: Safe for concurrent use.
type InMemoryBatchLocker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

// NewInMemoryBatchLocker creates a new in-memory locker
func NewInMemoryBatchLocker() *InMemoryBatchLocker {
	return &InMemoryBatchLocker{
		locks: make(map[string]lockEntry),
		now:   time.Now,
	}
}

// Obtain takes the lock unless an unexpired holder exists
func (l *InMemoryBatchLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expiresAt) {
		return nil, ErrLockNotObtained
	}

	token := uuid.NewString()
	l.locks[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return &inMemoryLease{locker: l, key: key, token: token}, nil
}

type inMemoryLease struct {
	locker *InMemoryBatchLocker
	key    string
	token  string
}

func (le *inMemoryLease) Refresh(ctx context.Context, ttl time.Duration) error {
	l := le.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.locks[le.key]
	if !ok || e.token != le.token || !now.Before(e.expiresAt) {
		return ErrLockNotHeld
	}
	e.expiresAt = now.Add(ttl)
	l.locks[le.key] = e
	return nil
}

func (le *inMemoryLease) Release(ctx context.Context) error {
	l := le.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[le.key]
	if !ok || e.token != le.token {
		return ErrLockNotHeld
	}
	delete(l.locks, le.key)
	return nil
}

var _ BatchLocker = (*InMemoryBatchLocker)(nil)
