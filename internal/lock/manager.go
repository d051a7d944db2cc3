// Package lock provides per-key mutual exclusion with bounded wait. The
// reconciliation engine uses it to guarantee at most one concurrent
// reconciliation per stream; the lock table lives entirely inside Manager
// and is not reachable from anywhere else.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrTimeout reports that the lock could not be acquired within the caller's
// timeout. Callers treat it as a skipped round, not a failure.
var ErrTimeout = errors.New("lock acquisition timed out")

// Lock is one held acquisition. It is created by Acquire, destroyed by
// Release, never persisted and never shared across process restarts.
type Lock struct {
	key        string
	token      string
	acquiredAt time.Time
	released   atomic.Bool
}

// Key returns the key the lock guards.
func (l *Lock) Key() string { return l.key }

// Token returns the unique holder token of this acquisition.
func (l *Lock) Token() string { return l.token }

// AcquiredAt returns when the lock was granted.
func (l *Lock) AcquiredAt() time.Time { return l.acquiredAt }

type tableEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// Manager hands out per-key locks. Entries are created on demand and
// evicted once the last interested goroutine is gone, so the table stays
// proportional to the number of keys currently contended.
type Manager struct {
	mu    sync.Mutex
	table map[string]*tableEntry
}

// NewManager creates an empty lock table.
func NewManager() *Manager {
	return &Manager{table: make(map[string]*tableEntry)}
}

// Acquire blocks the calling goroutine until the key's lock is granted, the
// timeout elapses (ErrTimeout) or ctx is cancelled. Acquisitions on
// different keys never block each other.
func (m *Manager) Acquire(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	entry := m.ref(key)

	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := entry.sem.Acquire(acquireCtx, 1); err != nil {
		m.unref(key)
		if ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s on key %q", ErrTimeout, timeout, key)
		}
		return nil, fmt.Errorf("lock acquisition on key %q abandoned: %w", key, ctx.Err())
	}

	return &Lock{
		key:        key,
		token:      uuid.NewString(),
		acquiredAt: time.Now(),
	}, nil
}

// Release frees the lock. It must run on every exit path of the critical
// section; callers defer it right after a successful Acquire. Releasing the
// same lock twice is a no-op.
func (m *Manager) Release(l *Lock) {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	entry := m.table[l.key]
	m.mu.Unlock()
	if entry == nil {
		return
	}

	entry.sem.Release(1)
	m.unref(l.key)
}

func (m *Manager) ref(key string) *tableEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.table[key]
	if !ok {
		entry = &tableEntry{sem: semaphore.NewWeighted(1)}
		m.table[key] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.table[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.table, key)
	}
}
