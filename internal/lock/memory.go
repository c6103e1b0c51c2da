package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker inside a single process.
// Expired entries are dropped lazily, and waiters in AcquireWithRetry wake as
// soon as the key is released instead of sleeping out the full retry delay.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
	now   func() time.Time
}

type memoryLock struct {
	expiresAt time.Time
	released  chan struct{}
}

// NewMemoryLocker creates a new in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]*memoryLock),
		now:   time.Now,
	}
}

// live returns the unexpired entry for key, dropping an expired one.
// m.mu must be held.
func (m *MemoryLocker) live(key string) *memoryLock {
	entry, ok := m.locks[key]
	if !ok {
		return nil
	}
	if !m.now().Before(entry.expiresAt) {
		m.drop(key, entry)
		return nil
	}
	return entry
}

func (m *MemoryLocker) drop(key string, entry *memoryLock) {
	delete(m.locks, key)
	close(entry.released)
}

// tryAcquire returns the current holder's release channel when key is taken.
func (m *MemoryLocker) tryAcquire(key string, ttl time.Duration) (bool, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry := m.live(key); entry != nil {
		return false, entry.released
	}
	m.locks[key] = &memoryLock{
		expiresAt: m.now().Add(ttl),
		released:  make(chan struct{}),
	}
	return true, nil
}

// Acquire attempts to acquire a lock.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, _ := m.tryAcquire(key, ttl)
	return ok, nil
}

// AcquireWithRetry waits up to maxRetries times for the lock. Each wait ends
// after retryDelay or when the holder releases, whichever comes first.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, released := m.tryAcquire(key, ttl)
		if ok {
			return true, nil
		}
		if i >= maxRetries {
			return false, nil
		}

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-released:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Release releases a lock.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(key)
	if entry == nil {
		return false, nil
	}
	m.drop(key, entry)
	return true, nil
}

// Extend extends the TTL of a held lock.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(key)
	if entry == nil {
		return false, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	return true, nil
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.live(key) != nil, nil
}

// Len returns the number of unexpired locks.
func (m *MemoryLocker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.locks {
		if m.live(key) != nil {
			n++
		}
	}
	return n
}

// acquireWithRetry polls locker.Acquire until it succeeds or retries run out.
func acquireWithRetry(ctx context.Context, locker Locker, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	for i := 0; i <= maxRetries; i++ {
		acquired, err := locker.Acquire(ctx, key, ttl)
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		if i < maxRetries {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return false, nil
}

var _ Locker = (*MemoryLocker)(nil)
