// Package lock serializes writers of a file id, in process or across
// instances sharing a Redis server.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker is a lease-based lock keyed by string.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another process.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if it's not held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Lock is a convenience wrapper for a specific lock instance.
type Lock struct {
	locker Locker
	key    string

	mu   sync.Mutex
	held bool
	stop chan struct{}
	done chan struct{}
}

// NewLock creates a new Lock instance.
func NewLock(locker Locker, key string) *Lock {
	return &Lock{
		locker: locker,
		key:    key,
	}
}

// Key returns the lock key.
func (l *Lock) Key() string {
	return l.key
}

// Acquire attempts to acquire the lock.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	acquired, err := l.locker.Acquire(ctx, l.key, ttl)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	l.held = acquired
	l.mu.Unlock()
	return acquired, nil
}

// KeepAlive extends the lock every ttl/3 until Release or ctx is done.
// A failed or refused extension marks the lock as lost.
func (l *Lock) KeepAlive(ctx context.Context, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held || l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.keepAlive(ctx, ttl, l.stop, l.done)
}

func (l *Lock) keepAlive(ctx context.Context, ttl time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := l.locker.Extend(ctx, l.key, ttl)
			if err != nil || !extended {
				l.mu.Lock()
				l.held = false
				l.mu.Unlock()
				return
			}
		}
	}
}

// Release stops any keep-alive and releases the lock.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	l.mu.Lock()
	held := l.held
	l.held = false
	l.mu.Unlock()

	if !held {
		return nil
	}
	_, err := l.locker.Release(ctx, l.key)
	return err
}

// Extend extends the lock TTL.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.IsHeld() {
		return nil
	}
	extended, err := l.locker.Extend(ctx, l.key, ttl)
	if err != nil {
		return err
	}
	if !extended {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}
	return nil
}

// IsHeld returns whether the lock is held.
func (l *Lock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// FileWrite returns a lock key for writes to a single file.
// Held for the whole upload or delete so concurrent writers of the same id
// and the garbage collector stay out of each other's way.
func (lockKeys) FileWrite(bucket, fileKey string) string {
	return "lock:gridfs:" + bucket + ":file:" + fileKey
}

// GC returns a lock key for orphan chunk collection in a bucket.
func (lockKeys) GC(bucket string) string {
	return "lock:gridfs:" + bucket + ":gc"
}
