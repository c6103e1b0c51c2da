package lock

import (
	"context"
	"time"
)

// NoOpLocker grants every lock. For deployments with a single writer per file
// id and for tests.
type NoOpLocker struct{}

// NewNoOpLocker creates a new no-op locker.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

func (*NoOpLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

func (n *NoOpLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, _ int, _ time.Duration) (bool, error) {
	return n.Acquire(ctx, key, ttl)
}

func (n *NoOpLocker) Release(ctx context.Context, key string) (bool, error) {
	return n.Acquire(ctx, key, 0)
}

func (n *NoOpLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return n.Acquire(ctx, key, ttl)
}

// IsHeld always reports false; nothing is ever recorded.
func (*NoOpLocker) IsHeld(ctx context.Context, _ string) (bool, error) {
	return false, ctx.Err()
}

var _ Locker = (*NoOpLocker)(nil)
