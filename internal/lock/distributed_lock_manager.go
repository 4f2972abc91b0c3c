package lock

import "context"

// DistributedLockManager serializes work across processes sharing a backend.
type DistributedLockManager interface {
	// Acquire blocks until the lock is held or ctx is done.
	Acquire(ctx context.Context, lockID int) error
	// TryAcquire takes the lock only if it is free.
	TryAcquire(ctx context.Context, lockID int) (bool, error)
	Release(ctx context.Context, lockID int) error
}
