package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock acquired through DistributedLocker.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes ledger mutations across daemons that share a store.
// The ledger Manager takes it around every read-modify-write, after its local mutex.
type DistributedLocker interface {
	// Lock blocks until key is held or ctx is done. The lock expires after ttl if the
	// holder dies. The returned UnlockFunc must be called once the mutation is saved and
	// does nothing if the lock already expired.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
