package ports

import (
	"context"
	"time"
)

// RecordLocker serializes mutations on a single record. Implementations back
// the lock with durable storage so holds survive process restarts; the token
// fences releases from stale holders.
type RecordLocker interface {
	// AcquireLock takes the lock for key, valid for ttl. It returns the
	// holder token on success and ErrLockNotAcquired when another holder
	// owns a non-expired lock.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)

	// ReleaseLock frees the lock if token still identifies the current
	// holder. It reports whether the lock was actually released; false means
	// the hold expired and was taken over in the meantime.
	ReleaseLock(ctx context.Context, key, token string) (bool, error)

	// PurgeExpired removes expired lock rows and reports how many were
	// deleted. Called from the background maintenance pass.
	PurgeExpired(ctx context.Context) (int64, error)
}
