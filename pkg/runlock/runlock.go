// Package runlock provides per-key mutual exclusion with expiry, used to
// allow at most one active sync run per data source.
package runlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// ErrLocked is returned by Acquire when another holder owns the key.
var ErrLocked = errors.New("lock is held")

// Release gives up a lock. Releasing a lock that expired and was taken by
// someone else is a no-op.
type Release func(ctx context.Context) error

// Locker acquires named locks that expire after ttl.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Key returns the lock key for a data source.
func Key(dataSourceID string) string {
	return "catalog:sync:" + dataSourceID
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
