// Package lock provides the per-user mutual exclusion used around
// read-decide-write reconciliation cycles.
package lock

import (
	"context"
	"errors"
	"time"
)

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

var (
	ErrEmptyKey       = errors.New("lock_key_empty")
	ErrNotConfigured  = errors.New("lock_not_configured")
	ErrAcquireTimeout = errors.New("lock_acquire_timeout")
)

const (
	DefaultTTL        = 15 * time.Second
	DefaultRetryDelay = 25 * time.Millisecond
)

// UserKey is the lock key serializing reconciliation for one user.
func UserKey(userID string) string {
	return "entitlement:lock:user:" + userID
}
