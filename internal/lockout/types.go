package lockout

import (
	"context"
	"time"
)

// Result describes the lockout state of one key after a check or update.
type Result struct {
	Locked       bool
	FailureCount int
	LockedUntil  time.Time
}

// Policy holds the failure-count lockout parameters.
type Policy struct {
	Threshold    int           // Failures before lockout.
	Window       time.Duration // Sliding window for consecutive failures.
	LockDuration time.Duration // How long a lockout lasts.
}

// Store tracks per-key failure counters in a shared transactional backend.
// RecordFailure must be atomic: two concurrent failures may never both
// observe the same pre-increment count.
type Store interface {
	Check(ctx context.Context, key string, now time.Time) (Result, error)
	RecordFailure(ctx context.Context, key string, now time.Time, policy Policy) (Result, error)
	RecordSuccess(ctx context.Context, key string) error
}
