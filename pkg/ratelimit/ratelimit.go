// Package ratelimit tracks request counts per key within a fixed time window.
// One interface, three interchangeable backends: in-process memory, a shared
// transactional SQL store for multi-process hosts, and Redis for multi-host
// fleets.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable marks a backing-store failure during an operation. It
// is distinct from a denial: callers must decide explicitly whether to
// fail open or fail closed, never treat a store error as "allowed".
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Limiter is the quota contract consumed by the dispatcher and executor. All
// quota mutation in the system goes through Acquire.
type Limiter interface {
	// Acquire counts one request against key and reports whether it fits
	// within limit for the current window. A denied result is returned with
	// a nil error; a non-nil error means the store failed and nothing can be
	// said about the quota.
	Acquire(ctx context.Context, key string, limit int, window time.Duration) (Result, error)

	// Current returns the count in the key's current window without
	// incrementing it. Expired windows read as zero.
	Current(ctx context.Context, key string) (int, error)

	// Reset clears the record for a key.
	Reset(ctx context.Context, key string) error

	// CleanupExpired removes records whose window started more than
	// olderThan ago and returns how many were removed.
	CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

// Result is the outcome of one Acquire call.
type Result struct {
	Allowed      bool          `json:"allowed"`
	CurrentCount int           `json:"current_count"`
	Limit        int           `json:"limit"`
	ResetAt      time.Time     `json:"reset_at"`
	RetryAfter   time.Duration `json:"retry_after"`
}

// Remaining reports how many acquisitions are left in the window, never
// negative.
func (r Result) Remaining() int {
	remaining := r.Limit - r.CurrentCount
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Record is the quota state for one key in one window. Only one record may be
// current per key: a window rollover atomically replaces it with count=1 and
// window_start=now.
type Record struct {
	Key           string    `json:"key"`
	WindowStart   time.Time `json:"window_start"`
	Count         int       `json:"count"`
	Limit         int       `json:"limit"`
	WindowSeconds int       `json:"window_seconds"`
}

// resultFor derives an acquire Result from a record state at time now.
func resultFor(count, limit int, windowStart time.Time, window time.Duration, now time.Time) Result {
	resetAt := windowStart.Add(window)

	result := Result{
		Allowed:      count <= limit,
		CurrentCount: count,
		Limit:        limit,
		ResetAt:      resetAt,
	}

	if !result.Allowed {
		retryAfter := resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}

		result.RetryAfter = retryAfter
	}

	return result
}
