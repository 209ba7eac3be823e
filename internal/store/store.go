package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable wraps infrastructure failures of the backing store so that
// callers can apply their fail-open/fail-closed policy. Use errors.Is to test.
var ErrUnavailable = errors.New("store: unavailable")

// Store is the shared key-value contract used for live challenge records and
// rate-limit counters. All mutation goes through primitives that the backend
// applies atomically; the services hold no cross-request state of their own.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key, replacing any existing value.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether it was present. The returned
	// bool is the single-use consume primitive: of N concurrent deletes of
	// the same key, exactly one observes true.
	Delete(ctx context.Context, key string) (bool, error)

	// Increment atomically adds one to the counter at key and returns the
	// new value. The TTL is applied when the counter is created.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Count returns the current counter value at key, 0 if absent.
	Count(ctx context.Context, key string) (int64, error)
}
