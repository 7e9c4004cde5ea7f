package port

import (
	"context"
	"time"
)

// Cache is a string key-value cache. Implementations are safe for concurrent
// use and honour caller deadlines.
type Cache interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value with ttl; ttl <= 0 keeps the key until evicted.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss, distinct from transport errors.
var ErrMiss = errMiss{}

type errMiss struct{}

func (e errMiss) Error() string { return "cache: miss" }
