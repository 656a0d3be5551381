// Package cache is the shared TTL key-value store that quota counters live
// in. Implementations are eventually consistent and enforce a minimum TTL.
package cache

import (
	"context"
	"time"
)

// DefaultMinTTL is the TTL floor of the production key-value store.
const DefaultMinTTL = 60 * time.Second

// DefaultTimeout bounds a single cache operation on the request path.
const DefaultTimeout = 100 * time.Millisecond

type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores value under key. TTLs below MinTTL are raised to it.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// MinTTL is the shortest expiry the store honours.
	MinTTL() time.Duration
	Ping(ctx context.Context) error
}

func applyFloor(ttl, floor time.Duration) time.Duration {
	if ttl < floor {
		return floor
	}
	return ttl
}
