// Package cache defines the TTL key/value contract the IAM core memoizes
// through: token blacklisting and permission-set caching. Implementations
// are last-writer-wins stores with per-key expiry; no transactional
// guarantees are assumed beyond SetIfAbsent being atomic.
package cache

import (
	"context"
	"time"
)

// Cache is a namespaced key/value store with per-key TTL.
type Cache interface {
	// Get returns the value stored under key, or ok=false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set writes value under key with the given TTL, replacing any
	// previous entry. TTL must be greater than zero.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent writes value under key only when no live entry exists.
	// It reports whether the write happened. Used as the atomic
	// blacklist-if-absent primitive for refresh token rotation.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteMatch removes every key matching the glob pattern
	// (path.Match syntax, e.g. "authz_native:perms:*:42").
	DeleteMatch(ctx context.Context, pattern string) error
}
