// Package memory provides the in-process cache.Cache adapter. Entries
// expire lazily on read; DeleteMatch scans the key space under the write
// lock, which is acceptable at the key cardinality the IAM core produces.
package memory

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"acesso.org/internal/cache"
)

// ErrInvalidTTL is returned when Set is called with a non-positive TTL.
var ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")

type entry struct {
	value   []byte
	expires time.Time
}

// Adapter is a mutex-guarded map with per-key expiry.
type Adapter struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

var _ cache.Cache = (*Adapter)(nil)

// NewAdapter returns an empty adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		entries: map[string]entry{},
		now:     time.Now,
	}
}

// NewAdapterWithClock returns an adapter with an injected time source for tests.
func NewAdapterWithClock(now func() time.Time) *Adapter {
	a := NewAdapter()
	if now != nil {
		a.now = now
	}
	return a
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if a.now().After(e.expires) {
		a.mu.Lock()
		delete(a.entries, key)
		a.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateSetInput(key, ttl); err != nil {
		return err
	}
	a.mu.Lock()
	a.entries[key] = entry{value: cloneValue(value), expires: a.now().Add(ttl)}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := validateSetInput(key, ttl); err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[key]; ok && !a.now().After(e.expires) {
		return false, nil
	}
	a.entries[key] = entry{value: cloneValue(value), expires: a.now().Add(ttl)}
	return true, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	delete(a.entries, key)
	a.mu.Unlock()
	return nil
}

func (a *Adapter) DeleteMatch(ctx context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return err
	}
	a.mu.Lock()
	for k := range a.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(a.entries, k)
		}
	}
	a.mu.Unlock()
	return nil
}

func validateSetInput(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("memory cache: key is required")
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

func cloneValue(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
