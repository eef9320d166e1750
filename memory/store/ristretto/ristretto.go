// Package ristretto implements memory.KVStore on a ristretto TTL cache.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ErrDropped is returned when the cache refuses a write under contention
// or admission policy.
var ErrDropped = errors.New("ristretto: write dropped")

// Config sizes the cache.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultConfig returns sizing for roughly 10k sessions of up to 64MB total.
func DefaultConfig() Config {
	return Config{
		NumCounters: 1e5,
		MaxCost:     64 << 20,
		BufferItems: 64,
	}
}

// Store wraps a ristretto cache. Ristretto cannot enumerate keys, so live
// keys and their expiry are tracked alongside it.
type Store struct {
	cache *ristretto.Cache

	mu   sync.Mutex
	keys map[string]time.Time // zero time: no expiry
	now  func() time.Time
}

// New creates a store.
func New(cfg Config) (*Store, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &Store{
		cache: cache,
		keys:  make(map[string]time.Time),
		now:   time.Now,
	}, nil
}

func (s *Store) Name() string {
	return "ristretto"
}

// Set stores a copy of value. Cost is the value size in bytes.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := append([]byte(nil), value...)
	if !s.cache.SetWithTTL(key, v, int64(len(v))+1, ttl) {
		return fmt.Errorf("%w: %s", ErrDropped, key)
	}
	// Sets are buffered; make the write visible to the next Get.
	s.cache.Wait()

	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.keys[key] = expires
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		s.forget(key)
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("ristretto: unexpected value type %T for %s", v, key)
	}
	return append([]byte(nil), b...), true, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	s.cache.Del(key)
	s.forget(key)
	return ok, nil
}

// Keys lists unexpired keys with prefix. Keys evicted by the cache are
// pruned lazily.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	now := s.now()

	s.mu.Lock()
	candidates := make([]string, 0, len(s.keys))
	for k, exp := range s.keys {
		if !exp.IsZero() && now.After(exp) {
			delete(s.keys, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			candidates = append(candidates, k)
		}
	}
	s.mu.Unlock()

	keys := candidates[:0]
	for _, k := range candidates {
		if _, ok := s.cache.Get(k); ok {
			keys = append(keys, k)
		} else {
			s.forget(k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	s.cache.Close()
	return nil
}

func (s *Store) forget(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}
