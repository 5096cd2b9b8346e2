package kv

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingStore wraps a Store with an LRU cache of values. Writes and deletes
// go through to the inner store and then update the cache, so a successful
// Get after Put always observes the new value.
type CachingStore struct {
	inner Store
	cache *lru.Cache[string, []byte]

	mu     sync.Mutex
	epoch  uint64 // bumped by every write; guards miss fills
	hits   uint64
	misses uint64
}

// NewCachingStore creates a CachingStore holding up to size values.
func NewCachingStore(inner Store, size int) (*CachingStore, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachingStore{inner: inner, cache: c}, nil
}

func (s *CachingStore) Put(ctx context.Context, key string, value []byte) error {
	err := s.inner.Put(ctx, key, value)

	s.mu.Lock()
	s.epoch++
	if err != nil {
		s.cache.Remove(key)
	} else {
		s.cache.Add(key, append([]byte(nil), value...))
	}
	s.mu.Unlock()
	return err
}

func (s *CachingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	v, ok := s.cache.Get(key)
	if ok {
		s.hits++
	} else {
		s.misses++
	}
	epoch := s.epoch
	s.mu.Unlock()
	if ok {
		return append([]byte(nil), v...), nil
	}

	v, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.cache.Add(key, append([]byte(nil), v...))
	}
	s.mu.Unlock()
	return v, nil
}

func (s *CachingStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)

	s.mu.Lock()
	s.epoch++
	s.cache.Remove(key)
	s.mu.Unlock()
	return err
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// GetMany fetches keys concurrently through the cache. Missing keys yield
// nil entries.
func (s *CachingStore) GetMany(ctx context.Context, keys []string, parallelism int) ([][]byte, error) {
	return getMany(ctx, s, keys, parallelism)
}

// Stats returns the cache hit and miss counters.
func (s *CachingStore) Stats() (hits, misses uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}
