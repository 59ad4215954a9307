package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/seerstack/logseer/internal/domain"
)

// LRUStore decorates a durable Store with an in-memory LRU so hot keys skip
// the backend entirely. Conflict semantics stay with the inner store.
type LRUStore struct {
	inner Store
	mem   *expirable.LRU[string, []float32]
}

// WrapLRU wraps inner with an expirable LRU of the given size and ttl.
// A ttl of zero disables expiry.
func WrapLRU(inner Store, size int, ttl time.Duration) *LRUStore {
	return &LRUStore{
		inner: inner,
		mem:   expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// Get serves from memory when possible and refills from the inner store.
func (s *LRUStore) Get(ctx context.Context, contentHash, modelID string) ([]float32, bool, error) {
	key := cacheKey(contentHash, modelID)
	if vec, ok := s.mem.Get(key); ok {
		return vec, true, nil
	}

	vec, ok, err := s.inner.Get(ctx, contentHash, modelID)
	if err != nil || !ok {
		return nil, ok, err
	}

	s.mem.Add(key, vec)
	return vec, true, nil
}

// Put writes through to the inner store; only accepted records enter memory.
func (s *LRUStore) Put(ctx context.Context, record *domain.EmbeddingRecord) error {
	if err := s.inner.Put(ctx, record); err != nil {
		return err
	}
	s.mem.Add(cacheKey(record.ContentHash, record.ModelID), record.Vector)
	return nil
}

// Len reports the durable entry count, not the in-memory one.
func (s *LRUStore) Len(ctx context.Context) (int, error) {
	return s.inner.Len(ctx)
}
