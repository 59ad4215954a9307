// Package embedcache provides the persistent embedding cache consulted during
// knowledge-base builds. Entries are keyed on (content_hash, model_id), never
// on the hash alone: vectors produced by different models are not
// interchangeable even when the text is identical. The key carries no issue
// scope, so identical chunk text is reused across issues.
package embedcache

import (
	"context"

	"github.com/seerstack/logseer/internal/domain"
)

// Store is a durable (content_hash, model_id) -> vector cache.
//
// Put is idempotent: writing an existing key with an equal vector is a no-op.
// Writing a differing vector for an existing key must fail with
// domain.ErrCacheConflict and leave the stored value untouched; embedding
// identical text under one model is deterministic, so a disagreement means
// something upstream is broken.
type Store interface {
	Get(ctx context.Context, contentHash, modelID string) ([]float32, bool, error)
	Put(ctx context.Context, record *domain.EmbeddingRecord) error
	Len(ctx context.Context) (int, error)
}

func cacheKey(contentHash, modelID string) string {
	return modelID + "|" + contentHash
}
