package embedcache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seerstack/logseer/internal/domain"
)

const testModel = "local:term-hash-256"

func newTestRecord(text string, vector []float32) *domain.EmbeddingRecord {
	return domain.NewEmbeddingRecord(domain.HashContent(text), testModel, vector, time.Now().UTC())
}

func openTestStore(t *testing.T, maxEntries int) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embeddings.jsonl")
	store, err := OpenFileStore(path, maxEntries)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestFileStore_PutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t, 100)

	rec := newTestRecord("ERROR connection refused", []float32{0.1, 0.2, 0.3})
	require.NoError(t, store.Put(ctx, rec))

	got, ok, err := store.Get(ctx, rec.ContentHash, rec.ModelID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Vector, got)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFileStore_Miss(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t, 100)

	_, ok, err := store.Get(ctx, domain.HashContent("never cached"), testModel)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_ModelScopesKey(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t, 100)

	hash := domain.HashContent("shared text")
	require.NoError(t, store.Put(ctx, domain.NewEmbeddingRecord(hash, "local:term-hash-256", []float32{1, 0}, time.Now())))

	// Same hash under a different model is a distinct key, not a hit.
	_, ok, err := store.Get(ctx, hash, "gemini:text-embedding-004")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, domain.NewEmbeddingRecord(hash, "gemini:text-embedding-004", []float32{0, 1}, time.Now())))

	local, ok, err := store.Get(ctx, hash, "local:term-hash-256")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, local)
}

func TestFileStore_IdempotentPut(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t, 100)

	rec := newTestRecord("same text", []float32{0.5, 0.5})
	require.NoError(t, store.Put(ctx, rec))
	require.NoError(t, store.Put(ctx, rec))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFileStore_ConflictingPutRejectedKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t, 100)

	original := newTestRecord("same text", []float32{0.5, 0.5})
	require.NoError(t, store.Put(ctx, original))

	conflicting := domain.NewEmbeddingRecord(original.ContentHash, original.ModelID, []float32{0.9, 0.9}, time.Now())
	err := store.Put(ctx, conflicting)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCacheConflict)

	got, ok, err := store.Get(ctx, original.ContentHash, original.ModelID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.5}, got, "original value must stay authoritative")
}

func TestFileStore_ReloadFromDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "embeddings.jsonl")

	store, err := OpenFileStore(path, 100)
	require.NoError(t, err)

	rec := newTestRecord("persisted text", []float32{0.25, 0.75})
	require.NoError(t, store.Put(ctx, rec))
	require.NoError(t, store.Close())

	reopened, err := OpenFileStore(path, 100)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, rec.ContentHash, rec.ModelID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Vector, got)
}

func TestFileStore_CompactsBeyondMaxEntries(t *testing.T) {
	ctx := context.Background()
	store, path := openTestStore(t, 5)

	for i := 0; i < 8; i++ {
		rec := newTestRecord(fmt.Sprintf("entry %d", i), []float32{float32(i)})
		require.NoError(t, store.Put(ctx, rec))
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Oldest entries were dropped, newest survive.
	_, ok, err := store.Get(ctx, domain.HashContent("entry 0"), testModel)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get(ctx, domain.HashContent("entry 7"), testModel)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Close())
	reopened, err := OpenFileStore(path, 5)
	require.NoError(t, err)
	defer reopened.Close()

	n, err = reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestWrapLRU_ServesFromMemory(t *testing.T) {
	ctx := context.Background()
	counting := &countingStore{inner: make(map[string][]float32)}
	cache := WrapLRU(counting, 16, 0)

	rec := newTestRecord("hot text", []float32{1, 2, 3})
	require.NoError(t, cache.Put(ctx, rec))

	for i := 0; i < 3; i++ {
		got, ok, err := cache.Get(ctx, rec.ContentHash, rec.ModelID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec.Vector, got)
	}

	assert.Equal(t, 0, counting.gets, "reads after put should not touch the backend")
}

func TestWrapLRU_RefillsFromInner(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecord("cold text", []float32{4, 5})
	counting := &countingStore{inner: map[string][]float32{
		cacheKey(rec.ContentHash, rec.ModelID): rec.Vector,
	}}
	cache := WrapLRU(counting, 16, 0)

	got, ok, err := cache.Get(ctx, rec.ContentHash, rec.ModelID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Vector, got)
	assert.Equal(t, 1, counting.gets)

	_, _, err = cache.Get(ctx, rec.ContentHash, rec.ModelID)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.gets, "second read should hit memory")
}

func TestWrapLRU_ConflictDoesNotEnterMemory(t *testing.T) {
	ctx := context.Background()
	counting := &countingStore{inner: make(map[string][]float32)}
	cache := WrapLRU(counting, 16, 0)

	original := newTestRecord("contested", []float32{1})
	require.NoError(t, cache.Put(ctx, original))

	conflicting := domain.NewEmbeddingRecord(original.ContentHash, original.ModelID, []float32{2}, time.Now())
	err := cache.Put(ctx, conflicting)
	assert.ErrorIs(t, err, domain.ErrCacheConflict)

	got, ok, err := cache.Get(ctx, original.ContentHash, original.ModelID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1}, got)
}

// countingStore is a minimal in-memory Store that counts backend reads.
type countingStore struct {
	inner map[string][]float32
	gets  int
}

func (s *countingStore) Get(ctx context.Context, contentHash, modelID string) ([]float32, bool, error) {
	s.gets++
	vec, ok := s.inner[cacheKey(contentHash, modelID)]
	return vec, ok, nil
}

func (s *countingStore) Put(ctx context.Context, record *domain.EmbeddingRecord) error {
	key := cacheKey(record.ContentHash, record.ModelID)
	if existing, ok := s.inner[key]; ok {
		if domain.VectorsEqual(existing, record.Vector) {
			return nil
		}
		return domain.ErrCacheConflict
	}
	s.inner[key] = record.Vector
	return nil
}

func (s *countingStore) Len(ctx context.Context) (int, error) {
	return len(s.inner), nil
}
