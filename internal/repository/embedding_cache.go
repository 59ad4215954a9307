package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/seerstack/logseer/internal/domain"
)

// CacheStore is the Postgres embedding-cache backend. It satisfies
// embedcache.Store, so a shared database can replace the local JSONL journal
// when several hosts build against the same models.
type CacheStore struct {
	db dbtx
}

// NewCacheStore creates a CacheStore backed by a connection pool.
func NewCacheStore(pool *pgxpool.Pool) *CacheStore {
	return &CacheStore{db: pool}
}

// NewCacheStoreWithTx creates a CacheStore bound to an open transaction.
func NewCacheStoreWithTx(tx pgx.Tx) *CacheStore {
	return &CacheStore{db: tx}
}

// Get returns the cached vector for (contentHash, modelID), if any.
func (r *CacheStore) Get(ctx context.Context, contentHash, modelID string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := r.db.QueryRow(ctx,
		`SELECT embedding FROM embedding_cache WHERE content_hash = $1 AND model_id = $2`,
		contentHash, modelID,
	).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vec.Slice(), true, nil
}

// Put inserts the record unless the key already exists. Re-writing an
// existing key with an equal vector is a no-op; a differing vector fails
// with domain.ErrCacheConflict and leaves the stored row untouched.
func (r *CacheStore) Put(ctx context.Context, record *domain.EmbeddingRecord) error {
	if err := domain.ValidateEmbeddingRecord(record); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid embedding record", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// Two passes: the second covers a row deleted by a concurrent prune
	// between the failed insert and the read-back.
	for attempt := 0; attempt < 2; attempt++ {
		tag, err := r.db.Exec(ctx,
			`INSERT INTO embedding_cache (content_hash, model_id, dimension, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (content_hash, model_id) DO NOTHING`,
			record.ContentHash, record.ModelID, len(record.Vector), pgvector.NewVector(record.Vector), createdAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		existing, ok, err := r.Get(ctx, record.ContentHash, record.ModelID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if domain.VectorsEqual(existing, record.Vector) {
			return nil
		}
		return domain.ErrCacheConflict
	}
	return domain.ErrCacheConflict
}

// Len reports the total number of cached entries.
func (r *CacheStore) Len(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM embedding_cache`).Scan(&n)
	return n, err
}

// ModelStat is one model's slice of the cache.
type ModelStat struct {
	ModelID   string
	Entries   int
	Dimension int
}

// Stats breaks the cache down by model id.
func (r *CacheStore) Stats(ctx context.Context) ([]ModelStat, error) {
	rows, err := r.db.Query(ctx,
		`SELECT model_id, count(*), max(dimension)
		 FROM embedding_cache
		 GROUP BY model_id
		 ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ModelStat
	for rows.Next() {
		var s ModelStat
		if err := rows.Scan(&s.ModelID, &s.Entries, &s.Dimension); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Prune removes entries created before the cutoff and reports how many rows
// were deleted. Builds repopulate pruned keys on their next cache miss.
func (r *CacheStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM embedding_cache WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
