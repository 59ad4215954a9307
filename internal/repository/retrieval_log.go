package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seerstack/logseer/internal/service"
)

// RetrievalLogRepository stores one row per retrieval request for offline
// quality review. It satisfies service.RetrievalLogRepository.
type RetrievalLogRepository struct {
	pool *pgxpool.Pool
}

// NewRetrievalLogRepository creates a new RetrievalLogRepository instance
func NewRetrievalLogRepository(pool *pgxpool.Pool) *RetrievalLogRepository {
	return &RetrievalLogRepository{pool: pool}
}

// CreateRetrievalLog records one retrieval. Only the query hash is stored,
// never the query text.
func (r *RetrievalLogRepository) CreateRetrievalLog(ctx context.Context, entry service.RetrievalLogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO retrieval_logs (issue_id, query_hash, top_k, result_count, duration_ms)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.IssueID, entry.QueryHash, entry.TopK, entry.ResultCount, entry.DurationMS,
	)
	return err
}

// RecentByIssue returns the latest entries for one issue, newest first.
func (r *RetrievalLogRepository) RecentByIssue(ctx context.Context, issueID string, limit int) ([]service.RetrievalLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT issue_id, query_hash, top_k, result_count, duration_ms
		 FROM retrieval_logs
		 WHERE issue_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		issueID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []service.RetrievalLogEntry
	for rows.Next() {
		var e service.RetrievalLogEntry
		if err := rows.Scan(&e.IssueID, &e.QueryHash, &e.TopK, &e.ResultCount, &e.DurationMS); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
