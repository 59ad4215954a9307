//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/service"
	"github.com/seerstack/logseer/internal/testutil"
)

func TestRetrievalLogRepository_CreateAndRecent(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewRetrievalLogRepository(pool)

	entries := []service.RetrievalLogEntry{
		{IssueID: "issue-1", QueryHash: domain.HashContent("why did the pod restart"), TopK: 5, ResultCount: 5, DurationMS: 12},
		{IssueID: "issue-1", QueryHash: domain.HashContent("disk pressure"), TopK: 3, ResultCount: 2, DurationMS: 7},
		{IssueID: "issue-2", QueryHash: domain.HashContent("oom killer"), TopK: 5, ResultCount: 5, DurationMS: 21},
	}
	for _, e := range entries {
		require.NoError(t, repo.CreateRetrievalLog(ctx, e))
	}

	got, err := repo.RecentByIssue(ctx, "issue-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, entries[1].QueryHash, got[0].QueryHash)
	assert.Equal(t, entries[0].QueryHash, got[1].QueryHash)
	assert.Equal(t, 3, got[0].TopK)
	assert.Equal(t, 2, got[0].ResultCount)
	assert.Equal(t, int64(7), got[0].DurationMS)

	// Limit trims from the oldest end.
	got, err = repo.RecentByIssue(ctx, "issue-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entries[1].QueryHash, got[0].QueryHash)

	got, err = repo.RecentByIssue(ctx, "issue-3", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
