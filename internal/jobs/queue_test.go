package jobs

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seerstack/logseer/internal/domain"
)

// stubUUIDGen hands out deterministic job ids.
type stubUUIDGen struct{ n int }

func (g *stubUUIDGen) NewString() string {
	g.n++
	return fmt.Sprintf("job-%d", g.n)
}

var testBuildModel = domain.ModelID{Provider: "local", Name: "term-hash-256"}

func TestBuildQueue_EnqueueAssignsJob(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})

	job, created := q.Enqueue("issue-1", BuildRequest{Model: testBuildModel, Force: true})
	require.True(t, created)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "issue-1", job.IssueID)
	assert.Equal(t, testBuildModel, job.Model)
	assert.True(t, job.Force)
	assert.Equal(t, domain.BuildStatusQueued, job.Status)
	assert.False(t, job.EnqueuedAt.IsZero())
	assert.False(t, job.Done())
	assert.Equal(t, 1, q.QueueDepth())

	got, ok := q.Job("job-1")
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)

	latest, ok := q.Latest("issue-1")
	require.True(t, ok)
	assert.Equal(t, job.ID, latest.ID)
}

func TestBuildQueue_EnqueueDeduplicatesActiveIssue(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})

	first, created := q.Enqueue("issue-1", BuildRequest{})
	require.True(t, created)

	repeat, created := q.Enqueue("issue-1", BuildRequest{Force: true})
	assert.False(t, created)
	assert.Equal(t, first.ID, repeat.ID)
	assert.Equal(t, 1, q.QueueDepth())

	// Other issues are not affected by the dedupe.
	other, created := q.Enqueue("issue-2", BuildRequest{})
	require.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	// The dedupe holds while the job is running.
	running, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, first.ID, running.ID)
	repeat, created = q.Enqueue("issue-1", BuildRequest{})
	assert.False(t, created)
	assert.Equal(t, first.ID, repeat.ID)

	// Completion releases the issue for new builds.
	q.Complete(first.ID, nil, nil)
	next, created := q.Enqueue("issue-1", BuildRequest{})
	assert.True(t, created)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestBuildQueue_DequeueFIFO(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	for _, issue := range []string{"issue-1", "issue-2", "issue-3"} {
		_, created := q.Enqueue(issue, BuildRequest{})
		require.True(t, created)
	}

	var order []string
	for {
		job, ok := q.Dequeue()
		if !ok {
			break
		}
		assert.Equal(t, domain.BuildStatusRunning, job.Status)
		assert.False(t, job.StartedAt.IsZero())
		order = append(order, job.IssueID)
	}
	assert.Equal(t, []string{"issue-1", "issue-2", "issue-3"}, order)
	assert.Zero(t, q.QueueDepth())
}

func TestBuildQueue_SetProgress(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	job, _ := q.Enqueue("issue-1", BuildRequest{})

	// Progress before the job starts is dropped.
	q.SetProgress(job.ID, "chunk", 1, 4)
	got, ok := q.Job(job.ID)
	require.True(t, ok)
	assert.Empty(t, got.Stage)

	started, ok := q.Dequeue()
	require.True(t, ok)
	q.SetProgress(started.ID, "embed", 3, 10)

	got, ok = q.Job(started.ID)
	require.True(t, ok)
	assert.Equal(t, "embed", got.Stage)
	assert.Equal(t, 3, got.StageDone)
	assert.Equal(t, 10, got.StageTotal)

	// Unknown job ids are dropped without panicking.
	q.SetProgress("ghost", "embed", 1, 1)
}

func TestBuildQueue_CompleteSuccess(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	job, _ := q.Enqueue("issue-1", BuildRequest{})
	_, ok := q.Dequeue()
	require.True(t, ok)

	report := domain.NewBuildReport("issue-1", testBuildModel.String(), time.Now().UTC())
	report.Status = domain.BuildStatusSucceeded
	report.ChunksTotal = 12
	q.Complete(job.ID, report, nil)

	got, ok := q.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.BuildStatusSucceeded, got.Status)
	assert.True(t, got.Done())
	assert.Empty(t, got.Error)
	assert.False(t, got.FinishedAt.IsZero())
	require.NotNil(t, got.Report)
	assert.Equal(t, 12, got.Report.ChunksTotal)

	latest, ok := q.Latest("issue-1")
	require.True(t, ok)
	assert.Equal(t, job.ID, latest.ID)
}

func TestBuildQueue_CompleteFailure(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	job, _ := q.Enqueue("issue-1", BuildRequest{})
	_, ok := q.Dequeue()
	require.True(t, ok)

	report := domain.NewBuildReport("issue-1", testBuildModel.String(), time.Now().UTC())
	report.Status = domain.BuildStatusFailed
	q.Complete(job.ID, report, errors.New("2 of 8 chunks failed to embed"))

	got, ok := q.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.BuildStatusFailed, got.Status)
	assert.True(t, got.Done())
	assert.Contains(t, got.Error, "failed to embed")
	require.NotNil(t, got.Report)
}

func TestBuildQueue_NewBuildReplacesFinishedJob(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	first, _ := q.Enqueue("issue-1", BuildRequest{})
	_, ok := q.Dequeue()
	require.True(t, ok)
	q.Complete(first.ID, nil, nil)

	second, created := q.Enqueue("issue-1", BuildRequest{})
	require.True(t, created)

	latest, ok := q.Latest("issue-1")
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)

	// The finished job is pruned once a newer build replaces it.
	_, ok = q.Job(first.ID)
	assert.False(t, ok)
}

func TestBuildQueue_UnknownLookups(t *testing.T) {
	q := NewBuildQueue()

	_, ok := q.Job("ghost")
	assert.False(t, ok)

	_, ok = q.Latest("ghost")
	assert.False(t, ok)

	_, ok = q.Dequeue()
	assert.False(t, ok)

	// Completing an unknown job is a no-op.
	q.Complete("ghost", nil, errors.New("boom"))
}

func TestBuildQueue_ConcurrentEnqueueCreatesOneJob(t *testing.T) {
	q := NewBuildQueue()

	var wg sync.WaitGroup
	var created atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := q.Enqueue("issue-1", BuildRequest{}); ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, 1, q.QueueDepth())
}
