package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/service"
)

// fakeUpdater records build invocations and lets each one be scripted.
type fakeUpdater struct {
	mu     sync.Mutex
	issues []string
	opts   []service.UpdateOptions
	run    func(issueID string, opts service.UpdateOptions) (*domain.BuildReport, error)
}

func (f *fakeUpdater) Update(ctx context.Context, issueID string, opts service.UpdateOptions) (*domain.BuildReport, error) {
	f.mu.Lock()
	f.issues = append(f.issues, issueID)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(issueID, opts)
	}
	report := domain.NewBuildReport(issueID, testBuildModel.String(), time.Now().UTC())
	report.Status = domain.BuildStatusSucceeded
	return report, nil
}

func (f *fakeUpdater) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issues)
}

func succeededReport(issueID string, chunks int) *domain.BuildReport {
	report := domain.NewBuildReport(issueID, testBuildModel.String(), time.Now().UTC())
	report.Status = domain.BuildStatusSucceeded
	report.ChunksTotal = chunks
	return report
}

func TestBuildProcessor_ProcessJobs_EmptyQueue(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	updater := &fakeUpdater{}
	p := NewBuildProcessor(q, updater)

	require.NoError(t, p.ProcessJobs(context.Background()))
	assert.Zero(t, updater.callCount())
}

func TestBuildProcessor_ProcessJobs_RunsQueuedBuild(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	updater := &fakeUpdater{
		run: func(issueID string, opts service.UpdateOptions) (*domain.BuildReport, error) {
			opts.Progress("embed", 3, 10)
			return succeededReport(issueID, 10), nil
		},
	}
	p := NewBuildProcessor(q, updater)

	job, created := q.Enqueue("issue-1", BuildRequest{Model: testBuildModel, Force: true})
	require.True(t, created)
	require.NoError(t, p.ProcessJobs(context.Background()))

	got, ok := q.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.BuildStatusSucceeded, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, 10, got.Report.ChunksTotal)

	// Stage counters reported mid-build stay visible on the finished job.
	assert.Equal(t, "embed", got.Stage)
	assert.Equal(t, 3, got.StageDone)
	assert.Equal(t, 10, got.StageTotal)

	require.Len(t, updater.opts, 1)
	assert.Equal(t, testBuildModel, updater.opts[0].Model)
	assert.True(t, updater.opts[0].Force)
}

func TestBuildProcessor_ProcessJobs_RecordsFailure(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	buildErr := domain.NewDomainError(domain.ErrCodeBuildFailure, "4 of 12 chunks failed to embed")
	updater := &fakeUpdater{
		run: func(issueID string, opts service.UpdateOptions) (*domain.BuildReport, error) {
			report := domain.NewBuildReport(issueID, testBuildModel.String(), time.Now().UTC())
			report.Status = domain.BuildStatusFailed
			return report, buildErr
		},
	}
	p := NewBuildProcessor(q, updater)

	job, _ := q.Enqueue("issue-1", BuildRequest{})

	// The failure lands on the job; the drain itself does not error.
	require.NoError(t, p.ProcessJobs(context.Background()))

	got, ok := q.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, domain.BuildStatusFailed, got.Status)
	assert.Contains(t, got.Error, "failed to embed")
	require.NotNil(t, got.Report)
	assert.Equal(t, domain.BuildStatusFailed, got.Report.Status)

	// The issue is free for another attempt.
	_, created := q.Enqueue("issue-1", BuildRequest{})
	assert.True(t, created)
}

func TestBuildProcessor_ProcessJobs_DrainsQueueInOrder(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	updater := &fakeUpdater{}
	p := NewBuildProcessor(q, updater)

	issues := []string{"issue-1", "issue-2", "issue-3"}
	for _, issue := range issues {
		_, created := q.Enqueue(issue, BuildRequest{})
		require.True(t, created)
	}

	require.NoError(t, p.ProcessJobs(context.Background()))

	assert.Equal(t, issues, updater.issues)
	assert.Zero(t, q.QueueDepth())
	for _, issue := range issues {
		latest, ok := q.Latest(issue)
		require.True(t, ok)
		assert.Equal(t, domain.BuildStatusSucceeded, latest.Status)
	}
}

func TestBuildProcessor_ProcessJobs_StopsWhenContextCancelled(t *testing.T) {
	q := NewBuildQueueWithUUIDGen(&stubUUIDGen{})
	updater := &fakeUpdater{}
	p := NewBuildProcessor(q, updater)

	_, created := q.Enqueue("issue-1", BuildRequest{})
	require.True(t, created)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.ProcessJobs(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, updater.callCount())

	// The job stays queued for the next poll.
	assert.Equal(t, 1, q.QueueDepth())
}
