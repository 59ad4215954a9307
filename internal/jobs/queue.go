// Package jobs runs knowledge-base builds in the background. Requests are
// queued in memory, deduplicated per issue, and drained by a pool of polling
// workers so the upload and query paths never block on embedding calls.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seerstack/logseer/internal/domain"
)

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// BuildRequest carries the caller-chosen parameters of one build.
type BuildRequest struct {
	Model domain.ModelID
	Force bool
}

// BuildJob tracks one requested build from enqueue to completion. Queue
// methods hand out value copies; the queue owns the mutable record.
type BuildJob struct {
	ID      string
	IssueID string
	Model   domain.ModelID
	Force   bool

	Status     domain.BuildStatus
	Stage      string
	StageDone  int
	StageTotal int

	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	Error  string
	Report *domain.BuildReport
}

// Done reports whether the job has reached a terminal status.
func (j BuildJob) Done() bool {
	return j.Status == domain.BuildStatusSucceeded || j.Status == domain.BuildStatusFailed
}

// BuildQueue is an in-memory FIFO of build jobs with per-issue
// deduplication: an issue holds at most one queued-or-running job, and
// enqueueing while one is active returns that job instead of a new one.
// A finished job stays visible until a newer build for the same issue
// replaces it.
type BuildQueue struct {
	mu      sync.Mutex
	uuidGen UUIDGenerator
	pending []*BuildJob          // queued jobs in arrival order
	jobs    map[string]*BuildJob // by job id
	active  map[string]*BuildJob // queued or running job per issue
	latest  map[string]*BuildJob // most recent job per issue
}

// NewBuildQueue creates an empty queue.
func NewBuildQueue() *BuildQueue {
	return NewBuildQueueWithUUIDGen(&DefaultUUIDGenerator{})
}

// NewBuildQueueWithUUIDGen creates a queue with a custom UUID generator.
func NewBuildQueueWithUUIDGen(gen UUIDGenerator) *BuildQueue {
	return &BuildQueue{
		uuidGen: gen,
		jobs:    make(map[string]*BuildJob),
		active:  make(map[string]*BuildJob),
		latest:  make(map[string]*BuildJob),
	}
}

// Enqueue queues a build for the issue. When the issue already has a job
// queued or running that job is returned and created is false; callers can
// treat the repeat request as accepted either way.
func (q *BuildQueue) Enqueue(issueID string, req BuildRequest) (job BuildJob, created bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.active[issueID]; ok {
		return *existing, false
	}
	if old, ok := q.latest[issueID]; ok {
		delete(q.jobs, old.ID)
	}

	j := &BuildJob{
		ID:         q.uuidGen.NewString(),
		IssueID:    issueID,
		Model:      req.Model,
		Force:      req.Force,
		Status:     domain.BuildStatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	q.pending = append(q.pending, j)
	q.jobs[j.ID] = j
	q.active[issueID] = j
	q.latest[issueID] = j
	return *j, true
}

// Dequeue pops the oldest queued job and marks it running.
func (q *BuildQueue) Dequeue() (BuildJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return BuildJob{}, false
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	j.Status = domain.BuildStatusRunning
	j.StartedAt = time.Now().UTC()
	return *j, true
}

// SetProgress updates the stage counters of a running job. Updates for
// unknown or already finished jobs are dropped.
func (q *BuildQueue) SetProgress(jobID, stage string, done, total int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok || j.Status != domain.BuildStatusRunning {
		return
	}
	j.Stage = stage
	j.StageDone = done
	j.StageTotal = total
}

// Complete moves a job to its terminal status and releases the issue for
// new enqueues. A nil buildErr marks the job succeeded.
func (q *BuildQueue) Complete(jobID string, report *domain.BuildReport, buildErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return
	}
	j.Report = report
	j.FinishedAt = time.Now().UTC()
	if buildErr != nil {
		j.Status = domain.BuildStatusFailed
		j.Error = buildErr.Error()
	} else {
		j.Status = domain.BuildStatusSucceeded
	}
	if q.active[j.IssueID] == j {
		delete(q.active, j.IssueID)
	}
}

// Job returns a snapshot of the job with the given id.
func (q *BuildQueue) Job(jobID string) (BuildJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return BuildJob{}, false
	}
	return *j, true
}

// Latest returns a snapshot of the most recently enqueued job for the issue.
func (q *BuildQueue) Latest(issueID string) (BuildJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.latest[issueID]
	if !ok {
		return BuildJob{}, false
	}
	return *j, true
}

// QueueDepth reports how many jobs are waiting to start.
func (q *BuildQueue) QueueDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
