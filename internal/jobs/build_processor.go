package jobs

import (
	"context"
	"log"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/service"
	"github.com/seerstack/logseer/internal/telemetry"
)

// KBUpdater runs one knowledge-base build. *service.KBManager satisfies it.
type KBUpdater interface {
	Update(ctx context.Context, issueID string, opts service.UpdateOptions) (*domain.BuildReport, error)
}

// BuildProcessor drains the build queue: every queued job becomes one
// KBManager.Update call with its stage progress wired back into the queue.
type BuildProcessor struct {
	queue   *BuildQueue
	updater KBUpdater
}

// NewBuildProcessor creates a new BuildProcessor instance
func NewBuildProcessor(queue *BuildQueue, updater KBUpdater) *BuildProcessor {
	return &BuildProcessor{queue: queue, updater: updater}
}

// ProcessJobs runs queued builds until the queue is empty or the context is
// cancelled. A failed build is recorded on its job, not returned; only
// context cancellation stops the drain early.
func (p *BuildProcessor) ProcessJobs(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, ok := p.queue.Dequeue()
		if !ok {
			return nil
		}
		p.run(ctx, job)
	}
}

func (p *BuildProcessor) run(ctx context.Context, job BuildJob) {
	ctx, span := telemetry.StartSpan(ctx, "BuildProcessor.run", telemetry.SpanAttributes{
		IssueID:   job.IssueID,
		Model:     job.Model.String(),
		Operation: "build",
	})
	defer span.End()

	report, err := p.updater.Update(ctx, job.IssueID, service.UpdateOptions{
		Model: job.Model,
		Force: job.Force,
		Progress: func(stage string, done, total int) {
			p.queue.SetProgress(job.ID, stage, done, total)
		},
	})
	p.queue.Complete(job.ID, report, err)
	if err != nil {
		span.SetError(err)
		telemetry.CaptureError(ctx, err)
		log.Printf("jobs: build %s for issue %s failed: %v", job.ID, job.IssueID, err)
		return
	}
	log.Printf("jobs: build %s for issue %s finished: %d chunks, %d embedded, %d cache hits",
		job.ID, job.IssueID, report.ChunksTotal, report.ChunksEmbedded, report.CacheHits)
}
