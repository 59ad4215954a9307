package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seerstack/logseer/internal/api"
	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/jobs"
)

// BuildQueue accepts build requests and reports job state. Enqueue is
// idempotent per issue: a second request while one is queued or running
// returns the existing job.
type BuildQueue interface {
	Enqueue(issueID string, req jobs.BuildRequest) (jobs.BuildJob, bool)
	Latest(issueID string) (jobs.BuildJob, bool)
}

// IssueGetter checks that an issue exists before a build is queued for it.
type IssueGetter interface {
	Get(ctx context.Context, issueID string) (*domain.Issue, error)
}

// BuildReportStore loads the persisted report of the most recent build, used
// when the in-memory job has already been replaced (for example after a
// restart).
type BuildReportStore interface {
	LoadLastBuild(issueID string) (*domain.BuildReport, error)
}

type BuildHandler struct {
	queue   BuildQueue
	issues  IssueGetter
	reports BuildReportStore
}

func NewBuildHandler(queue BuildQueue, issues IssueGetter, reports BuildReportStore) *BuildHandler {
	return &BuildHandler{queue: queue, issues: issues, reports: reports}
}

type CreateBuildRequest struct {
	ModelID string `json:"model_id,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

type BuildJobResponse struct {
	JobID      string               `json:"job_id"`
	IssueID    string               `json:"issue_id"`
	ModelID    string               `json:"model_id,omitempty"`
	Force      bool                 `json:"force,omitempty"`
	Status     string               `json:"status"`
	Stage      string               `json:"stage,omitempty"`
	StageDone  int                  `json:"stage_done,omitempty"`
	StageTotal int                  `json:"stage_total,omitempty"`
	EnqueuedAt string               `json:"enqueued_at"`
	StartedAt  string               `json:"started_at,omitempty"`
	FinishedAt string               `json:"finished_at,omitempty"`
	Error      string               `json:"error,omitempty"`
	Report     *BuildReportResponse `json:"report,omitempty"`
}

type BuildReportResponse struct {
	IssueID        string                 `json:"issue_id"`
	ModelID        string                 `json:"model_id"`
	Status         string                 `json:"status"`
	ChunksTotal    int                    `json:"chunks_total"`
	ChunksEmbedded int                    `json:"chunks_embedded"`
	CacheHits      int                    `json:"cache_hits"`
	CacheMisses    int                    `json:"cache_misses"`
	EmbedFailures  int                    `json:"embed_failures"`
	FailedBatches  []BatchFailureResponse `json:"failed_batches,omitempty"`
	NewFiles       []string               `json:"new_files,omitempty"`
	StartedAt      string                 `json:"started_at"`
	DurationMS     int64                  `json:"duration_ms"`
	Error          string                 `json:"error,omitempty"`
}

type BatchFailureResponse struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason"`
}

func buildReportToResponse(r *domain.BuildReport) *BuildReportResponse {
	if r == nil {
		return nil
	}
	resp := &BuildReportResponse{
		IssueID:        r.IssueID,
		ModelID:        r.ModelID,
		Status:         string(r.Status),
		ChunksTotal:    r.ChunksTotal,
		ChunksEmbedded: r.ChunksEmbedded,
		CacheHits:      r.CacheHits,
		CacheMisses:    r.CacheMisses,
		EmbedFailures:  r.EmbedFailures,
		NewFiles:       r.NewFiles,
		StartedAt:      r.StartedAt.Format("2006-01-02T15:04:05Z"),
		DurationMS:     r.Duration.Milliseconds(),
		Error:          r.Error,
	}
	for _, b := range r.FailedBatches {
		resp.FailedBatches = append(resp.FailedBatches, BatchFailureResponse{
			Start:  b.Start,
			End:    b.End,
			Reason: b.Reason,
		})
	}
	return resp
}

func buildJobToResponse(job jobs.BuildJob) *BuildJobResponse {
	resp := &BuildJobResponse{
		JobID:      job.ID,
		IssueID:    job.IssueID,
		Force:      job.Force,
		Status:     string(job.Status),
		Stage:      job.Stage,
		StageDone:  job.StageDone,
		StageTotal: job.StageTotal,
		EnqueuedAt: job.EnqueuedAt.Format("2006-01-02T15:04:05Z"),
		Error:      job.Error,
		Report:     buildReportToResponse(job.Report),
	}
	if !job.Model.IsZero() {
		resp.ModelID = job.Model.String()
	}
	if !job.StartedAt.IsZero() {
		resp.StartedAt = job.StartedAt.Format("2006-01-02T15:04:05Z")
	}
	if !job.FinishedAt.IsZero() {
		resp.FinishedAt = job.FinishedAt.Format("2006-01-02T15:04:05Z")
	}
	return resp
}

// Create queues a knowledge-base build for the issue and responds 202 with
// the job. A request while a build is already queued or running returns the
// existing job rather than a new one.
func (h *BuildHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req CreateBuildRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var model domain.ModelID
	if req.ModelID != "" {
		parsed, err := domain.ParseModelID(req.ModelID)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		model = parsed
	}

	if _, err := h.issues.Get(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	job, _ := h.queue.Enqueue(id, jobs.BuildRequest{Model: model, Force: req.Force})
	api.Success(w, http.StatusAccepted, buildJobToResponse(job))
}

// Latest reports the newest build job for the issue: queued or running with
// live progress, or the finished job with its report. When no job is held in
// memory the persisted last report is returned instead.
func (h *BuildHandler) Latest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if _, err := h.issues.Get(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	if job, ok := h.queue.Latest(id); ok {
		api.Success(w, http.StatusOK, buildJobToResponse(job))
		return
	}

	report, err := h.reports.LoadLastBuild(id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if report == nil {
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeNotFound, "no builds recorded for this issue"))
		return
	}

	api.Success(w, http.StatusOK, &BuildJobResponse{
		IssueID:    report.IssueID,
		ModelID:    report.ModelID,
		Status:     string(report.Status),
		EnqueuedAt: report.StartedAt.Format("2006-01-02T15:04:05Z"),
		StartedAt:  report.StartedAt.Format("2006-01-02T15:04:05Z"),
		Error:      report.Error,
		Report:     buildReportToResponse(report),
	})
}
