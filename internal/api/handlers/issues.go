package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seerstack/logseer/internal/api"
	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/jobs"
	"github.com/seerstack/logseer/internal/pagination"
)

type IssueService interface {
	Create(ctx context.Context, issueID string) (*domain.Issue, error)
	Get(ctx context.Context, issueID string) (*domain.Issue, error)
	List(ctx context.Context, cursor string, limit int) (pagination.PageResult[*domain.Issue], error)
	Delete(ctx context.Context, issueID string) error
	Stats(ctx context.Context, issueID string) (*domain.IssueStats, error)
}

// BuildTracker reports the most recent build job for an issue. Deleting an
// issue is refused while a build is queued or running against it.
type BuildTracker interface {
	Latest(issueID string) (jobs.BuildJob, bool)
}

type IssueHandler struct {
	svc    IssueService
	builds BuildTracker
}

func NewIssueHandler(svc IssueService, builds BuildTracker) *IssueHandler {
	return &IssueHandler{svc: svc, builds: builds}
}

type CreateIssueRequest struct {
	Name string `json:"name"`
}

type IssueResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

type IssueDetailResponse struct {
	ID         string               `json:"id"`
	CreatedAt  string               `json:"created_at"`
	FileCount  int                  `json:"file_count"`
	TotalBytes int64                `json:"total_bytes"`
	ChunkCount int                  `json:"chunk_count"`
	ModelID    string               `json:"model_id,omitempty"`
	KBBuiltAt  string               `json:"kb_built_at,omitempty"`
	LastBuild  *BuildReportResponse `json:"last_build,omitempty"`
}

func issueToResponse(i *domain.Issue) *IssueResponse {
	return &IssueResponse{
		ID:        i.ID,
		CreatedAt: i.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *IssueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	issue, err := h.svc.Create(r.Context(), req.Name)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, issueToResponse(issue))
}

// Get returns the issue together with its knowledge-base stats. The stats
// fields are zero for an issue that has never been built.
func (h *IssueHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	issue, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	stats, err := h.svc.Stats(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &IssueDetailResponse{
		ID:         issue.ID,
		CreatedAt:  issue.CreatedAt.Format("2006-01-02T15:04:05Z"),
		FileCount:  stats.FileCount,
		TotalBytes: stats.TotalBytes,
		ChunkCount: stats.ChunkCount,
		ModelID:    stats.ModelID,
		LastBuild:  buildReportToResponse(stats.LastBuild),
	}
	if !stats.KBBuiltAt.IsZero() {
		resp.KBBuiltAt = stats.KBBuiltAt.Format("2006-01-02T15:04:05Z")
	}

	api.Success(w, http.StatusOK, resp)
}

type IssueListResponse struct {
	Items   []*IssueResponse `json:"items"`
	Cursor  string           `json:"cursor,omitempty"`
	HasMore bool             `json:"has_more"`
}

func (h *IssueHandler) List(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limitStr := r.URL.Query().Get("limit")
	limit := 0
	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.svc.List(r.Context(), cursor, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*IssueResponse, len(page.Items))
	for i, issue := range page.Items {
		items[i] = issueToResponse(issue)
	}

	api.Success(w, http.StatusOK, IssueListResponse{
		Items:   items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

func (h *IssueHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if h.builds != nil {
		if job, ok := h.builds.Latest(id); ok && !job.Done() {
			api.HandleError(w, domain.ErrBuildInProgress)
			return
		}
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
