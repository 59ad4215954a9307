package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seerstack/logseer/internal/api"
	"github.com/seerstack/logseer/internal/domain"
)

type LogService interface {
	UploadLog(ctx context.Context, issueID, filename string, content io.Reader) (*domain.RawLog, error)
	ListLogs(ctx context.Context, issueID string) ([]domain.RawLog, error)
}

type LogHandler struct {
	svc LogService
}

func NewLogHandler(svc LogService) *LogHandler {
	return &LogHandler{svc: svc}
}

type RawLogResponse struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at"`
}

func rawLogToResponse(l *domain.RawLog) *RawLogResponse {
	return &RawLogResponse{
		Name:       l.Name,
		Size:       l.Size,
		UploadedAt: l.UploadedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// Upload stores one raw log file sent as the multipart field "file". The
// service enforces the extension allowlist and size cap, so an oversized or
// unsupported upload comes back as a validation error.
func (h *LogHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		api.Error(w, http.StatusBadRequest, "filename is required")
		return
	}

	rawLog, err := h.svc.UploadLog(r.Context(), id, header.Filename, file)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, rawLogToResponse(rawLog))
}

type RawLogListResponse struct {
	Items []*RawLogResponse `json:"items"`
}

func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	logs, err := h.svc.ListLogs(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*RawLogResponse, len(logs))
	for i := range logs {
		items[i] = rawLogToResponse(&logs[i])
	}

	api.Success(w, http.StatusOK, RawLogListResponse{Items: items})
}
