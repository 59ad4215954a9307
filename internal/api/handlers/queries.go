package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seerstack/logseer/internal/api"
	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/service"
)

type AnswerService interface {
	Ask(ctx context.Context, input service.AskInput) (*service.AskOutput, error)
}

type QueryHandler struct {
	svc AnswerService
}

func NewQueryHandler(svc AnswerService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryRequest struct {
	Question     string `json:"question"`
	TopK         int    `json:"top_k,omitempty"`
	RetrieveOnly bool   `json:"retrieve_only,omitempty"`
	LLMModel     string `json:"llm_model,omitempty"`
}

type RetrievedChunkResponse struct {
	ChunkID    string  `json:"chunk_id"`
	SourceFile string  `json:"source_file"`
	LineStart  int     `json:"line_start"`
	LineEnd    int     `json:"line_end"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

type QueryResponse struct {
	Answer     string                   `json:"answer,omitempty"`
	Model      string                   `json:"model,omitempty"`
	Fallback   bool                     `json:"fallback,omitempty"`
	References []service.Reference      `json:"references,omitempty"`
	Chunks     []RetrievedChunkResponse `json:"chunks"`
}

// Ask answers a natural-language question about the issue's logs. With
// retrieve_only the generation step is skipped and only the retrieved chunks
// come back. A successful answer is appended to the issue's chat history by
// the service.
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Question == "" {
		api.Error(w, http.StatusBadRequest, "question is required")
		return
	}

	var model domain.ModelID
	if req.LLMModel != "" {
		parsed, err := domain.ParseModelID(req.LLMModel)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		model = parsed
	}

	out, err := h.svc.Ask(r.Context(), service.AskInput{
		IssueID:      id,
		Question:     req.Question,
		TopK:         req.TopK,
		Model:        model,
		RetrieveOnly: req.RetrieveOnly,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	chunks := make([]RetrievedChunkResponse, len(out.Chunks))
	for i, rc := range out.Chunks {
		chunks[i] = RetrievedChunkResponse{
			ChunkID:    rc.Chunk.ID,
			SourceFile: rc.Chunk.SourceFile,
			LineStart:  rc.Chunk.LineStart,
			LineEnd:    rc.Chunk.LineEnd,
			Text:       rc.Chunk.Text,
			Score:      rc.Score,
		}
	}

	api.Success(w, http.StatusOK, QueryResponse{
		Answer:     out.Answer,
		Model:      out.Model,
		Fallback:   out.Fallback,
		References: out.References,
		Chunks:     chunks,
	})
}
