package handlers

import (
	"net/http"

	"github.com/seerstack/logseer/internal/api"
	"github.com/seerstack/logseer/internal/llm"
	"github.com/seerstack/logseer/internal/provider"
)

// ModelsHandler lists every registered embedding and generation model
// together with the configured defaults.
type ModelsHandler struct {
	defaultEmbedding string
	defaultLLM       string
}

func NewModelsHandler(defaultEmbedding, defaultLLM string) *ModelsHandler {
	return &ModelsHandler{
		defaultEmbedding: defaultEmbedding,
		defaultLLM:       defaultLLM,
	}
}

type ModelsResponse struct {
	Embedding        []provider.ModelInfo `json:"embedding"`
	LLM              []llm.ModelInfo      `json:"llm"`
	DefaultEmbedding string               `json:"default_embedding"`
	DefaultLLM       string               `json:"default_llm"`
}

func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, ModelsResponse{
		Embedding:        provider.Models(),
		LLM:              llm.Models(),
		DefaultEmbedding: h.defaultEmbedding,
		DefaultLLM:       h.defaultLLM,
	})
}
