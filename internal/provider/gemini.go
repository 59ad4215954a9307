package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/seerstack/logseer/internal/domain"
)

// geminiModels maps supported Gemini embedding models to their dimensions.
var geminiModels = map[string]int{
	"text-embedding-004": 768,
}

// geminiAPI is the slice of the genai client the embedder calls, kept as an
// interface so tests can stand in for the real API.
type geminiAPI interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type geminiEmbedder struct {
	api   geminiAPI
	model string
	dim   int
}

func newGemini(model string, cfg Config) (Embedder, error) {
	dim, ok := geminiModels[model]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			fmt.Sprintf("unknown gemini embedding model %q", model))
	}
	if cfg.GeminiAPIKey == "" {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			"gemini api key is not configured")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeProvider,
			"failed to create gemini client", err)
	}
	return &geminiEmbedder{api: client.Models, model: model, dim: dim}, nil
}

func (e *geminiEmbedder) ModelID() string { return "gemini:" + e.model }

func (e *geminiEmbedder) Dimension() int { return e.dim }

// EmbedBatch sends all texts in a single EmbedContent call; the API returns
// one embedding per content, in input order.
func (e *geminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}

	resp, err := e.api.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeProvider,
			"gemini embedding request failed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, domain.NewDomainError(domain.ErrCodeProvider,
			fmt.Sprintf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, domain.NewDomainError(domain.ErrCodeProvider,
				"gemini returned an empty embedding")
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

func init() {
	Register("gemini", newGemini,
		ModelInfo{ID: "gemini:text-embedding-004", Dimension: 768, RequiresKey: true})
}
