package provider

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/seerstack/logseer/internal/domain"
)

// openaiModels maps supported OpenAI embedding models to their dimensions.
var openaiModels = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// embeddingAPI is the slice of the go-openai client the embedder calls.
// *openai.Client satisfies it; tests substitute a mock.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

type openaiEmbedder struct {
	api   embeddingAPI
	model string
	dim   int
}

func newOpenAI(model string, cfg Config) (Embedder, error) {
	dim, ok := openaiModels[model]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			fmt.Sprintf("unknown openai embedding model %q", model))
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			"openai api key is not configured")
	}
	return &openaiEmbedder{
		api:   openai.NewClient(cfg.OpenAIAPIKey),
		model: model,
		dim:   dim,
	}, nil
}

func (e *openaiEmbedder) ModelID() string { return "openai:" + e.model }

func (e *openaiEmbedder) Dimension() int { return e.dim }

// EmbedBatch sends all texts in one request. Results carry an index field, so
// vectors are placed by index rather than response position.
func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeProvider,
			"openai embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.NewDomainError(domain.ErrCodeProvider,
			fmt.Sprintf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, domain.NewDomainError(domain.ErrCodeProvider,
				fmt.Sprintf("openai returned embedding with out-of-range index %d", item.Index))
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, domain.NewDomainError(domain.ErrCodeProvider,
				fmt.Sprintf("openai returned no embedding for input %d", i))
		}
	}
	return vectors, nil
}

func init() {
	Register("openai", newOpenAI,
		ModelInfo{ID: "openai:text-embedding-ada-002", Dimension: 1536, RequiresKey: true},
		ModelInfo{ID: "openai:text-embedding-3-small", Dimension: 1536, RequiresKey: true},
		ModelInfo{ID: "openai:text-embedding-3-large", Dimension: 3072, RequiresKey: true},
	)
}
