package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/seerstack/logseer/internal/domain"
)

// geminiModels lists the supported Gemini generation models.
var geminiModels = map[string]struct{}{
	"gemini-2.0-flash": {},
	"gemini-2.5-flash": {},
}

// generateAPI is the slice of the genai client the generator calls, kept as
// an interface so tests can stand in for the real API.
type generateAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type geminiGenerator struct {
	api   generateAPI
	model string
}

func newGemini(model string, cfg Config) (Generator, error) {
	if _, ok := geminiModels[model]; !ok {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			fmt.Sprintf("unknown gemini generation model %q", model))
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
	return &geminiGenerator{api: client.Models, model: model}, nil
}

func (g *geminiGenerator) ModelID() string { return "gemini:" + g.model }

func (g *geminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.api.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, nil)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeProvider,
			"gemini generation request failed", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", domain.NewDomainError(domain.ErrCodeProvider,
			"gemini returned an empty completion")
	}
	return text, nil
}

func init() {
	Register("gemini", newGemini,
		ModelInfo{ID: "gemini:gemini-2.0-flash", RequiresKey: true},
		ModelInfo{ID: "gemini:gemini-2.5-flash", RequiresKey: true},
	)
}
