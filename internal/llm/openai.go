package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/seerstack/logseer/internal/domain"
)

// openaiModels lists the supported OpenAI chat models.
var openaiModels = map[string]struct{}{
	"gpt-4o-mini": {},
	"gpt-4o":      {},
}

// chatAPI is the slice of the go-openai client the generator calls.
// *openai.Client satisfies it; tests substitute a fake.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type openaiGenerator struct {
	api   chatAPI
	model string
}

func newOpenAI(model string, cfg Config) (Generator, error) {
	if _, ok := openaiModels[model]; !ok {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			fmt.Sprintf("unknown openai chat model %q", model))
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			"openai api key is not configured")
	}
	return &openaiGenerator{api: openai.NewClient(cfg.OpenAIAPIKey), model: model}, nil
}

func (g *openaiGenerator) ModelID() string { return "openai:" + g.model }

// Generate sends the prompt as a single user message. Low temperature keeps
// answers anchored to the quoted log excerpts.
func (g *openaiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeProvider,
			"openai completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewDomainError(domain.ErrCodeProvider,
			"openai returned no completion choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", domain.NewDomainError(domain.ErrCodeProvider,
			"openai returned an empty completion")
	}
	return text, nil
}

func init() {
	Register("openai", newOpenAI,
		ModelInfo{ID: "openai:gpt-4o-mini", RequiresKey: true},
		ModelInfo{ID: "openai:gpt-4o", RequiresKey: true},
	)
}
