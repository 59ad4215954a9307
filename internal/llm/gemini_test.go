package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/seerstack/logseer/internal/domain"
)

type fakeGenerateAPI func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

func (f fakeGenerateAPI) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return f(ctx, model, contents, config)
}

func geminiTextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func TestGeminiGenerator_Generate_Success(t *testing.T) {
	var gotModel, gotPrompt string
	api := fakeGenerateAPI(func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotModel = model
		if len(contents) == 1 && len(contents[0].Parts) == 1 {
			gotPrompt = contents[0].Parts[0].Text
		}
		return geminiTextResponse("  The pod was OOM killed. \n"), nil
	})
	gen := &geminiGenerator{api: api, model: "gemini-2.0-flash"}

	text, err := gen.Generate(context.Background(), "why did the pod restart?")

	require.NoError(t, err)
	assert.Equal(t, "The pod was OOM killed.", text)
	assert.Equal(t, "gemini-2.0-flash", gotModel)
	assert.Equal(t, "why did the pod restart?", gotPrompt)
}

func TestGeminiGenerator_Generate_APIError(t *testing.T) {
	apiErr := errors.New("quota exhausted")
	api := fakeGenerateAPI(func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return nil, apiErr
	})
	gen := &geminiGenerator{api: api, model: "gemini-2.0-flash"}

	_, err := gen.Generate(context.Background(), "prompt")

	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeProvider, domainErr.Code)
	assert.ErrorIs(t, err, apiErr)
}

func TestGeminiGenerator_Generate_EmptyCompletion(t *testing.T) {
	api := fakeGenerateAPI(func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return geminiTextResponse("   "), nil
	})
	gen := &geminiGenerator{api: api, model: "gemini-2.0-flash"}

	_, err := gen.Generate(context.Background(), "prompt")

	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeProvider, domainErr.Code)
}
