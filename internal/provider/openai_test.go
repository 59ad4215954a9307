package provider

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seerstack/logseer/internal/domain"
)

// MockEmbeddingAPI is a mock for the go-openai embeddings endpoint
type MockEmbeddingAPI struct {
	mock.Mock
}

func (m *MockEmbeddingAPI) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	args := m.Called(ctx, conv)
	return args.Get(0).(openai.EmbeddingResponse), args.Error(1)
}

func TestOpenAIEmbedder_EmbedBatch_Success(t *testing.T) {
	mockAPI := new(MockEmbeddingAPI)
	emb := &openaiEmbedder{api: mockAPI, model: "text-embedding-3-small", dim: 1536}

	ctx := context.Background()
	texts := []string{"first log line", "second log line"}

	// Results arrive out of order; placement must follow the index field.
	resp := openai.EmbeddingResponse{
		Data: []openai.Embedding{
			{Index: 1, Embedding: []float32{0.2, 0.2}},
			{Index: 0, Embedding: []float32{0.1, 0.1}},
		},
	}
	mockAPI.On("CreateEmbeddings", ctx, mock.Anything).Return(resp, nil)

	vectors, err := emb.EmbedBatch(ctx, texts)

	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.1}, vectors[0])
	assert.Equal(t, []float32{0.2, 0.2}, vectors[1])
	mockAPI.AssertExpectations(t)
}

func TestOpenAIEmbedder_EmbedBatch_APIError(t *testing.T) {
	mockAPI := new(MockEmbeddingAPI)
	emb := &openaiEmbedder{api: mockAPI, model: "text-embedding-3-small", dim: 1536}

	ctx := context.Background()
	apiErr := errors.New("API rate limit exceeded")
	mockAPI.On("CreateEmbeddings", ctx, mock.Anything).Return(openai.EmbeddingResponse{}, apiErr)

	vectors, err := emb.EmbedBatch(ctx, []string{"text"})

	require.Error(t, err)
	assert.Nil(t, vectors)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeProvider, domainErr.Code)
	assert.ErrorIs(t, err, apiErr)
	mockAPI.AssertExpectations(t)
}

func TestOpenAIEmbedder_EmbedBatch_CountMismatch(t *testing.T) {
	mockAPI := new(MockEmbeddingAPI)
	emb := &openaiEmbedder{api: mockAPI, model: "text-embedding-3-small", dim: 1536}

	ctx := context.Background()
	resp := openai.EmbeddingResponse{
		Data: []openai.Embedding{{Index: 0, Embedding: []float32{0.1}}},
	}
	mockAPI.On("CreateEmbeddings", ctx, mock.Anything).Return(resp, nil)

	vectors, err := emb.EmbedBatch(ctx, []string{"one", "two"})

	require.Error(t, err)
	assert.Nil(t, vectors)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeProvider, domainErr.Code)
	mockAPI.AssertExpectations(t)
}

func TestOpenAIEmbedder_EmbedBatch_OutOfRangeIndex(t *testing.T) {
	mockAPI := new(MockEmbeddingAPI)
	emb := &openaiEmbedder{api: mockAPI, model: "text-embedding-3-small", dim: 1536}

	ctx := context.Background()
	resp := openai.EmbeddingResponse{
		Data: []openai.Embedding{{Index: 5, Embedding: []float32{0.1}}},
	}
	mockAPI.On("CreateEmbeddings", ctx, mock.Anything).Return(resp, nil)

	vectors, err := emb.EmbedBatch(ctx, []string{"only"})

	require.Error(t, err)
	assert.Nil(t, vectors)
	mockAPI.AssertExpectations(t)
}

func TestNewOpenAI_ModelTable(t *testing.T) {
	emb, err := newOpenAI("text-embedding-3-large", Config{OpenAIAPIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "openai:text-embedding-3-large", emb.ModelID())
	assert.Equal(t, 3072, emb.Dimension())
}
