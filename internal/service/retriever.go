package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/telemetry"
	"github.com/seerstack/logseer/internal/vecindex"
)

// RetrieverStore opens committed knowledge bases for reading.
type RetrieverStore interface {
	LoadKB(issueID string) (*vecindex.Index, *domain.KBMeta, error)
}

// RetrievalLogEntry captures one retrieval request. Only a hash of the query
// is recorded, never its text.
type RetrievalLogEntry struct {
	IssueID     string
	QueryHash   string
	TopK        int
	ResultCount int
	DurationMS  int64
}

// RetrievalLogRepository persists retrieval log entries.
type RetrievalLogRepository interface {
	CreateRetrievalLog(ctx context.Context, entry RetrievalLogEntry) error
}

// RetrievedChunk is one scored chunk with provenance for citation.
type RetrievedChunk struct {
	Chunk domain.Chunk
	Score float64
}

// RetrieveInput identifies the issue and query for one retrieval.
type RetrieveInput struct {
	IssueID string
	Query   string
	// TopK caps the number of returned chunks; zero means the configured
	// default.
	TopK int
}

// Retriever answers similarity queries against committed knowledge bases. It
// is read-only and safe to use while builds are running: every query opens
// the generation named by the CURRENT pointer, so it always sees a complete
// index.
type Retriever struct {
	store       RetrieverStore
	adapter     *EmbeddingAdapter
	newEmbedder EmbedderFactory
	logs        RetrievalLogRepository
	defaultTopK int
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(store RetrieverStore, adapter *EmbeddingAdapter, newEmbedder EmbedderFactory, defaultTopK int) (*Retriever, error) {
	if defaultTopK <= 0 {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "default top_k must be greater than zero")
	}
	return &Retriever{
		store:       store,
		adapter:     adapter,
		newEmbedder: newEmbedder,
		defaultTopK: defaultTopK,
	}, nil
}

// WithRetrievalLog records retrieval requests to repo. Logging is best
// effort and never fails a query.
func (r *Retriever) WithRetrievalLog(repo RetrievalLogRepository) *Retriever {
	r.logs = repo
	return r
}

// Retrieve embeds the query with the knowledge base's active model and
// returns the top-k most similar chunks, highest score first.
func (r *Retriever) Retrieve(ctx context.Context, input RetrieveInput) ([]RetrievedChunk, *domain.KBMeta, error) {
	start := time.Now()

	topK := input.TopK
	if topK == 0 {
		topK = r.defaultTopK
	}
	if topK < 0 {
		return nil, nil, domain.ErrInvalidTopK
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, nil, domain.NewDomainError(domain.ErrCodeValidation, "query text is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "Retriever.Retrieve", telemetry.SpanAttributes{
		IssueID:   input.IssueID,
		Operation: "retrieve",
	})
	defer span.End()

	idx, meta, err := r.store.LoadKB(input.IssueID)
	if err != nil {
		return nil, nil, err
	}
	defer idx.Close()

	model, err := domain.ParseModelID(meta.ModelID)
	if err != nil {
		return nil, nil, fmt.Errorf("knowledge base for issue %s records invalid model %q: %w",
			input.IssueID, meta.ModelID, err)
	}
	embedder, err := r.newEmbedder(model)
	if err != nil {
		return nil, nil, err
	}

	queryVec, err := r.adapter.EmbedQuery(ctx, embedder, query)
	if err != nil {
		return nil, nil, err
	}

	entries, err := idx.Search(queryVec, topK)
	if err != nil {
		return nil, nil, err
	}

	results := make([]RetrievedChunk, len(entries))
	for i, entry := range entries {
		results[i] = RetrievedChunk{Chunk: entry.Chunk, Score: entry.Score}
	}

	r.logRetrieval(ctx, RetrievalLogEntry{
		IssueID:     input.IssueID,
		QueryHash:   domain.HashContent(query),
		TopK:        topK,
		ResultCount: len(results),
		DurationMS:  time.Since(start).Milliseconds(),
	})
	return results, meta, nil
}

func (r *Retriever) logRetrieval(ctx context.Context, entry RetrievalLogEntry) {
	if r.logs == nil {
		return
	}
	if err := r.logs.CreateRetrievalLog(ctx, entry); err != nil {
		log.Printf("retriever: failed to record retrieval log for issue %s: %v", entry.IssueID, err)
	}
}
