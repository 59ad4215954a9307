package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/seerstack/logseer/internal/domain"
)

// Embedder is the provider client the adapter drives. Implementations in
// internal/provider satisfy it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Dimension() int
}

// EmbedConfig tunes batching, retries and provider concurrency.
type EmbedConfig struct {
	BatchSize   int
	MaxAttempts int
	RetryBase   time.Duration
	CallTimeout time.Duration
	Concurrency int
}

// DefaultEmbedConfig returns the default adapter tuning.
func DefaultEmbedConfig() EmbedConfig {
	return EmbedConfig{
		BatchSize:   32,
		MaxAttempts: 3,
		RetryBase:   time.Second,
		CallTimeout: 30 * time.Second,
		Concurrency: 4,
	}
}

// Validate checks adapter tuning values.
func (c EmbedConfig) Validate() error {
	if c.BatchSize <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "embed batch size must be greater than zero")
	}
	if c.MaxAttempts <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "embed max attempts must be greater than zero")
	}
	if c.Concurrency <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "embed concurrency must be greater than zero")
	}
	return nil
}

// EmbeddingAdapter turns chunk texts into vectors through a provider while
// respecting its rate limits: requests are batched, failed batches retried
// with exponential backoff, and in-flight provider calls are capped by one
// semaphore shared across every build.
type EmbeddingAdapter struct {
	cfg EmbedConfig
	sem chan struct{}
}

// NewEmbeddingAdapter creates a new EmbeddingAdapter instance.
func NewEmbeddingAdapter(cfg EmbedConfig) (*EmbeddingAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EmbeddingAdapter{
		cfg: cfg,
		sem: make(chan struct{}, cfg.Concurrency),
	}, nil
}

// EmbedAll embeds texts batch by batch. Every successful batch is handed to
// onBatch before the next one starts, so vectors already produced survive a
// later failure or cancellation. A batch that exhausts its retry budget is
// recorded with the index range of its texts and embedding moves on; no
// partial success is assumed inside a batch. Cancellation is observed
// between batches.
func (a *EmbeddingAdapter) EmbedAll(
	ctx context.Context,
	emb Embedder,
	texts []string,
	onBatch func(start int, vectors [][]float32) error,
) ([]domain.BatchFailure, error) {
	var failures []domain.BatchFailure

	for start := 0; start < len(texts); start += a.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return failures, err
		}

		end := start + a.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := a.embedBatch(ctx, emb, texts[start:end])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return failures, ctxErr
			}
			failures = append(failures, domain.BatchFailure{Start: start, End: end, Reason: err.Error()})
			continue
		}

		if onBatch != nil {
			if err := onBatch(start, vectors); err != nil {
				return failures, err
			}
		}
	}
	return failures, nil
}

// EmbedQuery embeds a single query text with the same retry discipline.
func (a *EmbeddingAdapter) EmbedQuery(ctx context.Context, emb Embedder, text string) ([]float32, error) {
	vectors, err := a.embedBatch(ctx, emb, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (a *EmbeddingAdapter) embedBatch(ctx context.Context, emb Embedder, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		vectors, err := a.callOnce(ctx, emb, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !isRetryableProviderError(err) {
			return nil, err
		}
		if attempt == a.cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(retryBackoff(a.cfg.RetryBase, attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", a.cfg.MaxAttempts, lastErr)
}

// callOnce performs one provider call under the shared semaphore and the
// per-call timeout, and verifies the provider's dimension contract.
func (a *EmbeddingAdapter) callOnce(ctx context.Context, emb Embedder, texts []string) ([][]float32, error) {
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-a.sem }()

	callCtx := ctx
	if a.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
	}

	vectors, err := emb.EmbedBatch(callCtx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, domain.NewDomainError(domain.ErrCodeProvider,
			fmt.Sprintf("provider returned %d vectors for %d texts", len(vectors), len(texts)))
	}
	for i, vec := range vectors {
		if len(vec) != emb.Dimension() {
			return nil, domain.NewDomainError(domain.ErrCodeModelMismatch,
				fmt.Sprintf("vector %d has dimension %d but %s declares %d",
					i, len(vec), emb.ModelID(), emb.Dimension()))
		}
	}
	return vectors, nil
}

// retryBackoff returns the delay before the next attempt: base doubled per
// failed attempt, plus up to one base of jitter.
func retryBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	return base<<(attempt-1) + rand.N(base)
}

// isRetryableProviderError separates transient provider failures from
// deterministic ones: misconfiguration and dimension mismatches fail the same
// way every time, so retrying them only burns the budget.
func isRetryableProviderError(err error) bool {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case domain.ErrCodeConfiguration, domain.ErrCodeModelMismatch, domain.ErrCodeValidation:
			return false
		}
	}
	return true
}
