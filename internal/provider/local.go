package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/seerstack/logseer/internal/domain"
)

const (
	localModelName = "term-hash-256"
	localDimension = 256
)

// localEmbedder is a deterministic in-process embedder. Each token is hashed
// onto one bucket of the vector with a sign bit and the result is
// l2-normalized, so texts sharing terms land near each other under cosine
// similarity. It needs no network and no key.
type localEmbedder struct {
	model string
	dim   int
}

func newLocal(model string, _ Config) (Embedder, error) {
	if model != localModelName {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			fmt.Sprintf("unknown local embedding model %q", model))
	}
	return &localEmbedder{model: model, dim: localDimension}, nil
}

func (e *localEmbedder) ModelID() string { return "local:" + e.model }

func (e *localEmbedder) Dimension() int { return e.dim }

func (e *localEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

func (e *localEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		if sum>>32&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * scale)
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func init() {
	Register("local", newLocal,
		ModelInfo{ID: "local:" + localModelName, Dimension: localDimension})
}
