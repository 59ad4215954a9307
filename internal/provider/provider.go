// Package provider hosts the embedding model integrations. Each provider
// file registers a factory under its key at init time; New dispatches on the
// provider half of a parsed model id.
package provider

import (
	"context"
	"sort"
	"strings"

	"github.com/seerstack/logseer/internal/domain"
)

// Embedder produces embedding vectors for batches of text. Implementations
// must preserve input order and length: vector i belongs to texts[i].
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Dimension() int
}

// Config carries the credentials available to factories. Each factory reads
// only the fields it needs.
type Config struct {
	GeminiAPIKey string
	OpenAIAPIKey string
}

// ModelInfo describes one registered embedding model.
type ModelInfo struct {
	ID          string `json:"id"`
	Dimension   int    `json:"dimension"`
	RequiresKey bool   `json:"requires_key"`
}

// Factory builds an Embedder for one model of its provider. The model
// argument is the name half of the model id, without the provider prefix.
type Factory func(model string, cfg Config) (Embedder, error)

type registration struct {
	factory Factory
	models  []ModelInfo
}

var registry = map[string]registration{}

// Register installs a factory under the given provider key together with the
// models it serves. Called from init in each provider file.
func Register(name string, factory Factory, models ...ModelInfo) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = registration{factory: factory, models: models}
}

// New builds an Embedder for the given model id.
func New(id domain.ModelID, cfg Config) (Embedder, error) {
	reg, ok := registry[strings.ToLower(id.Provider)]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return reg.factory(id.Name, cfg)
}

// Models lists every registered embedding model, sorted by id.
func Models() []ModelInfo {
	var out []ModelInfo
	for _, reg := range registry {
		out = append(out, reg.models...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
