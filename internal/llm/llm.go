// Package llm hosts the text-generation integrations that turn retrieved log
// excerpts into natural-language answers. It mirrors the provider package:
// each backend registers a factory under its key at init time, and New
// dispatches on the provider half of a parsed model id.
package llm

import (
	"context"
	"sort"
	"strings"

	"github.com/seerstack/logseer/internal/domain"
)

// Generator produces a completion for an assembled prompt. The prompt is
// opaque to the backend; callers own prompt construction and answer parsing.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelID() string
}

// Config carries the credentials available to factories. Each factory reads
// only the fields it needs.
type Config struct {
	GeminiAPIKey string
	OpenAIAPIKey string
}

// ModelInfo describes one registered generation model.
type ModelInfo struct {
	ID          string `json:"id"`
	RequiresKey bool   `json:"requires_key"`
}

// Factory builds a Generator for one model of its provider. The model
// argument is the name half of the model id, without the provider prefix.
type Factory func(model string, cfg Config) (Generator, error)

type registration struct {
	factory Factory
	models  []ModelInfo
}

var registry = map[string]registration{}

// Register installs a factory under the given provider key together with the
// models it serves. Called from init in each backend file.
func Register(name string, factory Factory, models ...ModelInfo) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = registration{factory: factory, models: models}
}

// New builds a Generator for the given model id.
func New(id domain.ModelID, cfg Config) (Generator, error) {
	reg, ok := registry[strings.ToLower(id.Provider)]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return reg.factory(id.Name, cfg)
}

// Models lists every registered generation model, sorted by id.
func Models() []ModelInfo {
	var out []ModelInfo
	for _, reg := range registry {
		out = append(out, reg.models...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
