package domain

import (
	"fmt"
	"strings"
	"time"
)

// ModelID identifies an embedding or generation model as "provider:name",
// e.g. "gemini:text-embedding-004" or "local:term-hash-256". Vectors produced
// under different model ids are never interchangeable, even for identical text.
type ModelID struct {
	Provider string
	Name     string
}

// ParseModelID parses a "provider:name" string.
func ParseModelID(s string) (ModelID, error) {
	provider, name, ok := strings.Cut(s, ":")
	if !ok || provider == "" || name == "" {
		return ModelID{}, NewDomainErrorWithCause(ErrCodeConfiguration,
			"model id must be of the form provider:name", fmt.Errorf("got %q", s))
	}
	return ModelID{Provider: provider, Name: name}, nil
}

// String returns the canonical "provider:name" form.
func (m ModelID) String() string {
	return m.Provider + ":" + m.Name
}

// IsZero reports whether the model id is unset.
func (m ModelID) IsZero() bool {
	return m.Provider == "" && m.Name == ""
}

// EmbeddingRecord is a cached vector result. A record is only valid under the
// model id it was generated with; cache lookups key on (ContentHash, ModelID).
type EmbeddingRecord struct {
	ContentHash string
	ModelID     string
	Vector      []float32
	CreatedAt   time.Time
}

// NewEmbeddingRecord creates a new EmbeddingRecord instance
func NewEmbeddingRecord(contentHash, modelID string, vector []float32, createdAt time.Time) *EmbeddingRecord {
	return &EmbeddingRecord{
		ContentHash: contentHash,
		ModelID:     modelID,
		Vector:      vector,
		CreatedAt:   createdAt,
	}
}

// ValidateEmbeddingRecord validates an EmbeddingRecord instance
func ValidateEmbeddingRecord(r *EmbeddingRecord) error {
	if r == nil {
		return fmt.Errorf("embedding record cannot be nil")
	}

	if r.ContentHash == "" {
		return fmt.Errorf("embedding record ContentHash is required")
	}

	if r.ModelID == "" {
		return fmt.Errorf("embedding record ModelID is required")
	}

	if _, err := ParseModelID(r.ModelID); err != nil {
		return fmt.Errorf("embedding record ModelID is invalid: %s", r.ModelID)
	}

	if len(r.Vector) == 0 {
		return fmt.Errorf("embedding record Vector is required")
	}

	return nil
}

// VectorsEqual reports exact element-wise equality. Embedding identical text
// under one model must be deterministic, so cached vectors are compared
// bit-for-bit rather than within a tolerance.
func VectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
