package domain

import (
	"fmt"
	"time"
)

// issue ids become directory names on disk, so the character set is
// restricted to names that are safe on every filesystem.
const maxIssueIDLength = 64

// Issue represents a named workspace holding raw log files and the knowledge
// base built from them.
type Issue struct {
	ID        string
	CreatedAt time.Time
}

// NewIssue creates a new Issue instance
func NewIssue(id string, createdAt time.Time) *Issue {
	return &Issue{
		ID:        id,
		CreatedAt: createdAt,
	}
}

// ValidateIssueID checks that an issue id is usable as a workspace name.
func ValidateIssueID(id string) error {
	if id == "" {
		return fmt.Errorf("issue id is required")
	}

	if len(id) > maxIssueIDLength {
		return fmt.Errorf("issue id exceeds %d characters", maxIssueIDLength)
	}

	for i, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
			if i == 0 {
				return fmt.Errorf("issue id must start with a letter or digit")
			}
		default:
			return fmt.Errorf("issue id contains invalid character %q", r)
		}
	}

	return nil
}

// KBMeta describes a committed knowledge-base generation.
type KBMeta struct {
	ModelID     string
	Dimension   int
	ChunkCount  int
	SourceFiles []string
	BuiltAt     time.Time
}

// ValidateKBMeta validates a KBMeta instance
func ValidateKBMeta(m *KBMeta) error {
	if m == nil {
		return fmt.Errorf("kb meta cannot be nil")
	}

	if m.ModelID == "" {
		return fmt.Errorf("kb meta ModelID is required")
	}

	if m.Dimension <= 0 {
		return fmt.Errorf("kb meta Dimension must be greater than zero")
	}

	if m.ChunkCount < 0 {
		return fmt.Errorf("kb meta ChunkCount cannot be negative")
	}

	return nil
}

// HasSourceFile reports whether the generation was built from the named file.
func (m *KBMeta) HasSourceFile(name string) bool {
	for _, f := range m.SourceFiles {
		if f == name {
			return true
		}
	}
	return false
}

// IssueStats aggregates the observable state of an issue for display.
type IssueStats struct {
	IssueID    string
	FileCount  int
	TotalBytes int64
	ChunkCount int
	ModelID    string
	KBBuiltAt  time.Time
	LastBuild  *BuildReport
}
