package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Chunk represents a bounded span of log text, the atomic retrievable unit.
// Line numbers are 1-based and inclusive.
type Chunk struct {
	ID          string
	IssueID     string
	SourceFile  string
	LineStart   int
	LineEnd     int
	Text        string
	ContentHash string
}

// ChunkID derives the stable identifier for a chunk from its provenance.
// Identical input always yields the identical id, which keeps cache lookups
// stable across rebuilds.
func ChunkID(issueID, sourceFile string, lineStart, lineEnd int) string {
	return fmt.Sprintf("%s:%s:%d-%d", issueID, sourceFile, lineStart, lineEnd)
}

// HashContent returns the content-addressed cache key for a chunk text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewChunk creates a Chunk with its derived id and content hash.
func NewChunk(issueID, sourceFile string, lineStart, lineEnd int, text string) Chunk {
	return Chunk{
		ID:          ChunkID(issueID, sourceFile, lineStart, lineEnd),
		IssueID:     issueID,
		SourceFile:  sourceFile,
		LineStart:   lineStart,
		LineEnd:     lineEnd,
		Text:        text,
		ContentHash: HashContent(text),
	}
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}

	if c.SourceFile == "" {
		return fmt.Errorf("chunk SourceFile is required")
	}

	if c.LineStart < 1 {
		return fmt.Errorf("chunk LineStart must be at least 1")
	}

	if c.LineEnd < c.LineStart {
		return fmt.Errorf("chunk LineEnd must not precede LineStart")
	}

	if c.Text == "" {
		return fmt.Errorf("chunk Text is required")
	}

	if c.ContentHash == "" {
		return fmt.Errorf("chunk ContentHash is required")
	}

	return nil
}
