package service

import (
	"strings"
	"unicode/utf8"

	"github.com/seerstack/logseer/internal/domain"
)

// ChunkConfig controls how raw log text is split into retrievable chunks.
type ChunkConfig struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int
	// Overlap is the number of characters shared between consecutive chunks,
	// approximated by whole lines.
	Overlap int
}

// DefaultChunkConfig provides sane defaults for log chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize: 800,
		Overlap:   100,
	}
}

// Validate rejects invalid chunking parameters before any processing starts.
func (c ChunkConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return domain.ErrInvalidChunkSize
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return domain.ErrInvalidOverlap
	}
	return nil
}

// ChunkLogFile splits one raw log file into overlapping line-aligned chunks.
// Lines accumulate until the running character count reaches cfg.ChunkSize;
// the next chunk starts cfg.Overlap characters (converted to whole lines)
// before the previous chunk's end, so every source line lands in at least one
// chunk and chunk boundaries never span files. The split is deterministic:
// identical input and parameters always yield identical boundaries, which
// keeps content hashes stable across builds.
func ChunkLogFile(issueID, sourceFile, text string, cfg ChunkConfig) ([]domain.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")

	var chunks []domain.Chunk
	start := 0
	for start < len(lines) {
		chars := 0
		end := start
		for end < len(lines) {
			chars += utf8.RuneCountInString(lines[end]) + 1
			end++
			if chars >= cfg.ChunkSize {
				break
			}
		}

		chunkText := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(chunkText) != "" {
			chunks = append(chunks, domain.NewChunk(issueID, sourceFile, start+1, end, chunkText))
		}

		if end >= len(lines) {
			break
		}

		next := end - overlapLines(cfg.Overlap, chars, end-start)
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks, nil
}

// overlapLines converts the configured character overlap into whole lines
// using the average line length of the chunk just emitted.
func overlapLines(overlap, chunkChars, chunkLines int) int {
	if overlap <= 0 || chunkLines <= 0 {
		return 0
	}
	avg := chunkChars / chunkLines
	if avg < 1 {
		avg = 1
	}
	n := overlap / avg
	if n >= chunkLines {
		n = chunkLines - 1
	}
	return n
}
