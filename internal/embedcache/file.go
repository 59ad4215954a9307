package embedcache

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/seerstack/logseer/internal/domain"
)

// cacheRecord is the JSONL journal row for one cached embedding.
type cacheRecord struct {
	ContentHash string    `json:"content_hash"`
	ModelID     string    `json:"model_id"`
	Vector      []float32 `json:"vector"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileStore is the default cache backend: an append-only JSONL journal with
// the full key set held in memory. The journal is compacted whenever the
// entry count passes maxEntries, dropping the oldest entries first.
type FileStore struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	entries    map[string]*domain.EmbeddingRecord
	order      []string
	journal    *os.File
	writer     *bufio.Writer
}

// OpenFileStore loads (or creates) the journal at path. When the journal
// contains conflicting rows for one key, the earliest row wins: the
// originally cached value stays authoritative.
func OpenFileStore(path string, maxEntries int) (*FileStore, error) {
	if maxEntries <= 0 {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "cache max entries must be greater than zero")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &FileStore{
		path:       path,
		maxEntries: maxEntries,
		entries:    make(map[string]*domain.EmbeddingRecord),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache journal: %w", err)
	}
	s.journal = f
	s.writer = bufio.NewWriter(f)

	if len(s.entries) > s.maxEntries {
		if err := s.compactLocked(); err != nil {
			s.journal.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open cache journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec cacheRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn trailing line from an interrupted append is recoverable;
			// everything before it is intact.
			continue
		}
		key := cacheKey(rec.ContentHash, rec.ModelID)
		if _, exists := s.entries[key]; exists {
			continue
		}
		s.entries[key] = domain.NewEmbeddingRecord(rec.ContentHash, rec.ModelID, rec.Vector, rec.CreatedAt)
		s.order = append(s.order, key)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read cache journal: %w", err)
	}
	return nil
}

// Get returns the cached vector for (contentHash, modelID), if present.
func (s *FileStore) Get(ctx context.Context, contentHash, modelID string) ([]float32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[cacheKey(contentHash, modelID)]
	if !ok {
		return nil, false, nil
	}
	return rec.Vector, true, nil
}

// Put stores a new record or validates an existing one. See Store.
func (s *FileStore) Put(ctx context.Context, record *domain.EmbeddingRecord) error {
	if err := domain.ValidateEmbeddingRecord(record); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid embedding record", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey(record.ContentHash, record.ModelID)
	if existing, ok := s.entries[key]; ok {
		if domain.VectorsEqual(existing.Vector, record.Vector) {
			return nil
		}
		return domain.ErrCacheConflict
	}

	if err := s.appendLocked(record); err != nil {
		return err
	}

	s.entries[key] = record
	s.order = append(s.order, key)

	if len(s.entries) > s.maxEntries {
		return s.compactLocked()
	}
	return nil
}

// Len reports the number of cached records.
func (s *FileStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Flush forces buffered journal rows to disk.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush cache journal: %w", err)
	}
	return s.journal.Sync()
}

// Close flushes and closes the journal.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		s.journal.Close()
		return fmt.Errorf("failed to flush cache journal: %w", err)
	}
	return s.journal.Close()
}

func (s *FileStore) appendLocked(record *domain.EmbeddingRecord) error {
	row := cacheRecord{
		ContentHash: record.ContentHash,
		ModelID:     record.ModelID,
		Vector:      record.Vector,
		CreatedAt:   record.CreatedAt,
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append cache record: %w", err)
	}
	return nil
}

// compactLocked drops the oldest entries down to maxEntries and rewrites the
// journal atomically.
func (s *FileStore) compactLocked() error {
	if over := len(s.entries) - s.maxEntries; over > 0 {
		for _, key := range s.order[:over] {
			delete(s.entries, key)
		}
		s.order = s.order[over:]
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create compacted journal: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, key := range s.order {
		rec := s.entries[key]
		row := cacheRecord{
			ContentHash: rec.ContentHash,
			ModelID:     rec.ModelID,
			Vector:      rec.Vector,
			CreatedAt:   rec.CreatedAt,
		}
		data, err := json.Marshal(row)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to encode cache record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("failed to write compacted journal: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush compacted journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync compacted journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close compacted journal: %w", err)
	}

	// Swap the live journal handle before renaming over the old file.
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush cache journal: %w", err)
	}
	if err := s.journal.Close(); err != nil {
		return fmt.Errorf("failed to close cache journal: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace cache journal: %w", err)
	}

	reopened, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen cache journal: %w", err)
	}
	s.journal = reopened
	s.writer = bufio.NewWriter(reopened)
	return nil
}
