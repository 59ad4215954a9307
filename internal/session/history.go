// Package session persists per-issue chat history. Each issue keeps an
// append-only JSONL file under its chat directory; when the file grows past
// the retention limit the oldest turns are dropped.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/pagination"
)

const historyFile = "history.jsonl"

// maxLineBytes bounds a single serialized chat turn.
const maxLineBytes = 1 << 20

// IssueDirs resolves issues and their chat directories. kbstore.Store
// satisfies it.
type IssueDirs interface {
	GetIssue(issueID string) (*domain.Issue, error)
	ChatDir(issueID string) string
}

// History reads and writes chat transcripts. Appends are serialized so a
// trim never races a concurrent write.
type History struct {
	dirs  IssueDirs
	limit int

	mu sync.Mutex
}

// NewHistory creates a History retaining at most limit messages per issue.
func NewHistory(dirs IssueDirs, limit int) (*History, error) {
	if limit <= 0 {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			"chat history limit must be greater than zero")
	}
	return &History{dirs: dirs, limit: limit}, nil
}

// chatRecord is the serialized form of one line in history.jsonl.
type chatRecord struct {
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	References []string  `json:"references,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *History) path(issueID string) string {
	return filepath.Join(h.dirs.ChatDir(issueID), historyFile)
}

// Append adds messages to an issue's transcript in order, then trims the
// file if it exceeds the retention limit.
func (h *History) Append(issueID string, msgs ...*domain.ChatMessage) error {
	for _, m := range msgs {
		if err := domain.ValidateChatMessage(m); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid chat message", err)
		}
	}
	if _, err := h.dirs.GetIssue(issueID); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.dirs.ChatDir(issueID), 0o755); err != nil {
		return fmt.Errorf("failed to create chat directory: %w", err)
	}

	f, err := os.OpenFile(h.path(issueID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open chat history: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, m := range msgs {
		rec := chatRecord{
			Role:       string(m.Role),
			Text:       m.Text,
			References: m.References,
			CreatedAt:  m.CreatedAt.UTC(),
		}
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("failed to append chat message: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync chat history: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close chat history: %w", err)
	}

	return h.trimLocked(issueID)
}

// trimLocked rewrites the history file keeping only the newest limit
// messages. Caller holds h.mu.
func (h *History) trimLocked(issueID string) error {
	msgs, err := readHistoryFile(h.path(issueID))
	if err != nil {
		return err
	}
	if len(msgs) <= h.limit {
		return nil
	}
	keep := msgs[len(msgs)-h.limit:]

	tmp := h.path(issueID) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create trimmed chat history: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, rec := range keep {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to write trimmed chat history: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync trimmed chat history: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close trimmed chat history: %w", err)
	}
	if err := os.Rename(tmp, h.path(issueID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace chat history: %w", err)
	}
	return nil
}

// Load returns an issue's full transcript, oldest first. An issue that never
// chatted has an empty transcript.
func (h *History) Load(issueID string) ([]domain.ChatMessage, error) {
	if _, err := h.dirs.GetIssue(issueID); err != nil {
		return nil, err
	}
	records, err := readHistoryFile(h.path(issueID))
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, len(records))
	for i, rec := range records {
		msgs[i] = domain.ChatMessage{
			Role:       domain.ChatRole(rec.Role),
			Text:       rec.Text,
			References: rec.References,
			CreatedAt:  rec.CreatedAt,
		}
	}
	return msgs, nil
}

// LoadPage returns one page of the transcript starting at the cursor's
// offset, oldest first.
func (h *History) LoadPage(issueID, cursor string, limit int) (pagination.PageResult[domain.ChatMessage], error) {
	var page pagination.PageResult[domain.ChatMessage]

	offset, err := pagination.DecodeOffsetCursor(cursor)
	if err != nil {
		return page, err
	}
	if limit <= 0 {
		return page, domain.NewDomainError(domain.ErrCodeValidation,
			"page limit must be greater than zero")
	}

	msgs, err := h.Load(issueID)
	if err != nil {
		return page, err
	}
	if offset >= len(msgs) {
		page.Items = []domain.ChatMessage{}
		return page, nil
	}

	end := offset + limit
	if end > len(msgs) {
		end = len(msgs)
	}
	page.Items = msgs[offset:end]
	page.Cursor = pagination.NextOffsetCursor(offset, len(page.Items), len(msgs))
	page.HasMore = page.Cursor != ""
	return page, nil
}

// Count returns the number of retained messages for an issue.
func (h *History) Count(issueID string) (int, error) {
	msgs, err := h.Load(issueID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// Clear deletes an issue's transcript.
func (h *History) Clear(issueID string) error {
	if _, err := h.dirs.GetIssue(issueID); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.Remove(h.path(issueID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	return nil
}

func readHistoryFile(path string) ([]chatRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open chat history: %w", err)
	}
	defer f.Close()

	var records []chatRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec chatRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode chat history line: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}
	return records, nil
}
