// Package kbstore owns the on-disk layout of issues: raw log files, committed
// knowledge-base generations, and build reports. All state for one issue
// lives under issues/<id> inside the data directory.
package kbstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/seerstack/logseer/internal/domain"
)

// Store reads and writes the data directory. Methods validate issue ids
// before touching the filesystem, so ids never escape their directory.
type Store struct {
	root             string
	indexMemoryLimit int64
}

// NewStore opens (or creates) the data directory rooted at root. Vector
// matrices larger than indexMemoryLimit bytes are served file-backed; a limit
// of zero or below keeps every index in memory.
func NewStore(root string, indexMemoryLimit int64) (*Store, error) {
	if root == "" {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "data directory is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "issues"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{root: root, indexMemoryLimit: indexMemoryLimit}, nil
}

// Root returns the data directory path.
func (s *Store) Root() string { return s.root }

func (s *Store) issueDir(issueID string) string {
	return filepath.Join(s.root, "issues", issueID)
}

func (s *Store) rawLogsDir(issueID string) string {
	return filepath.Join(s.issueDir(issueID), "raw_logs")
}

func (s *Store) kbDir(issueID string) string {
	return filepath.Join(s.issueDir(issueID), "kb")
}

func (s *Store) issuePath(issueID string) string {
	return filepath.Join(s.issueDir(issueID), "issue.json")
}

// ChatDir returns the directory holding an issue's chat history.
func (s *Store) ChatDir(issueID string) string {
	return filepath.Join(s.issueDir(issueID), "chat")
}

// issueRecord is the serialized form of issue.json.
type issueRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateIssue registers a new workspace. The id doubles as the directory
// name; an existing issue with the same id is an AlreadyExists error.
func (s *Store) CreateIssue(issueID string) (*domain.Issue, error) {
	if err := domain.ValidateIssueID(issueID); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid issue id", err)
	}

	dir := s.issueDir(issueID)
	if _, err := os.Stat(dir); err == nil {
		return nil, domain.ErrIssueAlreadyExists
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat issue directory: %w", err)
	}

	for _, sub := range []string{dir, s.rawLogsDir(issueID), s.kbDir(issueID)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create issue directory: %w", err)
		}
	}

	issue := domain.NewIssue(issueID, time.Now().UTC())
	if err := writeJSONFile(s.issuePath(issueID), issueRecord{ID: issue.ID, CreatedAt: issue.CreatedAt}); err != nil {
		return nil, err
	}
	return issue, nil
}

// GetIssue loads one issue by id.
func (s *Store) GetIssue(issueID string) (*domain.Issue, error) {
	if err := domain.ValidateIssueID(issueID); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid issue id", err)
	}

	var rec issueRecord
	if err := readJSONFile(s.issuePath(issueID), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrIssueNotFound
		}
		return nil, err
	}
	return domain.NewIssue(rec.ID, rec.CreatedAt), nil
}

// ListIssues returns every issue, sorted by id.
func (s *Store) ListIssues() ([]*domain.Issue, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "issues"))
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}

	issues := make([]*domain.Issue, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		issue, err := s.GetIssue(entry.Name())
		if err != nil {
			// A directory without issue.json is not a workspace.
			continue
		}
		issues = append(issues, issue)
	}

	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
	return issues, nil
}

// DeleteIssue removes an issue and everything under it.
func (s *Store) DeleteIssue(issueID string) error {
	if _, err := s.GetIssue(issueID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.issueDir(issueID)); err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
