package kbstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/seerstack/logseer/internal/domain"
)

func validateRawLogName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return domain.NewDomainError(domain.ErrCodeValidation, "log filename must not contain path separators")
	}
	return nil
}

// SaveRawLog stores an uploaded file under the issue's raw_logs directory.
// Files are append-only: re-uploading an existing name is an AlreadyExists
// error rather than an overwrite.
func (s *Store) SaveRawLog(issueID, name string, r io.Reader) (*domain.RawLog, error) {
	if _, err := s.GetIssue(issueID); err != nil {
		return nil, err
	}
	if err := validateRawLogName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(s.rawLogsDir(issueID), name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, domain.ErrRawLogAlreadyExists
		}
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write log file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close log file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}
	return domain.NewRawLog(name, size, info.ModTime().UTC()), nil
}

// ListRawLogs returns the issue's uploaded files, sorted by name.
func (s *Store) ListRawLogs(issueID string) ([]domain.RawLog, error) {
	if _, err := s.GetIssue(issueID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.rawLogsDir(issueID))
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.RawLog{}, nil
		}
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}

	logs := make([]domain.RawLog, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat log file: %w", err)
		}
		logs = append(logs, domain.RawLog{
			Name:       entry.Name(),
			Size:       info.Size(),
			UploadedAt: info.ModTime().UTC(),
		})
	}

	sort.Slice(logs, func(i, j int) bool { return logs[i].Name < logs[j].Name })
	return logs, nil
}

// ReadRawLog returns the full content of one uploaded file.
func (s *Store) ReadRawLog(issueID, name string) (string, error) {
	if _, err := s.GetIssue(issueID); err != nil {
		return "", err
	}
	if err := validateRawLogName(name); err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(s.rawLogsDir(issueID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.ErrRawLogNotFound
		}
		return "", fmt.Errorf("failed to read log file: %w", err)
	}
	return string(data), nil
}

// OpenRawLog opens one uploaded file for streaming reads.
func (s *Store) OpenRawLog(issueID, name string) (io.ReadCloser, error) {
	if _, err := s.GetIssue(issueID); err != nil {
		return nil, err
	}
	if err := validateRawLogName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.rawLogsDir(issueID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrRawLogNotFound
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
