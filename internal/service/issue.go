package service

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/pagination"
	"github.com/seerstack/logseer/internal/telemetry"
)

// List limits for issue pages.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// IssueWorkspaceStore is the store surface the issue service drives.
// kbstore.Store satisfies it.
type IssueWorkspaceStore interface {
	CreateIssue(issueID string) (*domain.Issue, error)
	GetIssue(issueID string) (*domain.Issue, error)
	ListIssues() ([]*domain.Issue, error)
	DeleteIssue(issueID string) error
	SaveRawLog(issueID, name string, r io.Reader) (*domain.RawLog, error)
	OpenRawLog(issueID, name string) (io.ReadCloser, error)
	ListRawLogs(issueID string) ([]domain.RawLog, error)
	LoadKBMeta(issueID string) (*domain.KBMeta, error)
	LoadLastBuild(issueID string) (*domain.BuildReport, error)
}

// LogArchiver mirrors uploaded logs to durable object storage.
// storage.S3Client satisfies it.
type LogArchiver interface {
	ArchiveRawLog(ctx context.Context, issueID, name string, content io.Reader) error
	PurgeIssue(ctx context.Context, issueID string) error
}

// UploadConfig bounds accepted log uploads.
type UploadConfig struct {
	MaxBytes    int64
	AllowedExts []string
}

// Validate checks upload limits.
func (c UploadConfig) Validate() error {
	if c.MaxBytes <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "upload size limit must be greater than zero")
	}
	if len(c.AllowedExts) == 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "at least one log extension must be allowed")
	}
	return nil
}

// IssueService owns workspace lifecycle: creating and deleting issues,
// accepting log uploads, and reporting per-issue state.
type IssueService struct {
	store    IssueWorkspaceStore
	archiver LogArchiver
	cfg      UploadConfig
}

// NewIssueService creates a new IssueService instance.
func NewIssueService(store IssueWorkspaceStore, cfg UploadConfig) (*IssueService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &IssueService{store: store, cfg: cfg}, nil
}

// WithArchiver mirrors uploads to a. Archiving is best effort and never
// fails an upload.
func (s *IssueService) WithArchiver(a LogArchiver) *IssueService {
	s.archiver = a
	return s
}

// Create registers a new workspace.
func (s *IssueService) Create(ctx context.Context, issueID string) (*domain.Issue, error) {
	_, span := telemetry.StartSpan(ctx, "IssueService.Create", telemetry.SpanAttributes{
		IssueID:   issueID,
		Operation: "create_issue",
	})
	defer span.End()

	return s.store.CreateIssue(issueID)
}

// Get loads one workspace.
func (s *IssueService) Get(ctx context.Context, issueID string) (*domain.Issue, error) {
	return s.store.GetIssue(issueID)
}

// List returns one id-ordered page of workspaces.
func (s *IssueService) List(ctx context.Context, cursor string, limit int) (pagination.PageResult[*domain.Issue], error) {
	var page pagination.PageResult[*domain.Issue]

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	afterID, err := pagination.DecodeKeyCursor(cursor)
	if err != nil {
		return page, err
	}

	issues, err := s.store.ListIssues()
	if err != nil {
		return page, err
	}

	// ListIssues returns ids in ascending order; resume after the cursor.
	start := 0
	if afterID != "" {
		start = sort.Search(len(issues), func(i int) bool { return issues[i].ID > afterID })
	}
	end := start + limit
	if end > len(issues) {
		end = len(issues)
	}

	page.Items = issues[start:end]
	page.Cursor = pagination.NextKeyCursor(page.Items, limit, func(i *domain.Issue) string { return i.ID })
	if page.Cursor != "" && end == len(issues) {
		// A full page that drained the listing has nothing after it.
		page.Cursor = ""
	}
	page.HasMore = page.Cursor != ""
	return page, nil
}

// Delete removes a workspace and everything stored for it, including any
// archived copies.
func (s *IssueService) Delete(ctx context.Context, issueID string) error {
	ctx, span := telemetry.StartSpan(ctx, "IssueService.Delete", telemetry.SpanAttributes{
		IssueID:   issueID,
		Operation: "delete_issue",
	})
	defer span.End()

	if err := s.store.DeleteIssue(issueID); err != nil {
		return err
	}
	if s.archiver != nil {
		if err := s.archiver.PurgeIssue(ctx, issueID); err != nil {
			telemetry.CaptureError(ctx, err)
			log.Printf("issues: failed to purge archive for issue %s: %v", issueID, err)
		}
	}
	return nil
}

// errUploadTooLarge crosses SaveRawLog's io.Copy as a validation error.
var errUploadTooLarge = domain.NewDomainError(domain.ErrCodeValidation,
	"log file exceeds the upload size limit")

// UploadLog stores one uploaded file for an issue. The filename must carry an
// allowed extension, the content must fit the size limit, and re-uploading an
// existing name is rejected.
func (s *IssueService) UploadLog(ctx context.Context, issueID, filename string, content io.Reader) (*domain.RawLog, error) {
	if err := domain.ValidateLogFilename(filename, s.cfg.AllowedExts); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid log filename", err)
	}

	ctx, span := telemetry.StartSpan(ctx, "IssueService.UploadLog", telemetry.SpanAttributes{
		IssueID:   issueID,
		Operation: "upload_log",
	})
	defer span.End()

	rawLog, err := s.store.SaveRawLog(issueID, filename, &cappedReader{r: content, remaining: s.cfg.MaxBytes})
	if err != nil {
		return nil, err
	}

	s.archiveLog(ctx, issueID, filename)
	return rawLog, nil
}

// archiveLog streams the stored file to the archive. The local copy is the
// source of truth; archive failures are reported but not returned.
func (s *IssueService) archiveLog(ctx context.Context, issueID, name string) {
	if s.archiver == nil {
		return
	}

	f, err := s.store.OpenRawLog(issueID, name)
	if err != nil {
		log.Printf("issues: failed to open %s for archiving: %v", name, err)
		return
	}
	defer f.Close()

	if err := s.archiver.ArchiveRawLog(ctx, issueID, name, f); err != nil {
		telemetry.CaptureError(ctx, err)
		log.Printf("issues: failed to archive %s for issue %s: %v", name, issueID, err)
	}
}

// ListLogs returns the issue's uploaded files, sorted by name.
func (s *IssueService) ListLogs(ctx context.Context, issueID string) ([]domain.RawLog, error) {
	return s.store.ListRawLogs(issueID)
}

// Stats aggregates the observable state of one issue.
func (s *IssueService) Stats(ctx context.Context, issueID string) (*domain.IssueStats, error) {
	issue, err := s.store.GetIssue(issueID)
	if err != nil {
		return nil, err
	}

	logs, err := s.store.ListRawLogs(issueID)
	if err != nil {
		return nil, err
	}

	stats := &domain.IssueStats{IssueID: issue.ID, FileCount: len(logs)}
	for _, l := range logs {
		stats.TotalBytes += l.Size
	}

	meta, err := s.store.LoadKBMeta(issueID)
	switch {
	case err == nil:
		stats.ChunkCount = meta.ChunkCount
		stats.ModelID = meta.ModelID
		stats.KBBuiltAt = meta.BuiltAt
	case errors.Is(err, domain.ErrKnowledgeBaseNotBuilt):
		// Never built; stats stay zero.
	default:
		return nil, err
	}

	lastBuild, err := s.store.LoadLastBuild(issueID)
	if err != nil {
		return nil, err
	}
	stats.LastBuild = lastBuild
	return stats, nil
}

// cappedReader passes through at most remaining bytes and turns the first
// byte past the cap into errUploadTooLarge, so oversize uploads abort
// mid-copy instead of being silently truncated.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		// Probe one byte to distinguish an exactly-full upload from an
		// oversize one.
		var probe [1]byte
		n, err := c.r.Read(probe[:])
		if n > 0 {
			return 0, errUploadTooLarge
		}
		return 0, err
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}
