package kbstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/vecindex"
)

const (
	currentFile   = "CURRENT"
	chunksFile    = "chunks.jsonl"
	vectorsFile   = "vectors.bin"
	metaFile      = "meta.json"
	lastBuildFile = "last_build.json"
	genPrefix     = "gen-"
)

// chunkRow is the JSONL form of one chunk inside a generation directory. The
// issue id is implicit in the path.
type chunkRow struct {
	ChunkID     string `json:"chunk_id"`
	SourceFile  string `json:"source_file"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"`
}

// metaRecord is the serialized form of meta.json.
type metaRecord struct {
	ModelID     string    `json:"model_id"`
	Dimension   int       `json:"dimension"`
	ChunkCount  int       `json:"chunk_count"`
	SourceFiles []string  `json:"source_files"`
	BuiltAt     time.Time `json:"built_at"`
}

// buildRecord is the serialized form of last_build.json.
type buildRecord struct {
	IssueID        string            `json:"issue_id"`
	ModelID        string            `json:"model_id"`
	Status         string            `json:"status"`
	ChunksTotal    int               `json:"chunks_total"`
	ChunksEmbedded int               `json:"chunks_embedded"`
	CacheHits      int               `json:"cache_hits"`
	CacheMisses    int               `json:"cache_misses"`
	EmbedFailures  int               `json:"embed_failures"`
	FailedBatches  []batchFailureRow `json:"failed_batches,omitempty"`
	NewFiles       []string          `json:"new_files,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	DurationMS     int64             `json:"duration_ms"`
	Error          string            `json:"error,omitempty"`
}

type batchFailureRow struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason"`
}

func (s *Store) currentPath(issueID string) string {
	return filepath.Join(s.kbDir(issueID), currentFile)
}

func (s *Store) lastBuildPath(issueID string) string {
	return filepath.Join(s.issueDir(issueID), lastBuildFile)
}

// CommitKB writes chunks, vectors and meta into a fresh generation directory
// and then atomically repoints CURRENT at it. A failure before the pointer
// swap leaves the previous generation untouched and queryable.
func (s *Store) CommitKB(issueID string, meta domain.KBMeta, chunks []domain.Chunk, vectors [][]float32) error {
	if _, err := s.GetIssue(issueID); err != nil {
		return err
	}
	if err := domain.ValidateKBMeta(&meta); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid kb meta", err)
	}
	if meta.ChunkCount != len(chunks) || len(chunks) != len(vectors) {
		return domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("meta records %d chunks but %d chunks and %d vectors were given",
				meta.ChunkCount, len(chunks), len(vectors)))
	}

	kbDir := s.kbDir(issueID)
	if err := os.MkdirAll(kbDir, 0o755); err != nil {
		return fmt.Errorf("failed to create kb directory: %w", err)
	}

	gen := fmt.Sprintf("%s%d", genPrefix, time.Now().UnixNano())
	genDir := filepath.Join(kbDir, gen)
	if err := os.Mkdir(genDir, 0o755); err != nil {
		return fmt.Errorf("failed to create generation directory: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(genDir)
		}
	}()

	if err := writeChunksFile(filepath.Join(genDir, chunksFile), chunks); err != nil {
		return err
	}
	if err := vecindex.WriteVectorFile(filepath.Join(genDir, vectorsFile), meta.ModelID, meta.Dimension, vectors); err != nil {
		return err
	}
	if err := writeJSONFile(filepath.Join(genDir, metaFile), metaRecord{
		ModelID:     meta.ModelID,
		Dimension:   meta.Dimension,
		ChunkCount:  meta.ChunkCount,
		SourceFiles: meta.SourceFiles,
		BuiltAt:     meta.BuiltAt,
	}); err != nil {
		return err
	}
	if err := syncDir(genDir); err != nil {
		return err
	}

	if err := s.writeCurrent(issueID, gen); err != nil {
		return err
	}
	committed = true

	s.pruneGenerations(issueID, gen)
	return nil
}

// writeCurrent atomically replaces the CURRENT pointer via tmp file + rename.
func (s *Store) writeCurrent(issueID, gen string) error {
	path := s.currentPath(issueID)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create pointer file: %w", err)
	}
	if _, err := f.WriteString(gen + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to write pointer file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync pointer file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close pointer file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to swap pointer file: %w", err)
	}
	return syncDir(s.kbDir(issueID))
}

// readCurrent returns the active generation name, or KBNotBuilt when no
// generation has ever been committed.
func (s *Store) readCurrent(issueID string) (string, error) {
	data, err := os.ReadFile(s.currentPath(issueID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.ErrKnowledgeBaseNotBuilt
		}
		return "", fmt.Errorf("failed to read pointer file: %w", err)
	}

	gen := strings.TrimSpace(string(data))
	if gen == "" || !strings.HasPrefix(gen, genPrefix) {
		return "", fmt.Errorf("pointer file for issue %s is corrupt", issueID)
	}
	return gen, nil
}

// pruneGenerations removes every generation directory except keep. Pruning is
// best effort; a leftover directory is unreferenced and harmless.
func (s *Store) pruneGenerations(issueID, keep string) {
	entries, err := os.ReadDir(s.kbDir(issueID))
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || name == keep || !strings.HasPrefix(name, genPrefix) {
			continue
		}
		os.RemoveAll(filepath.Join(s.kbDir(issueID), name))
	}
}

// LoadKB opens the active generation as a searchable index. Matrices above
// the store's memory limit stay file-backed.
func (s *Store) LoadKB(issueID string) (*vecindex.Index, *domain.KBMeta, error) {
	if _, err := s.GetIssue(issueID); err != nil {
		return nil, nil, err
	}

	gen, err := s.readCurrent(issueID)
	if err != nil {
		return nil, nil, err
	}
	genDir := filepath.Join(s.kbDir(issueID), gen)

	meta, err := readMetaFile(filepath.Join(genDir, metaFile))
	if err != nil {
		return nil, nil, err
	}
	chunks, err := readChunksFile(filepath.Join(genDir, chunksFile), issueID)
	if err != nil {
		return nil, nil, err
	}

	source, modelID, err := vecindex.OpenVectorFile(filepath.Join(genDir, vectorsFile), s.indexMemoryLimit)
	if err != nil {
		return nil, nil, err
	}
	if modelID != meta.ModelID {
		source.Close()
		return nil, nil, fmt.Errorf("generation %s records model %s but vectors carry %s", gen, meta.ModelID, modelID)
	}
	if len(chunks) != meta.ChunkCount || source.Len() != meta.ChunkCount {
		source.Close()
		return nil, nil, fmt.Errorf("generation %s is inconsistent: meta %d chunks, file %d, vectors %d",
			gen, meta.ChunkCount, len(chunks), source.Len())
	}

	idx, err := vecindex.Open(modelID, chunks, source)
	if err != nil {
		source.Close()
		return nil, nil, err
	}
	return idx, meta, nil
}

// LoadKBMeta returns the active generation's metadata without opening vectors.
func (s *Store) LoadKBMeta(issueID string) (*domain.KBMeta, error) {
	if _, err := s.GetIssue(issueID); err != nil {
		return nil, err
	}

	gen, err := s.readCurrent(issueID)
	if err != nil {
		return nil, err
	}
	return readMetaFile(filepath.Join(s.kbDir(issueID), gen, metaFile))
}

// LoadKBChunks returns the active generation's chunk records without opening
// vectors. Incremental builds reuse these records for files that were already
// indexed instead of re-reading the raw logs.
func (s *Store) LoadKBChunks(issueID string) ([]domain.Chunk, error) {
	if _, err := s.GetIssue(issueID); err != nil {
		return nil, err
	}

	gen, err := s.readCurrent(issueID)
	if err != nil {
		return nil, err
	}
	return readChunksFile(filepath.Join(s.kbDir(issueID), gen, chunksFile), issueID)
}

// SaveLastBuild persists the most recent build report, success or failure.
func (s *Store) SaveLastBuild(issueID string, report *domain.BuildReport) error {
	if _, err := s.GetIssue(issueID); err != nil {
		return err
	}
	if err := domain.ValidateBuildReport(report); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid build report", err)
	}

	rec := buildRecord{
		IssueID:        report.IssueID,
		ModelID:        report.ModelID,
		Status:         string(report.Status),
		ChunksTotal:    report.ChunksTotal,
		ChunksEmbedded: report.ChunksEmbedded,
		CacheHits:      report.CacheHits,
		CacheMisses:    report.CacheMisses,
		EmbedFailures:  report.EmbedFailures,
		NewFiles:       report.NewFiles,
		StartedAt:      report.StartedAt,
		DurationMS:     report.Duration.Milliseconds(),
		Error:          report.Error,
	}
	for _, bf := range report.FailedBatches {
		rec.FailedBatches = append(rec.FailedBatches, batchFailureRow(bf))
	}
	return writeJSONFile(s.lastBuildPath(issueID), rec)
}

// LoadLastBuild returns the most recent build report, or nil when the issue
// has never been built.
func (s *Store) LoadLastBuild(issueID string) (*domain.BuildReport, error) {
	if _, err := s.GetIssue(issueID); err != nil {
		return nil, err
	}

	var rec buildRecord
	if err := readJSONFile(s.lastBuildPath(issueID), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	report := &domain.BuildReport{
		IssueID:        rec.IssueID,
		ModelID:        rec.ModelID,
		Status:         domain.BuildStatus(rec.Status),
		ChunksTotal:    rec.ChunksTotal,
		ChunksEmbedded: rec.ChunksEmbedded,
		CacheHits:      rec.CacheHits,
		CacheMisses:    rec.CacheMisses,
		EmbedFailures:  rec.EmbedFailures,
		NewFiles:       rec.NewFiles,
		StartedAt:      rec.StartedAt,
		Duration:       time.Duration(rec.DurationMS) * time.Millisecond,
		Error:          rec.Error,
	}
	for _, bf := range rec.FailedBatches {
		report.FailedBatches = append(report.FailedBatches, domain.BatchFailure(bf))
	}
	return report, nil
}

func writeChunksFile(path string, chunks []domain.Chunk) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create chunks file: %w", err)
	}

	w := bufio.NewWriter(f)
	for i := range chunks {
		row := chunkRow{
			ChunkID:     chunks[i].ID,
			SourceFile:  chunks[i].SourceFile,
			LineStart:   chunks[i].LineStart,
			LineEnd:     chunks[i].LineEnd,
			Text:        chunks[i].Text,
			ContentHash: chunks[i].ContentHash,
		}
		data, err := json.Marshal(row)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to encode chunk row: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("failed to write chunk row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush chunks file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync chunks file: %w", err)
	}
	return f.Close()
}

func readChunksFile(path, issueID string) ([]domain.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunks file: %w", err)
	}
	defer f.Close()

	var chunks []domain.Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row chunkRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("failed to decode chunk row %d: %w", len(chunks), err)
		}
		chunks = append(chunks, domain.Chunk{
			ID:          row.ChunkID,
			IssueID:     issueID,
			SourceFile:  row.SourceFile,
			LineStart:   row.LineStart,
			LineEnd:     row.LineEnd,
			Text:        row.Text,
			ContentHash: row.ContentHash,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}
	return chunks, nil
}

func readMetaFile(path string) (*domain.KBMeta, error) {
	var rec metaRecord
	if err := readJSONFile(path, &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrKnowledgeBaseNotBuilt
		}
		return nil, err
	}
	return &domain.KBMeta{
		ModelID:     rec.ModelID,
		Dimension:   rec.Dimension,
		ChunkCount:  rec.ChunkCount,
		SourceFiles: rec.SourceFiles,
		BuiltAt:     rec.BuiltAt,
	}, nil
}
