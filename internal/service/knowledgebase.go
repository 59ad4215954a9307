package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/telemetry"
)

// Build stages reported through UpdateOptions.Progress.
const (
	StageChunk   = "chunk"
	StageResolve = "resolve"
	StageEmbed   = "embed"
	StageCommit  = "commit"
)

// IssueStore is the per-issue state a build reads and writes. Satisfied by
// kbstore.Store.
type IssueStore interface {
	GetIssue(issueID string) (*domain.Issue, error)
	ListRawLogs(issueID string) ([]domain.RawLog, error)
	ReadRawLog(issueID, name string) (string, error)
	LoadKBMeta(issueID string) (*domain.KBMeta, error)
	LoadKBChunks(issueID string) ([]domain.Chunk, error)
	CommitKB(issueID string, meta domain.KBMeta, chunks []domain.Chunk, vectors [][]float32) error
	SaveLastBuild(issueID string, report *domain.BuildReport) error
}

// EmbeddingCache resolves (content hash, model) pairs to vectors.
type EmbeddingCache interface {
	Get(ctx context.Context, contentHash, modelID string) ([]float32, bool, error)
	Put(ctx context.Context, rec *domain.EmbeddingRecord) error
}

// EmbedderFactory resolves a model id to a ready provider client.
type EmbedderFactory func(model domain.ModelID) (Embedder, error)

// ProgressFunc receives coarse stage updates while a build runs.
type ProgressFunc func(stage string, done, total int)

// UpdateOptions control a single knowledge base build.
type UpdateOptions struct {
	// Model overrides the configured default embedding model.
	Model domain.ModelID
	// Force rebuilds every chunk from the raw logs and skips cache reads.
	// Modified content in an already indexed file is only picked up under
	// Force; incremental builds look at newly added files exclusively.
	Force bool
	// Progress, when set, is called as the build moves through its stages.
	Progress ProgressFunc
}

// KBManager owns the knowledge base build pipeline: it walks an issue's raw
// logs through chunking, the embedding cache, the provider adapter and the
// vector index, and commits the result as one atomic generation. Builds for
// one issue are serialized; builds for different issues run in parallel.
type KBManager struct {
	store        IssueStore
	cache        EmbeddingCache
	adapter      *EmbeddingAdapter
	newEmbedder  EmbedderFactory
	chunkCfg     ChunkConfig
	defaultModel domain.ModelID

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKBManager creates a new KBManager instance.
func NewKBManager(
	store IssueStore,
	cache EmbeddingCache,
	adapter *EmbeddingAdapter,
	newEmbedder EmbedderFactory,
	chunkCfg ChunkConfig,
	defaultModel domain.ModelID,
) (*KBManager, error) {
	if err := chunkCfg.Validate(); err != nil {
		return nil, err
	}
	if defaultModel.IsZero() {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "default embedding model is required")
	}
	return &KBManager{
		store:        store,
		cache:        cache,
		adapter:      adapter,
		newEmbedder:  newEmbedder,
		chunkCfg:     chunkCfg,
		defaultModel: defaultModel,
		locks:        make(map[string]*sync.Mutex),
	}, nil
}

// Update builds or extends the knowledge base for one issue.
//
// With an existing knowledge base on the same model and Force unset, the
// build is incremental: chunk records of already indexed files are reused
// as stored, only newly uploaded files are chunked, and every chunk resolves
// through the embedding cache so prior work is never re-embedded. Force, or
// a model different from the committed one, re-chunks everything and treats
// every chunk as a cache miss.
//
// Any embedding batch that exhausts its retries fails the whole build: no
// partial index is ever committed and the previous generation stays active.
// Vectors embedded before the failure were already written to the cache, so
// a retried Update picks them up as hits.
func (m *KBManager) Update(ctx context.Context, issueID string, opts UpdateOptions) (*domain.BuildReport, error) {
	model := opts.Model
	if model.IsZero() {
		model = m.defaultModel
	}

	ctx, span := telemetry.StartSpan(ctx, "KBManager.Update", telemetry.SpanAttributes{
		IssueID:   issueID,
		Model:     model.String(),
		Operation: "update",
	})
	defer span.End()

	lock := m.issueLock(issueID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.GetIssue(issueID); err != nil {
		return nil, err
	}
	embedder, err := m.newEmbedder(model)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.LoadKBMeta(issueID)
	if err != nil && !errors.Is(err, domain.ErrKnowledgeBaseNotBuilt) {
		return nil, err
	}
	files, err := m.store.ListRawLogs(issueID)
	if err != nil {
		return nil, err
	}

	report := domain.NewBuildReport(issueID, model.String(), time.Now().UTC())

	sameModel := existing != nil && existing.ModelID == model.String()
	incremental := !opts.Force && sameModel

	var (
		chunks      []domain.Chunk
		sourceFiles []string
	)
	if incremental {
		var newFiles []string
		for _, f := range files {
			if !existing.HasSourceFile(f.Name) {
				newFiles = append(newFiles, f.Name)
			}
		}
		if len(newFiles) == 0 {
			// Every registered file is already indexed under this model.
			report.ChunksTotal = existing.ChunkCount
			m.finalize(ctx, report, domain.BuildStatusSucceeded, nil)
			return report, nil
		}

		chunks, err = m.store.LoadKBChunks(issueID)
		if err != nil {
			return nil, err
		}
		newChunks, err := m.chunkFiles(issueID, newFiles, opts.Progress)
		if err != nil {
			m.finalize(ctx, report, domain.BuildStatusFailed, err)
			return report, err
		}
		chunks = append(chunks, newChunks...)
		sourceFiles = append(append(sourceFiles, existing.SourceFiles...), newFiles...)
		report.NewFiles = newFiles
	} else {
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = f.Name
		}
		chunks, err = m.chunkFiles(issueID, names, opts.Progress)
		if err != nil {
			m.finalize(ctx, report, domain.BuildStatusFailed, err)
			return report, err
		}
		sourceFiles = names
		report.NewFiles = names
	}
	report.ChunksTotal = len(chunks)

	// Resolve every chunk against the cache. A model switch or Force treats
	// the full set as misses so the new index never mixes vector spaces.
	consultCache := !opts.Force && (existing == nil || sameModel)

	vectors := make([][]float32, len(chunks))
	var missIdx []int
	for i := range chunks {
		if consultCache {
			vec, ok, getErr := m.cache.Get(ctx, chunks[i].ContentHash, model.String())
			if getErr != nil {
				log.Printf("knowledgebase: cache read failed for issue %s: %v", issueID, getErr)
			} else if ok {
				vectors[i] = vec
				report.CacheHits++
				continue
			}
		}
		missIdx = append(missIdx, i)
	}
	report.CacheMisses = len(missIdx)
	emit(opts.Progress, StageResolve, len(chunks), len(chunks))

	missTexts := make([]string, len(missIdx))
	for j, idx := range missIdx {
		missTexts[j] = chunks[idx].Text
	}

	onBatch := func(start int, batch [][]float32) error {
		for j := range batch {
			idx := missIdx[start+j]
			vec := batch[j]

			rec := domain.NewEmbeddingRecord(chunks[idx].ContentHash, model.String(), vec, time.Now().UTC())
			if putErr := m.cache.Put(ctx, rec); putErr != nil {
				if !errors.Is(putErr, domain.ErrCacheConflict) {
					return fmt.Errorf("failed to cache embedding: %w", putErr)
				}
				// The cache already holds a different vector for this
				// content. The cached value stays authoritative so the
				// index never disagrees with it.
				telemetry.CaptureError(ctx, putErr)
				log.Printf("knowledgebase: cache conflict for chunk %s under %s, keeping cached vector",
					chunks[idx].ID, model.String())
				if orig, ok, getErr := m.cache.Get(ctx, chunks[idx].ContentHash, model.String()); getErr == nil && ok {
					vec = orig
				}
			}
			vectors[idx] = vec
		}
		emit(opts.Progress, StageEmbed, start+len(batch), len(missTexts))
		return nil
	}

	failures, err := m.adapter.EmbedAll(ctx, embedder, missTexts, onBatch)
	if err != nil {
		m.finalize(ctx, report, domain.BuildStatusFailed, err)
		return report, err
	}
	if len(failures) > 0 {
		report.FailedBatches = failures
		for _, f := range failures {
			report.EmbedFailures += f.End - f.Start
		}
		buildErr := domain.NewDomainError(domain.ErrCodeBuildFailure,
			fmt.Sprintf("%d of %d chunks failed to embed; the previous knowledge base remains active",
				report.EmbedFailures, len(missTexts)))
		m.finalize(ctx, report, domain.BuildStatusFailed, buildErr)
		return report, buildErr
	}
	report.ChunksEmbedded = len(missTexts)

	meta := domain.KBMeta{
		ModelID:     model.String(),
		Dimension:   embedder.Dimension(),
		ChunkCount:  len(chunks),
		SourceFiles: sourceFiles,
		BuiltAt:     time.Now().UTC(),
	}
	if err := m.store.CommitKB(issueID, meta, chunks, vectors); err != nil {
		m.finalize(ctx, report, domain.BuildStatusFailed, err)
		return report, err
	}
	emit(opts.Progress, StageCommit, 1, 1)

	m.finalize(ctx, report, domain.BuildStatusSucceeded, nil)
	return report, nil
}

// chunkFiles reads and chunks the named raw logs in order.
func (m *KBManager) chunkFiles(issueID string, names []string, progress ProgressFunc) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	for i, name := range names {
		text, err := m.store.ReadRawLog(issueID, name)
		if err != nil {
			return nil, err
		}
		fileChunks, err := ChunkLogFile(issueID, name, text, m.chunkCfg)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, fileChunks...)
		emit(progress, StageChunk, i+1, len(names))
	}
	return chunks, nil
}

// finalize stamps status and duration on the report and records it as the
// issue's last build.
func (m *KBManager) finalize(ctx context.Context, report *domain.BuildReport, status domain.BuildStatus, buildErr error) {
	report.Status = status
	report.Duration = time.Since(report.StartedAt)
	if buildErr != nil {
		report.Error = buildErr.Error()
		if !errors.Is(buildErr, context.Canceled) {
			telemetry.CaptureError(ctx, buildErr)
		}
	}
	if err := m.store.SaveLastBuild(report.IssueID, report); err != nil {
		log.Printf("knowledgebase: failed to record build report for issue %s: %v", report.IssueID, err)
	}
}

// issueLock returns the mutex serializing builds for one issue.
func (m *KBManager) issueLock(issueID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[issueID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[issueID] = lock
	}
	return lock
}

func emit(progress ProgressFunc, stage string, done, total int) {
	if progress != nil {
		progress(stage, done, total)
	}
}
