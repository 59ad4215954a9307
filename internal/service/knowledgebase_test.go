package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/embedcache"
	"github.com/seerstack/logseer/internal/kbstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kbHarnessDim = 4

var (
	localTestModel = domain.ModelID{Provider: "local", Name: "term-hash-256"}
	kbTestChunkCfg = ChunkConfig{ChunkSize: 40, Overlap: 10}
)

// vecFor derives a deterministic pseudo-embedding from text so tests can
// predict exactly which vector every chunk receives.
func vecFor(dim int, text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000 + 0.001
	}
	return vec
}

func hashRespond(dim int) func(int, []string) ([][]float32, error) {
	return func(_ int, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = vecFor(dim, text)
		}
		return out, nil
	}
}

func logLines(marker string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s event %02d ok\n", marker, i)
	}
	return b.String()
}

type kbHarness struct {
	store   *kbstore.Store
	cache   *embedcache.FileStore
	emb     *fakeEmbedder
	manager *KBManager
}

func newKBHarness(t *testing.T) *kbHarness {
	t.Helper()
	dir := t.TempDir()

	store, err := kbstore.NewStore(dir, 0)
	require.NoError(t, err)

	cache, err := embedcache.OpenFileStore(filepath.Join(dir, "cache.jsonl"), 10000)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	emb := newFakeEmbedder(kbHarnessDim)
	emb.respond = hashRespond(kbHarnessDim)

	adapter, err := NewEmbeddingAdapter(EmbedConfig{
		BatchSize:   2,
		MaxAttempts: 2,
		RetryBase:   0,
		CallTimeout: time.Second,
		Concurrency: 2,
	})
	require.NoError(t, err)

	h := &kbHarness{store: store, cache: cache, emb: emb}
	manager, err := NewKBManager(store, cache, adapter,
		func(domain.ModelID) (Embedder, error) { return h.emb, nil },
		kbTestChunkCfg, localTestModel)
	require.NoError(t, err)
	h.manager = manager
	return h
}

func (h *kbHarness) addLog(t *testing.T, issueID, name, text string) {
	t.Helper()
	if _, err := h.store.GetIssue(issueID); err != nil {
		_, err = h.store.CreateIssue(issueID)
		require.NoError(t, err)
	}
	_, err := h.store.SaveRawLog(issueID, name, strings.NewReader(text))
	require.NoError(t, err)
}

func failureSpan(failures []domain.BatchFailure) int {
	total := 0
	for _, f := range failures {
		total += f.End - f.Start
	}
	return total
}

func TestNewKBManager_Validation(t *testing.T) {
	h := newKBHarness(t)
	adapter, err := NewEmbeddingAdapter(DefaultEmbedConfig())
	require.NoError(t, err)
	factory := func(domain.ModelID) (Embedder, error) { return newFakeEmbedder(kbHarnessDim), nil }

	_, err = NewKBManager(h.store, h.cache, adapter, factory,
		ChunkConfig{ChunkSize: 10, Overlap: 20}, localTestModel)
	assert.ErrorIs(t, err, domain.ErrInvalidOverlap)

	_, err = NewKBManager(h.store, h.cache, adapter, factory, kbTestChunkCfg, domain.ModelID{})
	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeConfiguration, domainErr.Code)
}

func TestKBManager_Update_FreshBuild(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "app.log", logLines("alpha", 6))

	report, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.BuildStatusSucceeded, report.Status)
	assert.Equal(t, "local:term-hash-256", report.ModelID)
	assert.Greater(t, report.ChunksTotal, 1)
	assert.Equal(t, report.ChunksTotal, report.CacheMisses)
	assert.Zero(t, report.CacheHits)
	assert.Equal(t, report.ChunksTotal, report.ChunksEmbedded)
	assert.Equal(t, []string{"app.log"}, report.NewFiles)
	assert.Empty(t, report.FailedBatches)

	idx, meta, err := h.store.LoadKB("issue-1")
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, report.ChunksTotal, meta.ChunkCount)
	assert.Equal(t, []string{"app.log"}, meta.SourceFiles)
	assert.Equal(t, kbHarnessDim, meta.Dimension)

	// Querying with a stored chunk's exact vector must return that chunk
	// first with a perfect score.
	chunks, err := ChunkLogFile("issue-1", "app.log", logLines("alpha", 6), kbTestChunkCfg)
	require.NoError(t, err)
	entries, err := idx.Search(vecFor(kbHarnessDim, chunks[1].Text), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, chunks[1].ID, entries[0].Chunk.ID)
	assert.InDelta(t, 1.0, entries[0].Score, 1e-6)

	last, err := h.store.LoadLastBuild("issue-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSucceeded, last.Status)
}

func TestKBManager_Update_IssueNotFound(t *testing.T) {
	h := newKBHarness(t)

	_, err := h.manager.Update(context.Background(), "ghost", UpdateOptions{})

	assert.ErrorIs(t, err, domain.ErrIssueNotFound)
}

func TestKBManager_Update_EmptyIssueBuildsEmptyKB(t *testing.T) {
	h := newKBHarness(t)
	_, err := h.store.CreateIssue("issue-1")
	require.NoError(t, err)

	report, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSucceeded, report.Status)
	assert.Zero(t, report.ChunksTotal)

	idx, meta, err := h.store.LoadKB("issue-1")
	require.NoError(t, err)
	defer idx.Close()
	assert.Zero(t, meta.ChunkCount)

	entries, err := idx.Search(vecFor(kbHarnessDim, "anything"), 3)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestKBManager_Update_NoopWhenNothingNew(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "app.log", logLines("alpha", 6))

	first, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)
	metaBefore, err := h.store.LoadKBMeta("issue-1")
	require.NoError(t, err)
	calls := h.emb.callCount()

	second, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.BuildStatusSucceeded, second.Status)
	assert.Equal(t, first.ChunksTotal, second.ChunksTotal)
	assert.Zero(t, second.CacheMisses)
	assert.Zero(t, second.ChunksEmbedded)
	assert.Equal(t, calls, h.emb.callCount())

	metaAfter, err := h.store.LoadKBMeta("issue-1")
	require.NoError(t, err)
	assert.Equal(t, metaBefore.BuiltAt, metaAfter.BuiltAt)
}

func TestKBManager_Update_IncrementalEmbedsOnlyNewFiles(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "a.log", logLines("alpha", 6))

	first, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)
	callsAfterFirst := h.emb.callCount()

	h.addLog(t, "issue-1", "b.log", logLines("beta", 6))
	second, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)

	assert.Equal(t, domain.BuildStatusSucceeded, second.Status)
	assert.Equal(t, []string{"b.log"}, second.NewFiles)
	// Chunks of the already indexed file resolve as cache hits; only the new
	// file's chunks reach the provider.
	assert.Equal(t, first.ChunksTotal, second.CacheHits)
	assert.Equal(t, second.ChunksTotal-first.ChunksTotal, second.CacheMisses)
	assert.Equal(t, second.CacheMisses, second.ChunksEmbedded)

	for _, batch := range h.emb.batches[callsAfterFirst:] {
		for _, text := range batch {
			assert.Contains(t, text, "beta")
		}
	}

	meta, err := h.store.LoadKBMeta("issue-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.log", "b.log"}, meta.SourceFiles)
	assert.Equal(t, second.ChunksTotal, meta.ChunkCount)
}

func TestKBManager_Update_ForceRebuildBypassesCacheReads(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "app.log", logLines("alpha", 6))

	first, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)

	second, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{Force: true})
	require.NoError(t, err)

	assert.Zero(t, second.CacheHits)
	assert.Equal(t, first.ChunksTotal, second.CacheMisses)
	assert.Equal(t, first.ChunksTotal, second.ChunksEmbedded)
}

func TestKBManager_Update_ModelSwitchReplacesIndex(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "app.log", logLines("alpha", 6))

	first, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)

	h.emb = newFakeEmbedder(6)
	h.emb.respond = hashRespond(6)

	second, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{
		Model: domain.ModelID{Provider: "openai", Name: "text-embedding-3-small"},
	})
	require.NoError(t, err)

	// A different model never reuses cached vectors.
	assert.Zero(t, second.CacheHits)
	assert.Equal(t, first.ChunksTotal, second.CacheMisses)
	assert.Equal(t, "openai:text-embedding-3-small", second.ModelID)

	meta, err := h.store.LoadKBMeta("issue-1")
	require.NoError(t, err)
	assert.Equal(t, "openai:text-embedding-3-small", meta.ModelID)
	assert.Equal(t, 6, meta.Dimension)
	assert.Equal(t, first.ChunksTotal, meta.ChunkCount)
}

func TestKBManager_Update_FailedBatchLeavesPreviousGeneration(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "a.log", logLines("alpha", 6))

	_, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)
	metaBefore, err := h.store.LoadKBMeta("issue-1")
	require.NoError(t, err)

	// The tail of the new file poisons one embedding batch.
	h.addLog(t, "issue-1", "b.log", logLines("beta", 9)+"beta poison breaks embedding here\n")
	h.emb.respond = func(call int, texts []string) ([][]float32, error) {
		for _, text := range texts {
			if strings.Contains(text, "poison") {
				return nil, errors.New("upstream rejects batch")
			}
		}
		return hashRespond(kbHarnessDim)(call, texts)
	}

	report, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeBuildFailure, domainErr.Code)
	assert.Equal(t, domain.BuildStatusFailed, report.Status)
	require.NotEmpty(t, report.FailedBatches)
	assert.Equal(t, failureSpan(report.FailedBatches), report.EmbedFailures)

	// The committed knowledge base is untouched by the failed attempt.
	metaAfter, err := h.store.LoadKBMeta("issue-1")
	require.NoError(t, err)
	assert.Equal(t, metaBefore, metaAfter)

	last, err := h.store.LoadLastBuild("issue-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusFailed, last.Status)
	assert.NotEmpty(t, last.Error)

	// A retry reuses every batch cached during the failed attempt and only
	// embeds the chunks of the batch that failed.
	h.emb.respond = hashRespond(kbHarnessDim)
	retry, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSucceeded, retry.Status)
	assert.Equal(t, report.EmbedFailures, retry.CacheMisses)
	assert.Equal(t, retry.ChunksTotal-report.EmbedFailures, retry.CacheHits)

	idx, meta, err := h.store.LoadKB("issue-1")
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, retry.ChunksTotal, meta.ChunkCount)
}

func TestKBManager_Update_CancelledBuildCommitsNothing(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "app.log", logLines("alpha", 12))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.emb.respond = func(call int, texts []string) ([][]float32, error) {
		cancel()
		return hashRespond(kbHarnessDim)(call, texts)
	}

	report, err := h.manager.Update(ctx, "issue-1", UpdateOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.BuildStatusFailed, report.Status)
	assert.Equal(t, 1, h.emb.callCount())

	// Nothing was committed, but the completed batch stays cached for the
	// next attempt.
	_, err = h.store.LoadKBMeta("issue-1")
	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseNotBuilt)

	chunks, err := ChunkLogFile("issue-1", "app.log", logLines("alpha", 12), kbTestChunkCfg)
	require.NoError(t, err)
	_, ok, err := h.cache.Get(context.Background(), chunks[0].ContentHash, localTestModel.String())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKBManager_Update_CacheConflictKeepsCachedVector(t *testing.T) {
	h := newKBHarness(t)
	line := "conflict probe line"
	h.addLog(t, "issue-1", "app.log", line+"\n")

	cached := []float32{1, 0, 0, 0}
	rec := domain.NewEmbeddingRecord(domain.HashContent(line), localTestModel.String(), cached, time.Now().UTC())
	require.NoError(t, h.cache.Put(context.Background(), rec))

	h.emb.respond = func(int, []string) ([][]float32, error) {
		return [][]float32{{0, 1, 0, 0}}, nil
	}

	// Force skips cache reads, so the provider runs and its conflicting
	// answer is rejected in favor of the already cached vector.
	report, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSucceeded, report.Status)

	idx, _, err := h.store.LoadKB("issue-1")
	require.NoError(t, err)
	defer idx.Close()

	entries, err := idx.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 1.0, entries[0].Score, 1e-6)
}

func TestKBManager_Update_SerializesSameIssueBuilds(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "app.log", logLines("alpha", 12))

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	h.emb.respond = func(call int, texts []string) ([][]float32, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return hashRespond(kbHarnessDim)(call, texts)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{Force: true})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	// Builds for one issue never overlap, so their provider calls cannot
	// either, even though the adapter itself allows two in flight.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
}

func TestKBManager_Update_ParallelAcrossIssues(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-a", "a.log", "alpha single line\n")
	h.addLog(t, "issue-b", "b.log", "beta single line\n")

	// Issue a's only batch blocks until issue b's build finishes; the test
	// deadlocks into a failure unless different issues build in parallel.
	done := make(chan struct{})
	h.emb.respond = func(call int, texts []string) ([][]float32, error) {
		if strings.Contains(texts[0], "alpha") {
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				return nil, errors.New("parallel build never finished")
			}
		}
		return hashRespond(kbHarnessDim)(call, texts)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() {
		defer wg.Done()
		_, errA = h.manager.Update(context.Background(), "issue-a", UpdateOptions{})
	}()
	go func() {
		defer wg.Done()
		_, errB = h.manager.Update(context.Background(), "issue-b", UpdateOptions{})
		close(done)
	}()
	wg.Wait()

	assert.NoError(t, errA)
	assert.NoError(t, errB)
}

func TestKBManager_Update_ReportsProgressStages(t *testing.T) {
	h := newKBHarness(t)
	h.addLog(t, "issue-1", "app.log", logLines("alpha", 6))

	var stages []string
	_, err := h.manager.Update(context.Background(), "issue-1", UpdateOptions{
		Progress: func(stage string, done, total int) {
			if len(stages) == 0 || stages[len(stages)-1] != stage {
				stages = append(stages, stage)
			}
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{StageChunk, StageResolve, StageEmbed, StageCommit}, stages)
}
