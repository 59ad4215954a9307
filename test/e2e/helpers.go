//go:build e2e

// Package e2e exercises the public HTTP surface against a real server: the
// production router and service stack on a temporary data directory, served
// over a local TCP port. Embeddings come from the in-process local provider
// and completions from a scripted generator, so the suite needs no network
// access, API keys, or containers.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seerstack/logseer/internal/api/handlers"
	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/embedcache"
	"github.com/seerstack/logseer/internal/jobs"
	"github.com/seerstack/logseer/internal/kbstore"
	"github.com/seerstack/logseer/internal/provider"
	"github.com/seerstack/logseer/internal/server"
	"github.com/seerstack/logseer/internal/service"
	"github.com/seerstack/logseer/internal/session"
)

const (
	embeddingModelID = "local:term-hash-256"
	llmModelID       = "gemini:gemini-2.0-flash"
)

// scriptedReply is the generator double's default completion, in the JSON
// shape the answer service parses.
const scriptedReply = `{"answer": "The checkout failures trace back to database connection timeouts in the payment service.", "references": [1]}`

// E2ETestEnv holds a running server and everything needed to call it.
type E2ETestEnv struct {
	T          *testing.T
	Ctx        context.Context
	DataDir    string
	ServerURL  string
	HTTPClient *http.Client

	// Generator backs every ask request; tests reprogram it to exercise
	// retry and fallback behavior.
	Generator *scriptedGenerator

	cancel    context.CancelFunc
	server    *http.Server
	workers   *jobs.Pool
	fileCache *embedcache.FileStore
}

// SetupE2EEnv assembles the service stack on a temporary data directory and
// starts an HTTP server on a free port.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	dataDir := t.TempDir()

	store, err := kbstore.NewStore(dataDir, 64<<20)
	require.NoError(t, err)

	fileCache, err := embedcache.OpenFileStore(
		filepath.Join(dataDir, "cache", "embeddings.jsonl"), 10000)
	require.NoError(t, err)
	cache := embedcache.WrapLRU(fileCache, 512, time.Minute)

	issueSvc, err := service.NewIssueService(store, service.UploadConfig{
		MaxBytes:    1 << 20,
		AllowedExts: []string{".log", ".txt"},
	})
	require.NoError(t, err)

	adapter, err := service.NewEmbeddingAdapter(service.EmbedConfig{
		BatchSize:   8,
		MaxAttempts: 2,
		RetryBase:   10 * time.Millisecond,
		CallTimeout: 5 * time.Second,
		Concurrency: 2,
	})
	require.NoError(t, err)

	newEmbedder := func(model domain.ModelID) (service.Embedder, error) {
		return provider.New(model, provider.Config{})
	}

	embeddingModel, err := domain.ParseModelID(embeddingModelID)
	require.NoError(t, err)

	// Small chunks so a handful of log lines yield several of them.
	kbManager, err := service.NewKBManager(store, cache, adapter, newEmbedder,
		service.ChunkConfig{ChunkSize: 160, Overlap: 32}, embeddingModel)
	require.NoError(t, err)

	retriever, err := service.NewRetriever(store, adapter, newEmbedder, 5)
	require.NoError(t, err)

	history, err := session.NewHistory(store, 50)
	require.NoError(t, err)

	gen := &scriptedGenerator{model: llmModelID, reply: scriptedReply}
	newGenerator := func(model domain.ModelID) (service.Generator, error) {
		return gen, nil
	}

	llmModel, err := domain.ParseModelID(llmModelID)
	require.NoError(t, err)

	answerSvc, err := service.NewAnswerService(retriever, newGenerator, service.AnswerConfig{
		MaxAttempts: 2,
		RetryBase:   10 * time.Millisecond,
		CallTimeout: 5 * time.Second,
	}, llmModel)
	require.NoError(t, err)
	answerSvc = answerSvc.WithChatHistory(history)

	queue := jobs.NewBuildQueue()
	processor := jobs.NewBuildProcessor(queue, kbManager)
	workers := jobs.NewPool(2, processor, 20*time.Millisecond)
	workers.Start(ctx)

	router := server.NewRouter(server.RouterConfig{
		IssueHandler:  handlers.NewIssueHandler(issueSvc, queue),
		LogHandler:    handlers.NewLogHandler(issueSvc),
		BuildHandler:  handlers.NewBuildHandler(queue, issueSvc, store),
		QueryHandler:  handlers.NewQueryHandler(answerSvc),
		ChatHandler:   handlers.NewChatHandler(history),
		ModelsHandler: handlers.NewModelsHandler(embeddingModelID, llmModelID),
		MaxBodyBytes:  1 << 20,
	})

	port, err := getFreePort()
	require.NoError(t, err)

	srv := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", port),
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		DataDir:    dataDir,
		ServerURL:  serverURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Generator:  gen,
		cancel:     cancel,
		server:     srv,
		workers:    workers,
		fileCache:  fileCache,
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(ctx)
	}
	if e.workers != nil {
		e.workers.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.fileCache != nil {
		e.fileCache.Close()
	}
}

// scriptedGenerator satisfies service.Generator with canned completions so
// ask flows run without a real model behind them.
type scriptedGenerator struct {
	model string

	mu    sync.Mutex
	reply string
	err   error
	calls int
}

// script sets the completion, or the error, returned by subsequent calls.
func (g *scriptedGenerator) script(reply string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reply = reply
	g.err = err
}

// Calls reports how many completions have been requested.
func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *scriptedGenerator) ModelID() string { return g.model }

// APIResponse is the server's response envelope.
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Get performs a GET request against the server.
func (e *E2ETestEnv) Get(t *testing.T, path string) (int, APIResponse) {
	t.Helper()
	return e.doRequest(t, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body against the server.
func (e *E2ETestEnv) Post(t *testing.T, path string, body interface{}) (int, APIResponse) {
	t.Helper()
	return e.doRequest(t, http.MethodPost, path, body)
}

// Delete performs a DELETE request against the server.
func (e *E2ETestEnv) Delete(t *testing.T, path string) (int, APIResponse) {
	t.Helper()
	return e.doRequest(t, http.MethodDelete, path, nil)
}

func (e *E2ETestEnv) doRequest(t *testing.T, method, path string, body interface{}) (int, APIResponse) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.HTTPClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var apiResp APIResponse
	if len(respBody) > 0 {
		require.NoError(t, json.Unmarshal(respBody, &apiResp),
			"unexpected response body: %s", respBody)
	}
	return resp.StatusCode, apiResp
}

// Upload posts content as one multipart log file.
func (e *E2ETestEnv) Upload(t *testing.T, issueID, name, content string) (int, APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req, err := http.NewRequest(http.MethodPost,
		e.ServerURL+"/v1/issues/"+issueID+"/logs", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := e.HTTPClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var apiResp APIResponse
	if len(respBody) > 0 {
		require.NoError(t, json.Unmarshal(respBody, &apiResp),
			"unexpected response body: %s", respBody)
	}
	return resp.StatusCode, apiResp
}

// unmarshalData decodes the envelope's data payload into out.
func unmarshalData(t *testing.T, resp APIResponse, out interface{}) {
	t.Helper()
	require.NotEmpty(t, resp.Data, "expected data in response, got error: %s", resp.Error)
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

// buildJob mirrors the build job payload returned by the API.
type buildJob struct {
	JobID      string       `json:"job_id"`
	IssueID    string       `json:"issue_id"`
	ModelID    string       `json:"model_id"`
	Force      bool         `json:"force"`
	Status     string       `json:"status"`
	Stage      string       `json:"stage"`
	StageDone  int          `json:"stage_done"`
	StageTotal int          `json:"stage_total"`
	EnqueuedAt string       `json:"enqueued_at"`
	Error      string       `json:"error"`
	Report     *buildReport `json:"report"`
}

// buildReport mirrors the build report payload returned by the API.
type buildReport struct {
	IssueID        string   `json:"issue_id"`
	ModelID        string   `json:"model_id"`
	Status         string   `json:"status"`
	ChunksTotal    int      `json:"chunks_total"`
	ChunksEmbedded int      `json:"chunks_embedded"`
	CacheHits      int      `json:"cache_hits"`
	CacheMisses    int      `json:"cache_misses"`
	EmbedFailures  int      `json:"embed_failures"`
	NewFiles       []string `json:"new_files"`
	StartedAt      string   `json:"started_at"`
	DurationMS     int64    `json:"duration_ms"`
	Error          string   `json:"error"`
}

// waitForBuild polls the latest build until it reaches a terminal status.
func (e *E2ETestEnv) waitForBuild(t *testing.T, issueID string) buildJob {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		status, resp := e.Get(t, "/v1/issues/"+issueID+"/builds/latest")
		require.Equal(t, http.StatusOK, status)

		var job buildJob
		unmarshalData(t, resp, &job)
		if job.Status == "succeeded" || job.Status == "failed" {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("build did not finish within 30s")
	return buildJob{}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
