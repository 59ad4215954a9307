package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/jobs"
	"github.com/seerstack/logseer/internal/pagination"
)

type MockIssueService struct {
	mock.Mock
}

func (m *MockIssueService) Create(ctx context.Context, issueID string) (*domain.Issue, error) {
	args := m.Called(ctx, issueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Issue), args.Error(1)
}

func (m *MockIssueService) Get(ctx context.Context, issueID string) (*domain.Issue, error) {
	args := m.Called(ctx, issueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Issue), args.Error(1)
}

func (m *MockIssueService) List(ctx context.Context, cursor string, limit int) (pagination.PageResult[*domain.Issue], error) {
	args := m.Called(ctx, cursor, limit)
	return args.Get(0).(pagination.PageResult[*domain.Issue]), args.Error(1)
}

func (m *MockIssueService) Delete(ctx context.Context, issueID string) error {
	args := m.Called(ctx, issueID)
	return args.Error(0)
}

func (m *MockIssueService) Stats(ctx context.Context, issueID string) (*domain.IssueStats, error) {
	args := m.Called(ctx, issueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IssueStats), args.Error(1)
}

type MockBuildTracker struct {
	mock.Mock
}

func (m *MockBuildTracker) Latest(issueID string) (jobs.BuildJob, bool) {
	args := m.Called(issueID)
	return args.Get(0).(jobs.BuildJob), args.Bool(1)
}

func newTestIssue(id string) *domain.Issue {
	return domain.NewIssue(id, time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
}

// routeRequest builds a request carrying the {id} URL parameter the way chi
// would after routing.
func routeRequest(method, url, id string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, url, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestIssueHandler_Create_Success(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	mockSvc.On("Create", mock.Anything, "issue-1").Return(newTestIssue("issue-1"), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/issues", bytes.NewReader([]byte(`{"name":"issue-1"}`)))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "issue-1", data["id"])
	assert.Equal(t, "2026-03-14T09:30:00Z", data["created_at"])
	mockSvc.AssertExpectations(t)
}

func TestIssueHandler_Create_InvalidJSON(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/issues", bytes.NewReader([]byte(`{invalid`)))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestIssueHandler_Create_MissingName(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/issues", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name is required")
}

func TestIssueHandler_Create_AlreadyExists(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	mockSvc.On("Create", mock.Anything, "issue-1").Return(nil, domain.ErrIssueAlreadyExists)

	req := httptest.NewRequest(http.MethodPost, "/v1/issues", bytes.NewReader([]byte(`{"name":"issue-1"}`)))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrCodeAlreadyExists)
	mockSvc.AssertExpectations(t)
}

func TestIssueHandler_Get_Success(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	builtAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	mockSvc.On("Get", mock.Anything, "issue-1").Return(newTestIssue("issue-1"), nil)
	mockSvc.On("Stats", mock.Anything, "issue-1").Return(&domain.IssueStats{
		IssueID:    "issue-1",
		FileCount:  3,
		TotalBytes: 4096,
		ChunkCount: 42,
		ModelID:    "local:term-hash-256",
		KBBuiltAt:  builtAt,
		LastBuild: &domain.BuildReport{
			IssueID:     "issue-1",
			ModelID:     "local:term-hash-256",
			Status:      domain.BuildStatusSucceeded,
			ChunksTotal: 42,
			StartedAt:   builtAt,
			Duration:    1500 * time.Millisecond,
		},
	}, nil)

	req := routeRequest(http.MethodGet, "/v1/issues/issue-1", "issue-1", nil)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "issue-1", data["id"])
	assert.Equal(t, float64(3), data["file_count"])
	assert.Equal(t, float64(4096), data["total_bytes"])
	assert.Equal(t, float64(42), data["chunk_count"])
	assert.Equal(t, "local:term-hash-256", data["model_id"])
	assert.Equal(t, "2026-03-14T10:00:00Z", data["kb_built_at"])
	lastBuild := data["last_build"].(map[string]interface{})
	assert.Equal(t, "succeeded", lastBuild["status"])
	assert.Equal(t, float64(1500), lastBuild["duration_ms"])
	mockSvc.AssertExpectations(t)
}

func TestIssueHandler_Get_NeverBuilt(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	mockSvc.On("Get", mock.Anything, "issue-1").Return(newTestIssue("issue-1"), nil)
	mockSvc.On("Stats", mock.Anything, "issue-1").Return(&domain.IssueStats{
		IssueID:   "issue-1",
		FileCount: 1,
	}, nil)

	req := routeRequest(http.MethodGet, "/v1/issues/issue-1", "issue-1", nil)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.NotContains(t, data, "kb_built_at")
	assert.NotContains(t, data, "model_id")
	assert.NotContains(t, data, "last_build")
}

func TestIssueHandler_Get_NotFound(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	mockSvc.On("Get", mock.Anything, "ghost").Return(nil, domain.ErrIssueNotFound)

	req := routeRequest(http.MethodGet, "/v1/issues/ghost", "ghost", nil)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestIssueHandler_List_Success(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	page := pagination.PageResult[*domain.Issue]{
		Items:   []*domain.Issue{newTestIssue("issue-1"), newTestIssue("issue-2")},
		Cursor:  "k|issue-2",
		HasMore: true,
	}
	mockSvc.On("List", mock.Anything, "k|issue-0", 2).Return(page, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/issues?cursor=k%7Cissue-0&limit=2", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	assert.Len(t, items, 2)
	assert.Equal(t, "k|issue-2", data["cursor"])
	assert.Equal(t, true, data["has_more"])
	mockSvc.AssertExpectations(t)
}

func TestIssueHandler_List_BadLimitFallsBack(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	// An unparsable limit is ignored; the service applies its default.
	mockSvc.On("List", mock.Anything, "", 0).Return(pagination.PageResult[*domain.Issue]{Items: []*domain.Issue{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/issues?limit=abc", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestIssueHandler_List_InvalidCursor(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	mockSvc.On("List", mock.Anything, "bogus", 0).
		Return(pagination.PageResult[*domain.Issue]{}, pagination.ErrInvalidCursor)

	req := httptest.NewRequest(http.MethodGet, "/v1/issues?cursor=bogus", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestIssueHandler_Delete_Success(t *testing.T) {
	mockSvc := new(MockIssueService)
	tracker := new(MockBuildTracker)
	handler := NewIssueHandler(mockSvc, tracker)

	tracker.On("Latest", "issue-1").Return(jobs.BuildJob{}, false)
	mockSvc.On("Delete", mock.Anything, "issue-1").Return(nil)

	req := routeRequest(http.MethodDelete, "/v1/issues/issue-1", "issue-1", nil)
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockSvc.AssertExpectations(t)
	tracker.AssertExpectations(t)
}

func TestIssueHandler_Delete_BuildInProgress(t *testing.T) {
	mockSvc := new(MockIssueService)
	tracker := new(MockBuildTracker)
	handler := NewIssueHandler(mockSvc, tracker)

	tracker.On("Latest", "issue-1").Return(jobs.BuildJob{
		ID:      "job-1",
		IssueID: "issue-1",
		Status:  domain.BuildStatusRunning,
	}, true)

	req := routeRequest(http.MethodDelete, "/v1/issues/issue-1", "issue-1", nil)
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrCodeInvalidOperation)
	mockSvc.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	tracker.AssertExpectations(t)
}

func TestIssueHandler_Delete_FinishedBuildDoesNotBlock(t *testing.T) {
	mockSvc := new(MockIssueService)
	tracker := new(MockBuildTracker)
	handler := NewIssueHandler(mockSvc, tracker)

	tracker.On("Latest", "issue-1").Return(jobs.BuildJob{
		ID:      "job-1",
		IssueID: "issue-1",
		Status:  domain.BuildStatusSucceeded,
	}, true)
	mockSvc.On("Delete", mock.Anything, "issue-1").Return(nil)

	req := routeRequest(http.MethodDelete, "/v1/issues/issue-1", "issue-1", nil)
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestIssueHandler_Delete_NotFound(t *testing.T) {
	mockSvc := new(MockIssueService)
	handler := NewIssueHandler(mockSvc, nil)

	mockSvc.On("Delete", mock.Anything, "ghost").Return(domain.ErrIssueNotFound)

	req := routeRequest(http.MethodDelete, "/v1/issues/ghost", "ghost", nil)
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockSvc.AssertExpectations(t)
}
