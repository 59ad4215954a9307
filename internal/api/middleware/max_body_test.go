package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxBodyBytes_UnderLimit(t *testing.T) {
	var capturedBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		capturedBody = string(body)
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := MaxBodyBytes(64)(handler)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", capturedBody)
}

func TestMaxBodyBytes_ContentLengthOverLimit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})

	wrappedHandler := MaxBodyBytes(8)(handler)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is too large"))
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "request body too large")
}

func TestMaxBodyBytes_ReaderEnforcesLimit(t *testing.T) {
	// A chunked request carries no Content-Length, so the limit is only
	// enforced when the handler reads the body.
	var readErr error
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := MaxBodyBytes(8)(handler)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is too large"))
	req.ContentLength = -1
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	assert.Error(t, readErr)
}

func TestMaxBodyBytes_Disabled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Len(t, body, 22)
		w.WriteHeader(http.StatusOK)
	})

	wrappedHandler := MaxBodyBytes(0)(handler)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is too large"))
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
