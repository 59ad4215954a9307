package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envAPIURL = "LOGSEER_API_URL"

	defaultAPIURL = "http://localhost:8080"
)

// APIClient talks to the logseer server. The generous timeout covers ask
// requests, which block on the generation model.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClientWithCmd resolves the server URL through the cascade
// flag > environment > stored config > default and returns a client for it.
// A nil cmd skips the flag level.
func NewAPIClientWithCmd(cmd *cobra.Command) (*APIClient, error) {
	if cmd != nil {
		if flagURL, err := cmd.Flags().GetString("api-url"); err == nil && flagURL != "" {
			return NewAPIClientWithConfig(flagURL)
		}
	}
	if envURL := os.Getenv(envAPIURL); envURL != "" {
		return NewAPIClientWithConfig(envURL)
	}

	stored, err := LoadGlobalConfig()
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.APIURL != "" {
		return NewAPIClientWithConfig(stored.APIURL)
	}
	return NewAPIClientWithConfig(defaultAPIURL)
}

// NewAPIClient loads .env and resolves the server URL without a command.
func NewAPIClient() (*APIClient, error) {
	_ = godotenv.Load()
	return NewAPIClientWithCmd(nil)
}

// NewAPIClientWithConfig creates a client for an explicit base URL, as init
// does before any config exists.
func NewAPIClientWithConfig(baseURL string) (*APIClient, error) {
	return &APIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// APIResponse is the server's JSON envelope.
type APIResponse struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// APIError is a non-2xx response, keeping the server's machine-readable code.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Get performs a GET request.
func (c *APIClient) Get(path string) (*APIResponse, error) {
	return c.do(http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *APIClient) Post(path string, body interface{}) (*APIResponse, error) {
	return c.do(http.MethodPost, path, body)
}

// Delete performs a DELETE request.
func (c *APIClient) Delete(path string) (*APIResponse, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *APIClient) do(method, path string, body interface{}) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

// PostFile uploads a local file as a multipart form with field name "file".
func (c *APIClient) PostFile(path, filePath string) (*APIResponse, error) {
	return c.PostFileWithProgress(path, filePath, nil)
}

// PostFileWithProgress uploads a file with progress reporting. The body is
// streamed through a pipe, so the file is never buffered in full.
func (c *APIClient) PostFileWithProgress(path, filePath string, onProgress ProgressFunc) (*APIResponse, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		var src io.Reader = file
		if onProgress != nil {
			src = &progressReader{
				reader:     file,
				total:      stat.Size(),
				onProgress: onProgress,
			}
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

// decodeResponse reads the envelope. 204s carry no body at all, so an empty
// body on a 2xx is returned as an empty envelope rather than a parse error.
func decodeResponse(resp *http.Response) (*APIResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var apiResp APIResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &apiResp); err != nil {
			if resp.StatusCode >= 400 {
				return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
			}
			return nil, fmt.Errorf("parse response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       apiResp.Code,
			Message:    apiResp.Error,
		}
	}
	return &apiResp, nil
}

// ProgressFunc receives upload progress callbacks.
type ProgressFunc func(current, total int64)

// progressReader counts bytes as they stream through.
type progressReader struct {
	reader     io.Reader
	total      int64
	current    int64
	onProgress ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	if pr.onProgress != nil {
		pr.onProgress(pr.current, pr.total)
	}
	return n, err
}
