package middleware

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// statusWriter captures the status code and body size written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += n
	return n, err
}

// AccessLog writes one JSON line per request to the standard logger. Health
// probes are skipped; a poller hitting /health every few seconds would
// otherwise dominate the log.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)

		line, err := json.Marshal(struct {
			Time       string `json:"ts"`
			Method     string `json:"method"`
			Path       string `json:"path"`
			Status     int    `json:"status"`
			Bytes      int    `json:"bytes"`
			DurationMS int64  `json:"duration_ms"`
			RequestID  string `json:"request_id,omitempty"`
			Remote     string `json:"remote,omitempty"`
			UserAgent  string `json:"user_agent,omitempty"`
		}{
			Time:       start.UTC().Format(time.RFC3339Nano),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     sw.statusOr200(),
			Bytes:      sw.written,
			DurationMS: time.Since(start).Milliseconds(),
			RequestID:  GetRequestID(r.Context()),
			Remote:     remoteIP(r),
			UserAgent:  r.UserAgent(),
		})
		if err != nil {
			log.Printf("access log: %v", err)
			return
		}
		log.Println(string(line))
	})
}

// statusOr200 covers handlers that never call WriteHeader or Write.
func (w *statusWriter) statusOr200() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// remoteIP resolves the caller address, preferring proxy headers when set.
func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
