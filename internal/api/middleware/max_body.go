package middleware

import (
	"net/http"

	"github.com/seerstack/logseer/internal/api"
)

// MaxBodyBytes rejects request bodies larger than limit. A declared
// Content-Length over the limit is refused up front; chunked bodies are
// stopped by the reader once the limit is crossed. A limit of zero disables
// the check.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
