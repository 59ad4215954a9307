// Package middleware holds the HTTP middleware chain: request ids, Sentry
// transactions, structured access logs and request body limits. The API is
// unauthenticated, so there is no auth layer here.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// requestIDHeader is honored on the way in and always set on the way out.
const requestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDCtxKey ctxKey = iota

// RequestID tags every request with an id. An id supplied by the caller is
// kept so proxies and clients can correlate their own traces; otherwise a
// fresh uuid is minted. The id travels in the context and is echoed in the
// response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDCtxKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored in ctx, or "" when the request
// never passed through RequestID.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}
