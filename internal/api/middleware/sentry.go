package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

// SentryMiddleware opens a transaction per request, tags it with the request
// id, and reports panics and 5xx responses. It is a no-op when Sentry was
// never initialized. The transaction is renamed to the chi route pattern
// after routing so issue ids in the path do not explode the cardinality.
func SentryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}

		opts := []sentry.SpanOption{
			sentry.WithOpName("http.server"),
			sentry.WithTransactionSource(sentry.SourceURL),
		}
		if trace := r.Header.Get("sentry-trace"); trace != "" {
			opts = append(opts, sentry.ContinueFromHeaders(trace, r.Header.Get("baggage")))
		}

		tx := sentry.StartTransaction(r.Context(),
			fmt.Sprintf("%s %s", r.Method, r.URL.Path), opts...)
		defer tx.Finish()

		r = r.WithContext(sentry.SetHubOnContext(tx.Context(), hub))

		scope := hub.Scope()
		scope.SetContext("request", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"query":  r.URL.RawQuery,
			"remote": r.RemoteAddr,
		})
		if id := GetRequestID(r.Context()); id != "" {
			scope.SetTag("request_id", id)
			tx.SetTag("request_id", id)
		}

		defer func() {
			if rec := recover(); rec != nil {
				tx.Status = sentry.SpanStatusInternalError
				hub.RecoverWithContext(r.Context(), rec)
				hub.Flush(2 * time.Second)
				panic(rec)
			}
		}()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
			tx.Name = fmt.Sprintf("%s %s", r.Method, pattern)
			tx.Source = sentry.SourceRoute
		}

		code := sw.statusOr200()
		tx.Status = spanStatus(code)
		tx.SetData("http.response.status_code", code)
		if code >= 500 {
			hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s", code, http.StatusText(code)))
		}
	})
}

var spanStatusByCode = map[int]sentry.SpanStatus{
	http.StatusBadRequest:         sentry.SpanStatusInvalidArgument,
	http.StatusUnauthorized:       sentry.SpanStatusUnauthenticated,
	http.StatusForbidden:          sentry.SpanStatusPermissionDenied,
	http.StatusNotFound:           sentry.SpanStatusNotFound,
	http.StatusConflict:           sentry.SpanStatusAlreadyExists,
	http.StatusTooManyRequests:    sentry.SpanStatusResourceExhausted,
	http.StatusNotImplemented:     sentry.SpanStatusUnimplemented,
	http.StatusServiceUnavailable: sentry.SpanStatusUnavailable,
	http.StatusGatewayTimeout:     sentry.SpanStatusDeadlineExceeded,
}

func spanStatus(code int) sentry.SpanStatus {
	if s, ok := spanStatusByCode[code]; ok {
		return s
	}
	switch {
	case code < 400:
		return sentry.SpanStatusOK
	case code < 500:
		return sentry.SpanStatusInvalidArgument
	default:
		return sentry.SpanStatusInternalError
	}
}
