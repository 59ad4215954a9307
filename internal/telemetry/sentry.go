// Package telemetry wires Sentry error reporting and tracing. Every helper
// degrades to a no-op when Init was never called or no DSN is configured, so
// instrumented code paths never need to guard their calls.
package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

const flushTimeout = 5 * time.Second

// Config selects the Sentry project and sampling behavior.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init starts the Sentry client. The returned shutdown function flushes
// buffered events and must run before the process exits. An empty DSN or a
// failed init yields working no-op telemetry.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       "logseer",
		TracesSampler:    sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		log.Printf("sentry init failed, continuing without telemetry: %v", err)
		return func() {}, nil
	}

	log.Printf("sentry tracing enabled (environment=%s sample_rate=%.2f)",
		cfg.Environment, cfg.TracesSampleRate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health probes and makes child spans inherit their parent's
// sampling decision.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if ctx.Span.Name == "GET /health" {
			return 0
		}
		if ctx.Span.ParentSpanID != (sentry.SpanID{}) {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes tags a span with the domain objects it touches.
type SpanAttributes struct {
	IssueID   string
	Model     string
	Operation string
}

// Span is a nil-safe handle on a sentry span.
type Span struct {
	inner *sentry.Span
}

// StartSpan opens a child span of the transaction in ctx, or a fresh
// transaction when there is none, as with builds running on the worker pool.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var inner *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		inner = parent.StartChild(name)
	} else {
		inner = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	if attrs.IssueID != "" {
		inner.SetTag("issue_id", attrs.IssueID)
	}
	if attrs.Model != "" {
		inner.SetTag("model", attrs.Model)
	}
	if attrs.Operation != "" {
		inner.SetData("operation", attrs.Operation)
	}
	return inner.Context(), &Span{inner: inner}
}

// End finishes the span.
func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError marks the span failed and reports err.
func (s *Span) SetError(err error) {
	if s.inner == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	if hub := sentry.GetHubFromContext(s.inner.Context()); hub != nil {
		hub.CaptureException(err)
	}
}

// CaptureError reports err on the hub bound to ctx.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// AddBreadcrumb records a trail event on the hub bound to ctx.
func AddBreadcrumb(ctx context.Context, category, message string) {
	crumb := &sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(crumb, nil)
		return
	}
	sentry.AddBreadcrumb(crumb)
}
