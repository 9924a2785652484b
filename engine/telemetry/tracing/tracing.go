// Package tracing provides a minimal in-process span tree used to correlate
// log lines and telemetry events across pipeline stages, without pulling in
// a full OpenTelemetry tracer SDK for the hot path.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// SpanContext identifies a span within a trace and its parent.
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Start        time.Time
	End          time.Time
}

// Span is a single unit of traced work.
type Span interface {
	Context() SpanContext
	SetAttribute(key string, value any)
	End()
	IsEnded() bool
}

// Tracer starts spans, optionally as a no-op when disabled.
type Tracer interface {
	Noop() bool
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// NewTracer returns a Tracer; when enabled is false every span is a cheap
// no-op that still satisfies the interface.
func NewTracer(enabled bool) Tracer {
	if !enabled {
		return noopTracer{}
	}
	return &simpleTracer{}
}

// NewAdaptiveTracer is an alias retained for callers that want to express
// "trace only when something is actively consuming spans"; today it is
// equivalent to NewTracer(enabled).
func NewAdaptiveTracer(enabled bool) Tracer { return NewTracer(enabled) }

type ctxKey struct{}

type noopTracer struct{}

func (noopTracer) Noop() bool { return true }
func (noopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, &noopSpan{}
}

type noopSpan struct {
	mu    sync.Mutex
	ended bool
}

func (s *noopSpan) Context() SpanContext     { return SpanContext{} }
func (s *noopSpan) SetAttribute(string, any) {}
func (s *noopSpan) End() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}
func (s *noopSpan) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

type simpleTracer struct{}

func (*simpleTracer) Noop() bool { return false }

func (*simpleTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	parent, _ := ctx.Value(ctxKey{}).(SpanContext)
	sc := SpanContext{
		TraceID:      parent.TraceID,
		SpanID:       newID(),
		ParentSpanID: parent.SpanID,
		Start:        time.Now(),
	}
	if sc.TraceID == "" {
		sc.TraceID = newID()
	}
	sp := &simpleSpan{ctx: sc, name: name, attrs: make(map[string]any)}
	return context.WithValue(ctx, ctxKey{}, sc), sp
}

type simpleSpan struct {
	mu    sync.Mutex
	ctx   SpanContext
	name  string
	attrs map[string]any
	ended bool
}

func (s *simpleSpan) Context() SpanContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *simpleSpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = value
}

func (s *simpleSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.ctx.End = time.Now()
}

func (s *simpleSpan) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SpanFromContext returns the active SpanContext, if any, along with whether
// one was present.
func SpanFromContext(ctx context.Context) (SpanContext, bool) {
	sc, ok := ctx.Value(ctxKey{}).(SpanContext)
	return sc, ok
}

// ExtractIDs returns the trace/span IDs active on ctx, or empty strings if
// none. Used by logging and event-bus correlation.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc, ok := SpanFromContext(ctx)
	if !ok {
		return "", ""
	}
	return sc.TraceID, sc.SpanID
}

func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
