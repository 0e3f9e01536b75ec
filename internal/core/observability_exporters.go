package core

import (
	"context"
	"expvar"
	"sync"
	"time"
)

// ExpvarRecorder exposes operation counters on /debug/vars. Keys are
// "<operation>.ok", "<operation>.failed" and "<operation>.ms".
type ExpvarRecorder struct {
	vars *expvar.Map
}

var (
	expvarMu   sync.Mutex
	expvarMaps = map[string]*expvar.Map{}
)

// NewExpvarRecorder publishes (or reuses) the map named name.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	expvarMu.Lock()
	defer expvarMu.Unlock()
	m, ok := expvarMaps[name]
	if !ok {
		m = expvar.NewMap(name)
		expvarMaps[name] = m
	}
	return &ExpvarRecorder{vars: m}
}

// Observe implements MetricsRecorder.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	outcome := ".failed"
	if success {
		outcome = ".ok"
	}
	r.vars.Add(operation+outcome, 1)
	r.vars.AddFloat(operation+".ms", float64(duration)/float64(time.Millisecond))
}

// Count returns the number of observed calls of operation with the outcome.
func (r *ExpvarRecorder) Count(operation string, success bool) int64 {
	key := operation + ".failed"
	if success {
		key = operation + ".ok"
	}
	if v, ok := r.vars.Get(key).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

// MultiMetrics fans observations out to every non-nil recorder.
func MultiMetrics(recorders ...MetricsRecorder) MetricsRecorder {
	out := make(multiMetrics, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiMetrics []MetricsRecorder

func (m multiMetrics) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}

// Span is one finished service operation.
type Span struct {
	Operation string        `json:"operation"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Err       string        `json:"error,omitempty"`
}

// SpanLog is a Tracer that keeps the most recent spans and forwards each
// one to a Logger.
type SpanLog struct {
	logger Logger
	limit  int

	mu    sync.Mutex
	spans []Span
}

// NewSpanLog keeps up to limit spans (unbounded when limit <= 0). A nil
// logger only retains spans.
func NewSpanLog(logger Logger, limit int) *SpanLog {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SpanLog{logger: logger, limit: limit}
}

// Start implements Tracer.
func (l *SpanLog) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &logSpan{log: l, span: Span{Operation: operation, Started: time.Now()}}
}

// Spans returns the retained spans, oldest first.
func (l *SpanLog) Spans() []Span {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Span(nil), l.spans...)
}

func (l *SpanLog) finish(s Span) {
	l.mu.Lock()
	l.spans = append(l.spans, s)
	if l.limit > 0 && len(l.spans) > l.limit {
		l.spans = l.spans[len(l.spans)-l.limit:]
	}
	l.mu.Unlock()
	if s.Err != "" {
		l.logger.Info("span", "operation", s.Operation, "duration", s.Duration, "error", s.Err)
		return
	}
	l.logger.Info("span", "operation", s.Operation, "duration", s.Duration)
}

type logSpan struct {
	log  *SpanLog
	span Span
}

func (s *logSpan) End(err error) {
	s.span.Duration = time.Since(s.span.Started)
	if err != nil {
		s.span.Err = err.Error()
	}
	s.log.finish(s.span)
}
