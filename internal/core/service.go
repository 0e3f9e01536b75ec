// Package core hosts the plantlab application service: transactional CRUD over
// the reference tables and series, search, statistics, weekly planning, the
// chamber plan and spreadsheet imports.
package core

import (
	"context"
	"time"

	"plantlab/internal/infra/persistence/memory"
	"plantlab/pkg/domain"
)

type (
	Strain          = domain.Strain
	Variety         = domain.Variety
	Medium          = domain.Medium
	CultureType     = domain.CultureType
	Location        = domain.Location
	Series          = domain.Series
	SeriesView      = domain.SeriesView
	Operation       = domain.Operation
	Result          = domain.Result
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
)

// Clock supplies the current time to the service.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Logger is the structured logger used by the service. Arguments are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option customizes a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
	}
}

// WithClock overrides the clock used for reference dates.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics installs a metrics recorder observing every service operation.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer wrapping every service operation in a span.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// Service exposes higher-level transactional operations over a persistent store.
type Service struct {
	store PersistentStore
	opts  serviceOptions
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{store: store, opts: options}
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.opts.clock.Now()
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

// run executes fn as a named operation, feeding the tracer, metrics, audit
// and logger.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (Result, error)) (Result, error) {
	started := time.Now()
	ctx, span := s.opts.tracer.Start(ctx, op)
	res, err := fn(ctx)
	span.End(err)
	elapsed := time.Since(started)
	s.opts.metrics.Observe(ctx, op, err == nil, elapsed)

	entry := AuditEntry{Operation: op, Status: AuditStatusSuccess, Duration: elapsed, Violations: res.Violations, RecordedAt: s.opts.clock.Now()}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.opts.logger.Error("operation failed", "operation", op, "error", err)
	} else {
		for _, v := range res.Violations {
			s.opts.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", string(v.Severity), "message", v.Message)
		}
		s.opts.logger.Debug("operation completed", "operation", op, "duration", elapsed)
	}
	s.opts.audit.Record(ctx, entry)
	return res, err
}

// transact runs fn inside a store transaction as a named operation.
func (s *Service) transact(ctx context.Context, op string, fn func(Transaction) error) (Result, error) {
	return s.run(ctx, op, func(ctx context.Context) (Result, error) {
		return s.store.RunInTransaction(ctx, fn)
	})
}

// view runs fn over a read-only snapshot as a named operation.
func (s *Service) view(ctx context.Context, op string, fn func(TransactionView) error) error {
	_, err := s.run(ctx, op, func(ctx context.Context) (Result, error) {
		return Result{}, s.store.View(ctx, fn)
	})
	return err
}
