// Package reports renders planning, chamber and series reports asynchronously
// into the blob store.
package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"plantlab/internal/blob"
	"plantlab/internal/chambers"
	"plantlab/internal/core"
	"plantlab/internal/planning"
	"plantlab/pkg/domain"
)

// Status describes the lifecycle stage of a report request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Kind selects what a report renders.
type Kind string

const (
	KindPlanning Kind = "planning"
	KindChamber  Kind = "chamber"
	KindSeries   Kind = "series"
)

// Format is an artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatPNG  Format = "png"
)

var supportedFormats = map[Kind][]Format{
	KindPlanning: {FormatCSV, FormatJSON},
	KindChamber:  {FormatCSV, FormatPNG},
	KindSeries:   {FormatCSV, FormatJSON},
}

// ParseKind validates a report kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := supportedFormats[k]; !ok {
		return "", domain.Invalidf("unknown report kind %q", s)
	}
	return k, nil
}

// Request parameterizes a report. Week and Reference apply to planning
// reports; Chamber, Strain, Medium and ShowEmpty to chamber reports;
// IncludeInactive to series reports.
type Request struct {
	Kind            Kind      `json:"kind"`
	Formats         []Format  `json:"formats,omitempty"`
	Week            time.Time `json:"week,omitempty"`
	Reference       time.Time `json:"reference,omitempty"`
	Chamber         string    `json:"chamber,omitempty"`
	Strain          string    `json:"strain,omitempty"`
	Medium          string    `json:"medium,omitempty"`
	ShowEmpty       bool      `json:"show_empty,omitempty"`
	IncludeInactive bool      `json:"include_inactive,omitempty"`
	RequestedBy     string    `json:"requested_by,omitempty"`
}

// Artifact is one stored report file.
type Artifact struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Format      Format            `json:"format"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Record tracks a report request and its artifacts.
type Record struct {
	ID          string     `json:"id"`
	Request     Request    `json:"request"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Source is the read side of the service a report needs.
type Source interface {
	PlanWeek(ctx context.Context, req core.PlanRequest) (planning.Result, error)
	ChamberPlan(ctx context.Context) (*chambers.Plan, error)
	ListSeries(ctx context.Context, includeInactive bool) ([]core.SeriesView, error)
}

// Scheduler queues reports and exposes their status.
type Scheduler interface {
	Enqueue(ctx context.Context, req Request) (Record, error)
	Get(id string) (Record, bool)
	List() []Record
}

// AuditLogger records report audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures one status transition.
type AuditEntry struct {
	ID         string    `json:"id"`
	ReportID   string    `json:"report_id"`
	Kind       Kind      `json:"kind"`
	Actor      string    `json:"actor,omitempty"`
	Status     Status    `json:"status"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StatusObserver receives final report outcomes, e.g. for metrics.
type StatusObserver interface {
	ObserveReport(kind, status string)
}

// Option configures a Worker.
type Option func(*Worker)

// WithAudit sets the audit sink.
func WithAudit(a AuditLogger) Option { return func(w *Worker) { w.audit = a } }

// WithLogger sets the logger used for status transitions.
func WithLogger(l core.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithObserver reports terminal statuses to o.
func WithObserver(o StatusObserver) Option { return func(w *Worker) { w.observer = o } }

// WithQueueSize bounds the number of pending requests.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithKeyPrefix sets the blob key prefix for artifacts.
func WithKeyPrefix(p string) Option {
	return func(w *Worker) { w.prefix = strings.Trim(p, "/") }
}

// WithPlanningParams sets the parameters used by planning reports.
func WithPlanningParams(p planning.Params) Option {
	return func(w *Worker) { w.params = p }
}

// WithRetention sets how long finished records stay queryable.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.retention = d
		}
	}
}

// WithClock overrides the time source for record timestamps and eviction.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker executes report requests one at a time in the background.
type Worker struct {
	source    Source
	store     blob.Store
	audit     AuditLogger
	logger    core.Logger
	observer  StatusObserver
	params    planning.Params
	prefix    string
	retention time.Duration
	now       func() time.Time

	queueSize int
	queue     chan task
	mu        sync.RWMutex
	jobs      map[string]*Record
	order     []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id  string
	req Request
	// closed once the queued audit entry is written
	accepted chan struct{}
}

type rendered struct {
	name        string
	format      Format
	contentType string
	payload     []byte
	metadata    map[string]string
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// NewWorker constructs a report worker.
func NewWorker(source Source, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source:    source,
		store:     store,
		logger:    discardLogger{},
		params:    planning.DefaultParams(),
		prefix:    "reports",
		retention: time.Hour,
		now:       func() time.Time { return time.Now().UTC() },
		queueSize: 32,
		jobs:      make(map[string]*Record),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan task, w.queueSize)
	return w
}

// Start begins processing report requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the running report.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the worker and blocks until ctx is cancelled, then stops it.
func (w *Worker) Run(ctx context.Context) error {
	w.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.Stop(stopCtx)
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue validates req and schedules it.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Record, error) {
	if w.source == nil || w.store == nil {
		return Record{}, errors.New("report worker not configured")
	}
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return Record{}, err
	}
	req.Kind = kind
	formats, err := resolveFormats(kind, req.Formats)
	if err != nil {
		return Record{}, err
	}
	req.Formats = formats

	now := w.now()
	record := Record{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	w.pruneLocked(now)
	w.jobs[record.ID] = &record
	w.order = append(w.order, record.ID)
	queued := record.copy()
	w.mu.Unlock()

	t := task{id: record.ID, req: req, accepted: make(chan struct{})}
	select {
	case w.queue <- t:
	default:
		w.forget(record.ID)
		return Record{}, fmt.Errorf("%w: report queue full", domain.ErrConflict)
	}
	w.record(ctx, record.ID, StatusQueued, "")
	close(t.accepted)
	w.logger.Info("report queued", "id", record.ID, "kind", string(kind))
	return queued, nil
}

func resolveFormats(kind Kind, requested []Format) ([]Format, error) {
	supported := supportedFormats[kind]
	if len(requested) == 0 {
		return append([]Format(nil), supported...), nil
	}
	out := make([]Format, 0, len(requested))
	seen := make(map[Format]struct{})
	for _, f := range requested {
		f = Format(strings.ToLower(string(f)))
		if _, dup := seen[f]; dup {
			continue
		}
		ok := false
		for _, s := range supported {
			ok = ok || s == f
		}
		if !ok {
			return nil, domain.Invalidf("format %s not supported by %s reports", f, kind)
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// pruneLocked drops finished records completed more than the retention
// window before now. The caller holds w.mu.
func (w *Worker) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.retention)
	kept := w.order[:0]
	for _, id := range w.order {
		r := w.jobs[id]
		if r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
			delete(w.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	w.order = kept
}

func (w *Worker) forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.jobs, id)
	for i, v := range w.order {
		if v == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// Get returns a snapshot of the record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

// List returns every known record, oldest first.
func (w *Worker) List() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Record, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.jobs[id].copy())
	}
	return out
}

func (w *Worker) process(t task) {
	<-t.accepted
	w.update(t.id, func(r *Record) { r.Status = StatusRunning })
	w.record(w.ctx, t.id, StatusRunning, "")

	files, err := w.render(w.ctx, t.req)
	if err != nil {
		w.fail(t, err)
		return
	}
	artifacts := make([]Artifact, 0, len(files))
	for _, f := range files {
		art, err := w.put(w.ctx, t.id, t.req.Kind, f)
		if err != nil {
			w.fail(t, fmt.Errorf("store %s: %w", f.name, err))
			return
		}
		artifacts = append(artifacts, art)
	}

	now := w.now()
	w.update(t.id, func(r *Record) {
		r.Status = StatusSucceeded
		r.Error = ""
		r.Artifacts = artifacts
		r.CompletedAt = &now
	})
	w.record(w.ctx, t.id, StatusSucceeded, fmt.Sprintf("%d artifacts", len(artifacts)))
	w.observe(t.req.Kind, StatusSucceeded)
	w.logger.Info("report succeeded", "id", t.id, "kind", string(t.req.Kind), "artifacts", len(artifacts))
}

func (w *Worker) render(ctx context.Context, req Request) ([]rendered, error) {
	switch req.Kind {
	case KindPlanning:
		return w.renderPlanning(ctx, req)
	case KindChamber:
		return w.renderChamber(ctx, req)
	case KindSeries:
		return w.renderSeries(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported report kind %s", req.Kind)
	}
}

func (w *Worker) put(ctx context.Context, id string, kind Kind, f rendered) (Artifact, error) {
	key := strings.TrimPrefix(fmt.Sprintf("%s/%s/%s/%s", w.prefix, kind, id, f.name), "/")
	info, err := w.store.Put(ctx, key, bytes.NewReader(f.payload), blob.PutOptions{
		ContentType: f.contentType,
		Metadata:    f.metadata,
	})
	if err != nil {
		return Artifact{}, err
	}
	url := info.URL
	if url == "" {
		if signed, err := w.store.PresignURL(ctx, key, blob.SignedURLOptions{}); err == nil {
			url = signed
		}
	}
	created := info.LastModified
	if created.IsZero() {
		created = w.now()
	}
	return Artifact{
		Key:         key,
		Name:        f.name,
		Format:      f.format,
		ContentType: f.contentType,
		SizeBytes:   info.Size,
		URL:         url,
		Metadata:    f.metadata,
		CreatedAt:   created,
	}, nil
}

func (w *Worker) fail(t task, err error) {
	now := w.now()
	w.update(t.id, func(r *Record) {
		r.Status = StatusFailed
		r.Error = err.Error()
		r.CompletedAt = &now
	})
	w.record(w.ctx, t.id, StatusFailed, err.Error())
	w.observe(t.req.Kind, StatusFailed)
	w.logger.Error("report failed", "id", t.id, "kind", string(t.req.Kind), "error", err)
}

func (w *Worker) update(id string, fn func(*Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		fn(record)
		record.UpdatedAt = w.now()
	}
}

func (w *Worker) record(ctx context.Context, id string, status Status, note string) {
	if w.audit == nil {
		return
	}
	w.mu.RLock()
	var kind Kind
	var actor string
	if r, ok := w.jobs[id]; ok {
		kind, actor = r.Request.Kind, r.Request.RequestedBy
	}
	w.mu.RUnlock()
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		ReportID:   id,
		Kind:       kind,
		Actor:      actor,
		Status:     status,
		Note:       note,
		OccurredAt: w.now(),
	})
}

func (w *Worker) observe(kind Kind, status Status) {
	if w.observer != nil {
		w.observer.ObserveReport(string(kind), string(status))
	}
}

func (r *Record) copy() Record {
	dup := *r
	dup.Request.Formats = append([]Format(nil), r.Request.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

// MemoryAuditLog captures audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
