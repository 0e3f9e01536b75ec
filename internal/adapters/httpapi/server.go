// Package httpapi exposes the plantlab service as a JSON API under /api/v1.
package httpapi

import (
	"net/http"
	"time"

	"plantlab/internal/adapters/reports"
	"plantlab/internal/core"
	"plantlab/internal/planning"
)

// RequestObserver records per-route request metrics.
type RequestObserver interface {
	ObserveRequest(route, method string, code int, duration time.Duration)
}

// Handler routes API requests to the service.
type Handler struct {
	svc     *core.Service
	reports reports.Scheduler
	logger  core.Logger
	metrics RequestObserver
	exposer http.Handler
	debug   http.Handler
	params  planning.Params
	mux     *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithReports enables the report endpoints.
func WithReports(s reports.Scheduler) Option { return func(h *Handler) { h.reports = s } }

// WithLogger sets the request logger.
func WithLogger(l core.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records request metrics and serves exposition on /metrics.
func WithMetrics(obs RequestObserver, exposition http.Handler) Option {
	return func(h *Handler) {
		h.metrics = obs
		h.exposer = exposition
	}
}

// WithDebugVars serves vars (typically expvar.Handler) on /debug/vars.
func WithDebugVars(vars http.Handler) Option { return func(h *Handler) { h.debug = vars } }

// WithPlanningParams sets the default parameters of planning runs.
func WithPlanningParams(p planning.Params) Option { return func(h *Handler) { h.params = p } }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NewHandler constructs the API handler.
func NewHandler(svc *core.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, logger: nopLogger{}, params: planning.DefaultParams(), mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	m := h.mux
	m.HandleFunc("GET /healthz", h.handleHealth)
	if h.exposer != nil {
		m.Handle("GET /metrics", h.exposer)
	}
	if h.debug != nil {
		m.Handle("GET /debug/vars", h.debug)
	}

	m.HandleFunc("GET /api/v1/dashboard", h.handleDashboard)
	m.HandleFunc("GET /api/v1/statistics", h.handleStatistics)
	m.HandleFunc("GET /api/v1/search", h.handleSearch)

	m.HandleFunc("GET /api/v1/series", h.handleListSeries)
	m.HandleFunc("POST /api/v1/series", h.handleCreateSeries)
	m.HandleFunc("GET /api/v1/series/{id}", h.handleGetSeries)
	m.HandleFunc("PATCH /api/v1/series/{id}", h.handleUpdateSeries)
	m.HandleFunc("DELETE /api/v1/series/{id}", h.handleDeactivateSeries)
	m.HandleFunc("GET /api/v1/operations", h.handleOperations)

	m.HandleFunc("GET /api/v1/reference/{table}", h.handleListReference)
	m.HandleFunc("POST /api/v1/reference/{table}", h.handleCreateReference)
	m.HandleFunc("DELETE /api/v1/reference/{table}/{id}", h.handleDeleteReference)

	m.HandleFunc("POST /api/v1/planning/run", h.handlePlanRun)
	m.HandleFunc("POST /api/v1/planning/transplants", h.handleTransplants)

	m.HandleFunc("GET /api/v1/chambers", h.handleChambers)
	m.HandleFunc("GET /api/v1/chambers/{chamber}", h.handleChamber)

	m.HandleFunc("POST /api/v1/import/{format}", h.handleImport)

	m.HandleFunc("GET /api/v1/reports", h.handleListReports)
	m.HandleFunc("POST /api/v1/reports", h.handleCreateReport)
	m.HandleFunc("GET /api/v1/reports/{id}", h.handleGetReport)
}

// ServeHTTP logs and measures every request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	elapsed := time.Since(start)
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	if h.metrics != nil {
		h.metrics.ObserveRequest(route, r.Method, rec.status, elapsed)
	}
	h.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
