// Package metrics records service, HTTP and report worker metrics in Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements core.MetricsRecorder and exposes HTTP and report
// collectors.
type Recorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	requests   *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec
	reports    *prometheus.CounterVec
	gatherer   prometheus.Gatherer
}

// NewRecorder registers collectors on a private registry together with the
// Go runtime and process collectors.
func NewRecorder() (*Recorder, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewRecorderWithRegistry(reg)
}

// NewRecorderWithRegistry registers collectors on reg. Collectors already
// registered by an earlier recorder are reused.
func NewRecorderWithRegistry(reg *prometheus.Registry) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{gatherer: reg}
	var err error
	if r.operations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plantlab_operations_total",
		Help: "Service operations by name and outcome",
	}, []string{"operation", "success"})); err != nil {
		return nil, err
	}
	if r.latency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plantlab_operation_duration_seconds",
		Help:    "Service operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if r.requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plantlab_http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})); err != nil {
		return nil, err
	}
	if r.reqLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plantlab_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})); err != nil {
		return nil, err
	}
	if r.reports, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plantlab_reports_total",
		Help: "Report exports by kind and final status",
	}, []string{"kind", "status"})); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// Observe implements core.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	r.operations.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(route, method string, code int, duration time.Duration) {
	r.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	r.reqLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveReport records a finished report export.
func (r *Recorder) ObserveReport(kind, status string) {
	r.reports.WithLabelValues(kind, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
