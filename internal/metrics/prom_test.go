package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorderWithRegistry(reg)
	require.NoError(t, err)

	rec.Observe(context.Background(), "create_series", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "create_series", false, 5*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)

	expected := `
# HELP plantlab_operations_total Service operations by name and outcome
# TYPE plantlab_operations_total counter
plantlab_operations_total{operation="create_series",success="false"} 1
plantlab_operations_total{operation="create_series",success="true"} 1
plantlab_operations_total{operation="unknown",success="true"} 1
`
	require.NoError(t, testutil.CollectAndCompare(rec.operations, strings.NewReader(expected)))
	assert.Equal(t, 2, testutil.CollectAndCount(rec.latency))
}

func TestRecorderRequestsAndReports(t *testing.T) {
	rec, err := NewRecorderWithRegistry(prometheus.NewRegistry())
	require.NoError(t, err)

	rec.ObserveRequest("/api/v1/series", "GET", 200, time.Millisecond)
	rec.ObserveRequest("/api/v1/series", "GET", 200, time.Millisecond)
	rec.ObserveReport("planning", "succeeded")

	assert.InDelta(t, 2, testutil.ToFloat64(rec.requests.WithLabelValues("/api/v1/series", "GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.reports.WithLabelValues("planning", "succeeded")), 0)
}

func TestRecorderReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRecorderWithRegistry(reg)
	require.NoError(t, err)
	second, err := NewRecorderWithRegistry(reg)
	require.NoError(t, err)

	first.ObserveReport("series", "failed")
	second.ObserveReport("series", "failed")
	assert.InDelta(t, 2, testutil.ToFloat64(first.reports.WithLabelValues("series", "failed")), 0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)
	rec.Observe(context.Background(), "plan_week", true, time.Millisecond)

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `plantlab_operations_total{operation="plan_week",success="true"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
