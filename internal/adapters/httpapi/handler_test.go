package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantlab/internal/adapters/reports"
	"plantlab/internal/core"
	memblob "plantlab/internal/infra/blob/memory"
	"plantlab/internal/metrics"
	"plantlab/internal/planning"
)

var frozen = time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)

type env struct {
	t   *testing.T
	svc *core.Service
	h   *Handler
	ids map[string]string
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(),
		core.WithClock(core.ClockFunc(func() time.Time { return frozen })))
	t.Cleanup(func() { _ = svc.Close() })
	e := &env{t: t, svc: svc, h: NewHandler(svc, opts...), ids: map[string]string{}}
	e.seed()
	return e
}

func (e *env) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type created struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Violations []struct {
		Rule     string `json:"rule"`
		Severity string `json:"severity"`
	} `json:"violations"`
}

func (e *env) create(path string, body any) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, path, body)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[created](e.t, rec).Data.ID
}

func (e *env) seed() {
	e.ids["brahy"] = e.create("/api/v1/reference/strains", map[string]any{"code": "BRAHY"})
	e.ids["x"] = e.create("/api/v1/reference/mediums", map[string]any{"code": "X"})
	e.ids["loc"] = e.create("/api/v1/reference/locations", map[string]any{"chamber": "1", "slot": "A20", "capacity": 100})
	e.ids["s1"] = e.create("/api/v1/series", map[string]any{
		"barcode": "735820250801AW3", "strain_id": e.ids["brahy"], "medium_id": e.ids["x"],
		"location_id": e.ids["loc"], "total_jars": 40, "line": 7, "operator": "alice",
	})
}

func TestHealthAndUnknownRoute(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/nope", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, e.do(http.MethodPut, "/api/v1/series", nil).Code)
}

func TestSeriesEndpoints(t *testing.T) {
	e := newEnv(t)
	id := e.ids["s1"]

	rec := e.do(http.MethodGet, "/api/v1/series/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[core.SeriesView](t, rec)
	assert.Equal(t, "BRAHY", view.StrainCode)
	assert.Equal(t, "1", view.Chamber)

	rec = e.do(http.MethodPatch, "/api/v1/series/"+id, `{"total_jars": 55, "active": false, "id": "other"}`, "X-Operator", "bob")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(http.MethodGet, "/api/v1/series/"+id, nil)
	view = decode[core.SeriesView](t, rec)
	assert.Equal(t, 55, view.Jars())
	assert.True(t, view.Active)
	assert.Equal(t, id, view.ID)

	rec = e.do(http.MethodGet, "/api/v1/operations?series_id="+id, nil)
	ops := decode[struct {
		Count      int `json:"count"`
		Operations []struct {
			Type     string `json:"type"`
			Operator string `json:"operator"`
		} `json:"operations"`
	}](t, rec)
	require.Equal(t, 2, ops.Count)
	operators := []string{ops.Operations[0].Operator, ops.Operations[1].Operator}
	assert.ElementsMatch(t, []string{"alice", "bob"}, operators)

	assert.Equal(t, http.StatusOK, e.do(http.MethodDelete, "/api/v1/series/"+id, nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodDelete, "/api/v1/series/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/series/missing", nil).Code)

	rec = e.do(http.MethodGet, "/api/v1/series", nil)
	assert.Equal(t, 0, decode[struct{ Count int }](t, rec).Count)
	rec = e.do(http.MethodGet, "/api/v1/series?include_inactive=true&format=csv", nil)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "735820250801AW3")
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/series", `{"barcode": "735820250801aw3"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate barcode")

	rec = e.do(http.MethodPost, "/api/v1/series", `{"barcode":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]any](t, rec)["error"], "invalid request body")

	rec = e.do(http.MethodPost, "/api/v1/series", map[string]any{
		"barcode": "735820250802AW9", "location_id": e.ids["loc"], "total_jars": 90,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decode[struct {
		Error      string `json:"error"`
		Violations []struct {
			Rule string `json:"rule"`
		} `json:"violations"`
	}](t, rec)
	require.NotEmpty(t, body.Violations)
	assert.Equal(t, core.RuleLocationCapacity, body.Violations[0].Rule)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/v1/reference/planets", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/v1/search?q=x&mode=bogus", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/v1/search", nil).Code)
}

func TestWarningsAreReturned(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/series", map[string]any{"barcode": "NODATE-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[created](t, rec)
	require.Len(t, c.Violations, 1)
	assert.Equal(t, core.RuleSeriesAgeKnown, c.Violations[0].Rule)
	assert.Equal(t, "warn", c.Violations[0].Severity)
}

func TestReferenceEndpoints(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/reference/strains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Table string            `json:"table"`
		Rows  []json.RawMessage `json:"rows"`
	}](t, rec)
	assert.Equal(t, "strains", list.Table)
	assert.Len(t, list.Rows, 1)

	ctID := e.create("/api/v1/reference/culture_types", map[string]any{"code": "MULT"})
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/api/v1/reference/culture_types/"+ctID, nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodDelete, "/api/v1/reference/strains/"+e.ids["brahy"], nil).Code)
	e.create("/api/v1/reference/varieties", map[string]any{"name": "Grande Naine", "strain_id": e.ids["brahy"]})
}

func TestSearchDashboardStatistics(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/search?q=brahy&mode=strain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[struct{ Count int }](t, rec).Count)

	rec = e.do(http.MethodGet, "/api/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[core.Dashboard](t, rec)
	assert.Equal(t, 1, dash.TotalSeries)
	assert.Equal(t, 40, dash.TotalJars)

	rec = e.do(http.MethodGet, "/api/v1/statistics?chamber=1,2&strain=BRAHY", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[core.Statistics](t, rec)
	assert.Equal(t, []string{"1", "2"}, stats.Filter.Chambers)
	assert.Equal(t, 1, stats.Rows)
}

func TestPlanningEndpoints(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/planning/run", `{"week": "2025-10-16"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plan := decode[struct {
		WeekStart time.Time `json:"week_start"`
		Stats     struct {
			Planned int `json:"total_planned"`
		} `json:"stats"`
	}](t, rec)
	assert.Equal(t, "2025-10-13", plan.WeekStart.Format(time.DateOnly))
	assert.Equal(t, 1, plan.Stats.Planned)

	rec = e.do(http.MethodPost, "/api/v1/planning/run?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "planned_2025-10-13.csv")
	assert.Contains(t, rec.Body.String(), "735820250801AW3")

	rec = e.do(http.MethodPost, "/api/v1/planning/run", `{"week": "next tuesday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/v1/planning/transplants", map[string]any{
		"series_ids": []string{e.ids["s1"]}, "date": "2025-10-14", "operator": "carol",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(http.MethodGet, "/api/v1/series/"+e.ids["s1"], nil)
	view := decode[core.SeriesView](t, rec)
	require.NotNil(t, view.PlantedOn)
	assert.Equal(t, "2025-10-14", view.PlantedOn.Format(time.DateOnly))

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/v1/planning/transplants", `{}`).Code)
}

func TestPlanningParamsOverlayDefaults(t *testing.T) {
	e := newEnv(t)
	type planResult struct {
		Params planning.Params `json:"params"`
		Stats  struct {
			Planned int `json:"total_planned"`
		} `json:"stats"`
	}

	rec := e.do(http.MethodPost, "/api/v1/planning/run", `{"params": {"general_workers": 20}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[planResult](t, rec)
	want := planning.DefaultParams()
	want.GeneralWorkers = 20
	assert.Equal(t, want, got.Params)
	assert.Equal(t, 1, got.Stats.Planned)

	rec = e.do(http.MethodPost, "/api/v1/planning/run", `{"params": {"brahy_threshold_weeks": 20}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[planResult](t, rec)
	assert.Equal(t, 8, got.Params.OtherThresholdWeeks)
	assert.Equal(t, 0, got.Stats.Planned)

	rec = e.do(http.MethodPost, "/api/v1/planning/run", `{"params": null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, planning.DefaultParams(), decode[planResult](t, rec).Params)
}

func TestChamberEndpoints(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/api/v1/chambers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"1"}, decode[map[string]any](t, rec)["chambers"])

	rec = e.do(http.MethodGet, "/api/v1/chambers/1?empty=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 40, decode[map[string]any](t, rec)["jars"])

	rec = e.do(http.MethodGet, "/api/v1/chambers/1?format=png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = e.do(http.MethodGet, "/api/v1/chambers/1?format=csv", nil)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "shelf,position,barcode"))

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/chambers/1?strain=DURA", nil).Code)
}

func TestImportEndpoint(t *testing.T) {
	e := newEnv(t)
	csvBody := "Chambre,Emplacement,RawScan,Strain,Line,Milieu,Bocaux\n2,B3,735820250705AX1,DURA,3,XM,12\n"
	rec := e.do(http.MethodPost, "/api/v1/import/csv?operator=importer", csvBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[struct {
		Data struct {
			Imported int `json:"imported"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, 1, report.Data.Imported)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/v1/import/ods", "x").Code)
}

func TestReportEndpoints(t *testing.T) {
	store := memblob.New()
	e := newEnv(t)
	worker := reports.NewWorker(e.svc, store)
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })
	e.h = NewHandler(e.svc, WithReports(worker))

	rec := e.do(http.MethodPost, "/api/v1/reports", map[string]any{"kind": "series", "formats": []string{"json"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var queued struct {
		Report reports.Record `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))

	require.Eventually(t, func() bool {
		rec := e.do(http.MethodGet, "/api/v1/reports/"+queued.Report.ID, nil)
		var got struct {
			Report reports.Record `json:"report"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &got)
		return got.Report.Status == reports.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/v1/reports", `{"kind":"weather"}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/reports/unknown", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/v1/reports", nil).Code)

	disabled := newEnv(t)
	assert.Equal(t, http.StatusNotFound, disabled.do(http.MethodGet, "/api/v1/reports", nil).Code)
}

func TestMetricsMiddleware(t *testing.T) {
	rec, err := metrics.NewRecorderWithRegistry(prometheus.NewRegistry())
	require.NoError(t, err)
	e := newEnv(t, WithMetrics(rec, rec.Handler()), WithDebugVars(expvar.Handler()))
	e.do(http.MethodGet, "/api/v1/dashboard", nil)

	resp := e.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `plantlab_http_requests_total{code="200",method="GET",route="GET /api/v1/dashboard"} 1`)
	assert.Contains(t, resp.Body.String(), `route="POST /api/v1/series"`)

	vars := e.do(http.MethodGet, "/debug/vars", nil)
	require.Equal(t, http.StatusOK, vars.Code)
	assert.Contains(t, vars.Body.String(), "memstats")
}
