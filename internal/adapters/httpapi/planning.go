package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"plantlab/internal/chambers"
	"plantlab/internal/core"
	"plantlab/internal/importer"
	"plantlab/internal/planning"
	"plantlab/pkg/domain"
)

// date accepts YYYY-MM-DD or RFC 3339.
type date struct{ time.Time }

func (d *date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return domain.Invalidf("invalid date %q", s)
}

type planRequest struct {
	Week      date             `json:"week"`
	Reference date             `json:"reference"`
	Params    *planning.Params `json:"params"`
}

func (h *Handler) handlePlanRun(w http.ResponseWriter, r *http.Request) {
	// fields absent from the body keep the configured values
	params := h.params
	req := planRequest{Params: &params}
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Params == nil {
		req.Params = &h.params
	}
	result, err := h.svc.PlanWeek(r.Context(), core.PlanRequest{Params: *req.Params, Reference: req.Reference.Time, Week: req.Week.Time})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "csv":
		name := fmt.Sprintf("planned_%s.csv", result.WeekStart.Format(time.DateOnly))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if err := planning.WritePlannedCSV(w, result.Planned); err != nil {
			h.logger.Error("stream planned csv", "error", err)
		}
	case "backlog_csv":
		w.Header().Set("Content-Type", "text/csv")
		if err := planning.WriteBacklogCSV(w, result.Backlog); err != nil {
			h.logger.Error("stream backlog csv", "error", err)
		}
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

type transplantRequest struct {
	SeriesIDs []string `json:"series_ids"`
	Date      date     `json:"date"`
	Operator  string   `json:"operator"`
}

func (h *Handler) handleTransplants(w http.ResponseWriter, r *http.Request) {
	var req transplantRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, res, err := h.svc.RecordTransplant(r.Context(), req.SeriesIDs, req.Date.Time, operator(r, req.Operator))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Data: updated, Violations: res.Violations})
}

func chamberFilter(r *http.Request) chambers.Filter {
	q := r.URL.Query()
	return chambers.Filter{Strain: q.Get("strain"), Medium: q.Get("medium")}
}

func (h *Handler) handleChambers(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.ChamberPlan(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan.Summary(chamberFilter(r)))
}

func (h *Handler) handleChamber(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.ChamberPlan(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	name := r.PathValue("chamber")
	showEmpty, _ := strconv.ParseBool(r.URL.Query().Get("empty"))
	view, ok := plan.Chamber(name, chamberFilter(r), showEmpty)
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: chamber %s has no matching series", domain.ErrNotFound, name))
		return
	}
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "png":
		img, err := chambers.RenderPNG(view.Heatmap)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	case "csv":
		var buf bytes.Buffer
		if err := chambers.WriteDetailCSV(&buf, view.Detail); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "chamber_"+name+".csv"))
		_, _ = w.Write(buf.Bytes())
	default:
		writeJSON(w, http.StatusOK, view)
	}
}

// handleImport loads a CSV or Excel export from the request body.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	replace, _ := strconv.ParseBool(q.Get("replace"))
	opts := importer.Options{Replace: replace, Operator: operator(r, q.Get("operator")), Source: q.Get("source")}
	var (
		report importer.Report
		res    core.Result
		err    error
	)
	switch strings.ToLower(r.PathValue("format")) {
	case "csv":
		report, res, err = h.svc.ImportCSV(r.Context(), http.MaxBytesReader(w, r.Body, maxBodyBytes), opts)
	case "excel", "xlsx":
		report, res, err = h.svc.ImportExcel(r.Context(), http.MaxBytesReader(w, r.Body, maxBodyBytes), q.Get("sheet"), opts)
	default:
		err = domain.Invalidf("unsupported import format %q", r.PathValue("format"))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Data: report, Violations: res.Violations})
}
