package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"plantlab/internal/core"
	"plantlab/pkg/domain"
)

// operator identifies who performed a change: the X-Operator header, else the
// body field.
func operator(r *http.Request, fallback string) string {
	if op := strings.TrimSpace(r.Header.Get("X-Operator")); op != "" {
		return op
	}
	return fallback
}

type mutationResponse struct {
	Data       any                `json:"data"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// splitList accepts repeated and comma separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := h.svc.Statistics(r.Context(), core.StatisticsFilter{
		Chambers: splitList(q["chamber"]),
		Strains:  splitList(q["strain"]),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := core.ParseSearchMode(q.Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.svc.Search(r.Context(), q.Get("q"), mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": mode, "count": len(rows), "results": rows})
}

func (h *Handler) handleListSeries(w http.ResponseWriter, r *http.Request) {
	inactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	rows, err := h.svc.ListSeries(r.Context(), inactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="series.csv"`)
		if err := core.WriteSeriesCSV(w, rows); err != nil {
			h.logger.Error("stream series csv", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "series": rows})
}

func (h *Handler) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetSeries(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type seriesRequest struct {
	core.Series
	Operator string `json:"operator"`
}

func (h *Handler) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req seriesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, res, err := h.svc.CreateSeries(r.Context(), req.Series, operator(r, req.Operator))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse{Data: created, Violations: res.Violations})
}

// handleUpdateSeries merges the JSON body onto the stored series. Identity and
// the active flag cannot be changed here.
func (h *Handler) handleUpdateSeries(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var meta struct {
		Operator string `json:"operator"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		h.writeError(w, r, domain.Invalidf("invalid request body: %v", err))
		return
	}
	updated, res, err := h.svc.UpdateSeries(r.Context(), r.PathValue("id"), operator(r, meta.Operator), func(s *core.Series) error {
		keep := *s
		if err := json.Unmarshal(body, s); err != nil {
			return domain.Invalidf("invalid request body: %v", err)
		}
		s.Base = keep.Base
		s.Active = keep.Active
		return nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Data: updated, Violations: res.Violations})
}

func (h *Handler) handleDeactivateSeries(w http.ResponseWriter, r *http.Request) {
	s, res, err := h.svc.DeactivateSeries(r.Context(), r.PathValue("id"), operator(r, r.URL.Query().Get("operator")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Data: s, Violations: res.Violations})
}

func (h *Handler) handleOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.svc.ListOperations(r.Context(), r.URL.Query().Get("series_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(ops), "operations": ops})
}
