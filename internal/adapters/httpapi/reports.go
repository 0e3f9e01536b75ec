package httpapi

import (
	"fmt"
	"net/http"

	"plantlab/internal/adapters/reports"
	"plantlab/pkg/domain"
)

type reportRequest struct {
	Kind            string   `json:"kind"`
	Formats         []string `json:"formats"`
	Week            date     `json:"week"`
	Reference       date     `json:"reference"`
	Chamber         string   `json:"chamber"`
	Strain          string   `json:"strain"`
	Medium          string   `json:"medium"`
	ShowEmpty       bool     `json:"show_empty"`
	IncludeInactive bool     `json:"include_inactive"`
	RequestedBy     string   `json:"requested_by"`
}

func (h *Handler) reportsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.reports == nil {
		h.writeError(w, r, fmt.Errorf("%w: report exports are not enabled", domain.ErrNotFound))
		return false
	}
	return true
}

func (h *Handler) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	if !h.reportsEnabled(w, r) {
		return
	}
	var req reportRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	formats := make([]reports.Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		formats = append(formats, reports.Format(f))
	}
	record, err := h.reports.Enqueue(r.Context(), reports.Request{
		Kind:            reports.Kind(req.Kind),
		Formats:         formats,
		Week:            req.Week.Time,
		Reference:       req.Reference.Time,
		Chamber:         req.Chamber,
		Strain:          req.Strain,
		Medium:          req.Medium,
		ShowEmpty:       req.ShowEmpty,
		IncludeInactive: req.IncludeInactive,
		RequestedBy:     operator(r, req.RequestedBy),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"report": record})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if !h.reportsEnabled(w, r) {
		return
	}
	record, ok := h.reports.Get(r.PathValue("id"))
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: report %s", domain.ErrNotFound, r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": record})
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	if !h.reportsEnabled(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": h.reports.List()})
}
