package httpapi

import (
	"context"
	"net/http"

	"plantlab/internal/core"
	"plantlab/pkg/domain"
)

func (h *Handler) handleListReference(w http.ResponseWriter, r *http.Request) {
	table, err := core.ParseReferenceTable(r.PathValue("table"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.svc.ListReference(r.Context(), table)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "rows": rows})
}

func create[T any](r *http.Request, fn func(context.Context, T) (T, core.Result, error)) (any, core.Result, error) {
	var row T
	if err := decodeJSON(r, &row); err != nil {
		return nil, core.Result{}, err
	}
	return fn(r.Context(), row)
}

func (h *Handler) handleCreateReference(w http.ResponseWriter, r *http.Request) {
	table, err := core.ParseReferenceTable(r.PathValue("table"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var (
		row any
		res core.Result
	)
	switch table {
	case core.TableStrains:
		row, res, err = create(r, h.svc.CreateStrain)
	case core.TableVarieties:
		row, res, err = create(r, h.svc.CreateVariety)
	case core.TableMediums:
		row, res, err = create(r, h.svc.CreateMedium)
	case core.TableCultureTypes:
		row, res, err = create(r, h.svc.CreateCultureType)
	case core.TableLocations:
		row, res, err = create(r, h.svc.CreateLocation)
	default:
		err = domain.Invalidf("unknown table %q", table)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse{Data: row, Violations: res.Violations})
}

func (h *Handler) handleDeleteReference(w http.ResponseWriter, r *http.Request) {
	table, err := core.ParseReferenceTable(r.PathValue("table"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.DeleteReference(r.Context(), table, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
