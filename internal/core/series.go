package core

import (
	"context"
	"encoding/json"
	"fmt"

	"plantlab/pkg/domain"
)

// resolveView joins a series with the codes of its reference rows.
func resolveView(v TransactionView, s Series) SeriesView {
	out := SeriesView{Series: s}
	if s.StrainID != nil {
		if r, ok := v.FindStrain(*s.StrainID); ok {
			out.StrainCode = r.Code
		}
	}
	if s.VarietyID != nil {
		if r, ok := v.FindVariety(*s.VarietyID); ok {
			out.VarietyName = r.Name
		}
	}
	if s.MediumID != nil {
		if r, ok := v.FindMedium(*s.MediumID); ok {
			out.MediumCode = r.Code
		}
	}
	if s.CultureTypeID != nil {
		if r, ok := v.FindCultureType(*s.CultureTypeID); ok {
			out.CultureTypeCode = r.Code
		}
	}
	if s.LocationID != nil {
		if r, ok := v.FindLocation(*s.LocationID); ok {
			out.Chamber = r.Chamber
			out.Slot = r.Slot
		}
	}
	return out
}

// activeViews resolves every active series, ordered by barcode.
func activeViews(v TransactionView) []SeriesView {
	series := v.ListSeries()
	out := make([]SeriesView, 0, len(series))
	for _, s := range series {
		if s.Active {
			out = append(out, resolveView(v, s))
		}
	}
	return out
}

// ListSeries returns resolved series ordered by barcode. Inactive series are
// included only when requested.
func (s *Service) ListSeries(ctx context.Context, includeInactive bool) ([]SeriesView, error) {
	return collect(s, ctx, "list_series", func(v TransactionView) []SeriesView {
		if !includeInactive {
			return activeViews(v)
		}
		series := v.ListSeries()
		out := make([]SeriesView, 0, len(series))
		for _, row := range series {
			out = append(out, resolveView(v, row))
		}
		return out
	})
}

// GetSeries returns one resolved series.
func (s *Service) GetSeries(ctx context.Context, id string) (SeriesView, error) {
	var out SeriesView
	err := s.view(ctx, "get_series", func(v TransactionView) error {
		row, ok := v.FindSeries(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntitySeries, ID: id}
		}
		out = resolveView(v, row)
		return nil
	})
	return out, err
}

// GetSeriesByBarcode returns the series carrying code, case-insensitively.
func (s *Service) GetSeriesByBarcode(ctx context.Context, code string) (SeriesView, error) {
	var out SeriesView
	err := s.view(ctx, "get_series_by_barcode", func(v TransactionView) error {
		row, ok := v.FindSeriesByBarcode(code)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntitySeries, ID: code}
		}
		out = resolveView(v, row)
		return nil
	})
	return out, err
}

func logOperation(tx Transaction, kind domain.OperationType, operator string, before, after *Series, notes string) error {
	op := domain.Operation{Type: kind, Operator: operator, Notes: notes}
	if after != nil {
		op.SeriesID = after.ID
		payload, err := json.Marshal(after)
		if err != nil {
			return fmt.Errorf("encode operation payload: %w", err)
		}
		op.After = payload
	}
	if before != nil {
		op.SeriesID = before.ID
		payload, err := json.Marshal(before)
		if err != nil {
			return fmt.Errorf("encode operation payload: %w", err)
		}
		op.Before = payload
	}
	_, err := tx.AppendOperation(op)
	return err
}

// CreateSeries persists a new active series and logs a create operation.
func (s *Service) CreateSeries(ctx context.Context, series Series, operator string) (Series, Result, error) {
	return mutate(s, ctx, "create_series", func(tx Transaction) (Series, error) {
		series.Active = true
		created, err := tx.CreateSeries(series)
		if err != nil {
			return Series{}, err
		}
		return created, logOperation(tx, domain.OperationCreate, operator, nil, &created, "")
	})
}

// UpdateSeries mutates a series and logs the before/after state.
func (s *Service) UpdateSeries(ctx context.Context, id, operator string, mutator func(*Series) error) (Series, Result, error) {
	return mutate(s, ctx, "update_series", func(tx Transaction) (Series, error) {
		before, ok := tx.Snapshot().FindSeries(id)
		if !ok {
			return Series{}, domain.NotFoundError{Entity: domain.EntitySeries, ID: id}
		}
		updated, err := tx.UpdateSeries(id, mutator)
		if err != nil {
			return Series{}, err
		}
		return updated, logOperation(tx, domain.OperationUpdate, operator, &before, &updated, "")
	})
}

// DeactivateSeries marks a series inactive. Series are never hard-deleted so
// that their operations log survives.
func (s *Service) DeactivateSeries(ctx context.Context, id, operator string) (Series, Result, error) {
	return mutate(s, ctx, "deactivate_series", func(tx Transaction) (Series, error) {
		before, ok := tx.Snapshot().FindSeries(id)
		if !ok {
			return Series{}, domain.NotFoundError{Entity: domain.EntitySeries, ID: id}
		}
		if !before.Active {
			return before, domain.Conflictf("series %s already inactive", before.Barcode)
		}
		updated, err := tx.UpdateSeries(id, func(row *Series) error {
			row.Active = false
			return nil
		})
		if err != nil {
			return Series{}, err
		}
		return updated, logOperation(tx, domain.OperationDeactivate, operator, &before, &updated, "")
	})
}

// ListOperations returns the operations log, restricted to one series when
// seriesID is set.
func (s *Service) ListOperations(ctx context.Context, seriesID string) ([]Operation, error) {
	return collect(s, ctx, "list_operations", func(v TransactionView) []Operation {
		ops := v.ListOperations()
		if seriesID == "" {
			return ops
		}
		out := make([]Operation, 0, len(ops))
		for _, op := range ops {
			if op.SeriesID == seriesID {
				out = append(out, op)
			}
		}
		return out
	})
}
