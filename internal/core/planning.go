package core

import (
	"context"
	"time"

	"plantlab/internal/chambers"
	"plantlab/internal/planning"
	"plantlab/pkg/domain"
)

// PlanRequest parameterizes a weekly plan. Zero Reference and Week default to
// the service clock.
type PlanRequest struct {
	Params    planning.Params `json:"params"`
	Reference time.Time       `json:"reference"`
	Week      time.Time       `json:"week"`
}

func planItem(v SeriesView) planning.Item {
	return planning.Item{
		SeriesID:   v.ID,
		Barcode:    v.Barcode,
		StrainCode: v.StrainCode,
		MediumCode: v.MediumCode,
		Chamber:    v.Chamber,
		Slot:       v.Slot,
		NbWeeks:    v.NbWeeks,
		PlantedOn:  v.PlantedOn,
		TotalJars:  v.TotalJars,
		NbBoxes:    v.NbBoxes,
		JarsPerBox: v.JarsPerBox,
	}
}

// PlanWeek schedules the active inventory into the requested week.
func (s *Service) PlanWeek(ctx context.Context, req PlanRequest) (planning.Result, error) {
	now := s.opts.clock.Now()
	if req.Reference.IsZero() {
		req.Reference = now
	}
	if req.Week.IsZero() {
		req.Week = now
	}
	var (
		out planning.Result
		err error
	)
	viewErr := s.view(ctx, "plan_week", func(v TransactionView) error {
		rows := activeViews(v)
		items := make([]planning.Item, 0, len(rows))
		for _, row := range rows {
			items = append(items, planItem(row))
		}
		out, err = req.Params.Plan(items, req.Reference, req.Week)
		return err
	})
	if viewErr != nil {
		return planning.Result{}, viewErr
	}
	s.opts.logger.Info("weekly plan computed", "week_start", out.WeekStart.Format(time.DateOnly), "planned", out.Stats.Planned, "backlog", out.Stats.Backlog)
	return out, nil
}

// RecordTransplant marks series as transplanted on date: the recorded week
// count is cleared so the age restarts from the new planting date.
func (s *Service) RecordTransplant(ctx context.Context, seriesIDs []string, date time.Time, operator string) ([]Series, Result, error) {
	if len(seriesIDs) == 0 {
		return nil, Result{}, domain.Invalidf("no series to transplant")
	}
	if date.IsZero() {
		date = s.opts.clock.Now()
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return mutate(s, ctx, "record_transplant", func(tx Transaction) ([]Series, error) {
		out := make([]Series, 0, len(seriesIDs))
		for _, id := range seriesIDs {
			before, ok := tx.Snapshot().FindSeries(id)
			if !ok {
				return nil, domain.NotFoundError{Entity: domain.EntitySeries, ID: id}
			}
			if !before.Active {
				return nil, domain.Conflictf("series %s is inactive", before.Barcode)
			}
			updated, err := tx.UpdateSeries(id, func(row *Series) error {
				row.NbWeeks = nil
				row.PlantedOn = &day
				return nil
			})
			if err != nil {
				return nil, err
			}
			if err := logOperation(tx, domain.OperationTransplant, operator, &before, &updated, "transplanted "+day.Format(time.DateOnly)); err != nil {
				return nil, err
			}
			out = append(out, updated)
		}
		return out, nil
	})
}

func chamberRow(v SeriesView) chambers.Row {
	return chambers.Row{
		SeriesID:    v.ID,
		Barcode:     v.Barcode,
		StrainCode:  v.StrainCode,
		VarietyName: v.VarietyName,
		BatchLines:  v.BatchLines,
		MediumCode:  v.MediumCode,
		TotalJars:   v.Jars(),
		NbWeeks:     v.NbWeeks,
		Chamber:     v.Chamber,
		Slot:        v.Slot,
	}
}

// ChamberPlan parses the location of every active series.
func (s *Service) ChamberPlan(ctx context.Context) (*chambers.Plan, error) {
	var plan *chambers.Plan
	err := s.view(ctx, "chamber_plan", func(v TransactionView) error {
		rows := activeViews(v)
		out := make([]chambers.Row, 0, len(rows))
		for _, row := range rows {
			out = append(out, chamberRow(row))
		}
		plan = chambers.NewPlan(out)
		return nil
	})
	return plan, err
}
