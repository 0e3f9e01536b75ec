package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"plantlab/internal/chambers"
	"plantlab/internal/core"
	"plantlab/internal/planning"
	"plantlab/pkg/domain"
)

const (
	contentCSV  = "text/csv"
	contentJSON = "application/json"
	contentPNG  = "image/png"
)

func wants(req Request, f Format) bool {
	for _, v := range req.Formats {
		if v == f {
			return true
		}
	}
	return false
}

func marshalJSON(name string, v any, md map[string]string) (rendered, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return rendered{}, fmt.Errorf("marshal %s: %w", name, err)
	}
	return rendered{name: name, format: FormatJSON, contentType: contentJSON, payload: payload, metadata: md}, nil
}

func (w *Worker) renderPlanning(ctx context.Context, req Request) ([]rendered, error) {
	result, err := w.source.PlanWeek(ctx, core.PlanRequest{Params: w.params, Reference: req.Reference, Week: req.Week})
	if err != nil {
		return nil, err
	}
	week := result.WeekStart.Format("2006-01-02")
	md := map[string]string{
		"week_start": week,
		"planned":    strconv.Itoa(result.Stats.Planned),
		"backlog":    strconv.Itoa(result.Stats.Backlog),
	}
	var out []rendered
	if wants(req, FormatCSV) {
		var planned, backlog bytes.Buffer
		if err := planning.WritePlannedCSV(&planned, result.Planned); err != nil {
			return nil, err
		}
		if err := planning.WriteBacklogCSV(&backlog, result.Backlog); err != nil {
			return nil, err
		}
		out = append(out,
			rendered{name: "planned_" + week + ".csv", format: FormatCSV, contentType: contentCSV, payload: planned.Bytes(), metadata: md},
			rendered{name: "backlog_" + week + ".csv", format: FormatCSV, contentType: contentCSV, payload: backlog.Bytes(), metadata: md},
		)
	}
	if wants(req, FormatJSON) {
		r, err := marshalJSON("plan_"+week+".json", result, md)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (w *Worker) renderChamber(ctx context.Context, req Request) ([]rendered, error) {
	plan, err := w.source.ChamberPlan(ctx)
	if err != nil {
		return nil, err
	}
	filter := chambers.Filter{Strain: req.Strain, Medium: req.Medium}
	names := []string{req.Chamber}
	if req.Chamber == "" {
		names = plan.Summary(filter).Chambers
	}
	if len(names) == 0 {
		return nil, domain.Invalidf("no chamber matches the report filter")
	}
	var out []rendered
	for _, name := range names {
		view, ok := plan.Chamber(name, filter, req.ShowEmpty)
		if !ok {
			return nil, fmt.Errorf("%w: chamber %s", domain.ErrNotFound, name)
		}
		md := map[string]string{
			"chamber": name,
			"series":  strconv.Itoa(view.Series),
			"jars":    strconv.Itoa(view.Jars),
		}
		base := "chamber_" + safeName(name)
		if wants(req, FormatCSV) {
			var buf bytes.Buffer
			if err := chambers.WriteDetailCSV(&buf, view.Detail); err != nil {
				return nil, err
			}
			out = append(out, rendered{name: base + "_detail.csv", format: FormatCSV, contentType: contentCSV, payload: buf.Bytes(), metadata: md})
		}
		if wants(req, FormatPNG) {
			img, err := chambers.RenderPNG(view.Heatmap)
			if err != nil {
				return nil, fmt.Errorf("render heatmap %s: %w", name, err)
			}
			out = append(out, rendered{name: base + "_heatmap.png", format: FormatPNG, contentType: contentPNG, payload: img, metadata: md})
		}
	}
	return out, nil
}

func (w *Worker) renderSeries(ctx context.Context, req Request) ([]rendered, error) {
	rows, err := w.source.ListSeries(ctx, req.IncludeInactive)
	if err != nil {
		return nil, err
	}
	md := map[string]string{"rows": strconv.Itoa(len(rows))}
	var out []rendered
	if wants(req, FormatCSV) {
		var buf bytes.Buffer
		if err := core.WriteSeriesCSV(&buf, rows); err != nil {
			return nil, err
		}
		out = append(out, rendered{name: "series.csv", format: FormatCSV, contentType: contentCSV, payload: buf.Bytes(), metadata: md})
	}
	if wants(req, FormatJSON) {
		r, err := marshalJSON("series.json", rows, md)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
