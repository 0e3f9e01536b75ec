package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"plantlab/internal/chambers"
	"plantlab/internal/core"
	"plantlab/internal/importer"
	"plantlab/internal/planning"
	"plantlab/pkg/domain"
)

func newImportCmd(g *globals) *cobra.Command {
	var (
		opts  importer.Options
		sheet string
	)
	cmd := &cobra.Command{
		Use:   "import <csv|excel> <file>",
		Short: "Load an inventory export into the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := g.logger("import")
			svc, closeSvc, err := g.openService(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer closeSvc()

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			if opts.Source == "" {
				opts.Source = filepath.Base(args[1])
			}
			var (
				report importer.Report
				res    core.Result
			)
			switch strings.ToLower(args[0]) {
			case "csv":
				report, res, err = svc.ImportCSV(cmd.Context(), f, opts)
			case "excel", "xlsx":
				report, res, err = svc.ImportExcel(cmd.Context(), f, sheet, opts)
			default:
				return domain.Invalidf("unsupported import format %q", args[0])
			}
			if err != nil {
				return err
			}
			for _, v := range res.Violations {
				logger.Warn("rule violation", "rule", v.Rule, "message", v.Message)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "wipe the store before loading")
	cmd.Flags().StringVar(&opts.Operator, "operator", "", "operator recorded in the operations log")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source label, defaults to the file name")
	cmd.Flags().StringVar(&sheet, "sheet", importer.DefaultSheet, "excel worksheet holding the scanned rows")
	return cmd
}

func newStatsCmd(g *globals) *cobra.Command {
	var filter core.StatisticsFilter
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the dashboard, or filtered statistics with --chamber/--strain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeSvc, err := g.openService(cmd.Context(), g.logger("stats"))
			if err != nil {
				return err
			}
			defer closeSvc()
			if len(filter.Chambers) == 0 && len(filter.Strains) == 0 {
				dash, err := svc.Dashboard(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), dash)
			}
			stats, err := svc.Statistics(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringSliceVar(&filter.Chambers, "chamber", nil, "restrict to chambers")
	cmd.Flags().StringSliceVar(&filter.Strains, "strain", nil, "restrict to strain codes")
	return cmd
}

func newSearchCmd(g *globals) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search active series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := core.ParseSearchMode(mode)
			if err != nil {
				return err
			}
			svc, closeSvc, err := g.openService(cmd.Context(), g.logger("search"))
			if err != nil {
				return err
			}
			defer closeSvc()
			rows, err := svc.Search(cmd.Context(), args[0], m)
			if err != nil {
				return err
			}
			return core.WriteSeriesCSV(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(core.SearchAll), "search mode: all, series, barcode, strain, variety, line, chamber, medium or type")
	return cmd
}

func newPlanCmd(g *globals) *cobra.Command {
	var week, ref, out string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the weekly transplant plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := core.PlanRequest{Params: g.cfg.Planning}
			var err error
			if req.Week, err = parseDay(week); err != nil {
				return err
			}
			if req.Reference, err = parseDay(ref); err != nil {
				return err
			}
			svc, closeSvc, err := g.openService(cmd.Context(), g.logger("plan"))
			if err != nil {
				return err
			}
			defer closeSvc()
			result, err := svc.PlanWeek(cmd.Context(), req)
			if err != nil {
				return err
			}
			if out == "" {
				return printJSON(cmd.OutOrStdout(), result)
			}
			return writePlanFiles(out, result)
		},
	}
	cmd.Flags().StringVar(&week, "week", "", "any day of the planned week (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVar(&ref, "ref", "", "reference date for ages (YYYY-MM-DD), defaults to today")
	cmd.Flags().StringVarP(&out, "out", "o", "", "directory receiving planned and backlog CSV files")
	return cmd
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, domain.Invalidf("invalid date %q", s)
	}
	return t, nil
}

func writePlanFiles(dir string, result planning.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	week := result.WeekStart.Format(time.DateOnly)
	files := []struct {
		name  string
		write func(*os.File) error
	}{
		{"planned_" + week + ".csv", func(f *os.File) error { return planning.WritePlannedCSV(f, result.Planned) }},
		{"backlog_" + week + ".csv", func(f *os.File) error { return planning.WriteBacklogCSV(f, result.Backlog) }},
	}
	for _, file := range files {
		f, err := os.Create(filepath.Join(dir, file.name))
		if err != nil {
			return err
		}
		err = file.write(f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", file.name, err)
		}
	}
	return nil
}

func newChambersCmd(g *globals) *cobra.Command {
	var (
		filter    chambers.Filter
		showEmpty bool
		png       string
	)
	cmd := &cobra.Command{
		Use:   "chambers [chamber]",
		Short: "Show the chamber summary, or one chamber's occupancy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeSvc, err := g.openService(cmd.Context(), g.logger("chambers"))
			if err != nil {
				return err
			}
			defer closeSvc()
			plan, err := svc.ChamberPlan(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return printJSON(cmd.OutOrStdout(), plan.Summary(filter))
			}
			view, ok := plan.Chamber(args[0], filter, showEmpty)
			if !ok {
				return fmt.Errorf("%w: chamber %s has no matching series", domain.ErrNotFound, args[0])
			}
			if png != "" {
				img, err := chambers.RenderPNG(view.Heatmap)
				if err != nil {
					return err
				}
				if err := os.WriteFile(png, img, 0o644); err != nil {
					return err
				}
			}
			return chambers.WriteDetailCSV(cmd.OutOrStdout(), view.Detail)
		},
	}
	cmd.Flags().StringVar(&filter.Strain, "strain", "", "restrict to a strain code")
	cmd.Flags().StringVar(&filter.Medium, "medium", "", "restrict to a medium code")
	cmd.Flags().BoolVar(&showEmpty, "empty", false, "include empty positions")
	cmd.Flags().StringVar(&png, "png", "", "also write the heatmap to this PNG file")
	return cmd
}

func newResetCmd(g *globals) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every series, operation and reference row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return domain.Invalidf("reset is destructive, pass --yes to confirm")
			}
			logger := g.logger("reset")
			svc, closeSvc, err := g.openService(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer closeSvc()
			if _, err := svc.Reset(cmd.Context()); err != nil {
				return err
			}
			logger.Info("store reset", "driver", g.cfg.Storage.Driver)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
