package core

import (
	"context"
	"io"

	"plantlab/internal/importer"
)

// ImportTable normalizes a decoded sheet into the store in one transaction.
func (s *Service) ImportTable(ctx context.Context, table importer.Table, opts importer.Options) (importer.Report, Result, error) {
	records, layout := table.Records()
	report, res, err := mutate(s, ctx, "import", func(tx Transaction) (importer.Report, error) {
		return importer.Apply(tx, records, opts)
	})
	if err != nil {
		return importer.Report{}, res, err
	}
	report.Encoding = table.Encoding
	report.Layout = layout
	s.opts.logger.Info("import completed",
		"source", opts.Source,
		"encoding", table.Encoding,
		"rows_read", report.RowsRead,
		"imported", report.Imported,
		"skipped", report.Skipped,
		"duplicates_renamed", report.DuplicatesRenamed,
		"errors", report.ErrorCount,
	)
	return report, res, nil
}

// ImportCSV decodes and imports a CSV export.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader, opts importer.Options) (importer.Report, Result, error) {
	table, err := importer.ReadCSV(r)
	if err != nil {
		return importer.Report{}, Result{}, err
	}
	return s.ImportTable(ctx, table, opts)
}

// ImportExcel imports one worksheet of a workbook; an empty sheet selects
// importer.DefaultSheet.
func (s *Service) ImportExcel(ctx context.Context, r io.Reader, sheet string, opts importer.Options) (importer.Report, Result, error) {
	table, err := importer.ReadExcel(r, sheet)
	if err != nil {
		return importer.Report{}, Result{}, err
	}
	return s.ImportTable(ctx, table, opts)
}

// Reset wipes every reference row, series and operation.
func (s *Service) Reset(ctx context.Context) (Result, error) {
	res, err := s.transact(ctx, "reset", func(tx Transaction) error {
		tx.Reset()
		return nil
	})
	if err == nil {
		s.opts.logger.Warn("store reset")
	}
	return res, err
}
