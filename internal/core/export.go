package core

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var seriesHeader = []string{
	"id", "barcode", "barcode_original", "strain_code", "variety_name", "line", "batch_lines",
	"medium_code", "culture_type_code", "chamber", "slot", "planted_on", "nb_weeks",
	"age_category", "rank", "stage", "rank_category", "nb_boxes", "jars_per_box", "total_jars",
	"quality", "notes", "active",
}

// WriteSeriesCSV writes the raw inventory export, one row per series.
func WriteSeriesCSV(w io.Writer, rows []SeriesView) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(seriesHeader); err != nil {
		return err
	}
	for _, v := range rows {
		rec := []string{
			v.ID, v.Barcode, v.BarcodeOriginal, v.StrainCode, v.VarietyName, optInt(v.Line), v.BatchLines,
			v.MediumCode, v.CultureTypeCode, v.Chamber, v.Slot, optDate(v.PlantedOn), optInt(v.NbWeeks),
			v.AgeCategory, optInt(v.Rank), v.Stage, v.RankCategory, optInt(v.NbBoxes), optInt(v.JarsPerBox), optInt(v.TotalJars),
			v.Quality, v.Notes, strconv.FormatBool(v.Active),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func optInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func optDate(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.Format(time.DateOnly)
}
