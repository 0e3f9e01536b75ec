package planning

import (
	"encoding/csv"
	"io"
	"strconv"
)

var (
	plannedHeader = []string{"scheduled_day", "scheduled_slot", "scheduled_pool", "barcode", "strain_code", "medium_code", "jars", "age_weeks", "chambre", "emplacement"}
	backlogHeader = []string{"barcode", "strain_code", "medium_code", "jars", "age_weeks", "backlog_reason"}
)

// WritePlannedCSV writes the planned assignments with the lab's column set.
func WritePlannedCSV(w io.Writer, planned []Assignment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(plannedHeader); err != nil {
		return err
	}
	for _, a := range planned {
		rec := []string{a.Day, string(a.Half), string(a.Pool), a.Barcode, a.StrainCode, a.MediumCode, strconv.Itoa(a.Jars), ageLabel(a.Prepared), a.Chamber, a.Slot}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBacklogCSV writes the items that did not fit.
func WriteBacklogCSV(w io.Writer, backlog []Prepared) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(backlogHeader); err != nil {
		return err
	}
	for _, p := range backlog {
		if err := cw.Write([]string{p.Barcode, p.StrainCode, p.MediumCode, strconv.Itoa(p.Jars), ageLabel(p), p.Reason}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ageLabel(p Prepared) string {
	if p.AgeWeeks == nil {
		return ""
	}
	return strconv.Itoa(*p.AgeWeeks)
}
