// Package importer reads the lab's inventory exports (CSV or Excel), maps
// their spreadsheet headers onto typed records and normalizes them into the
// store's reference tables and series.
package importer

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Canonical column names.
const (
	ColChamber       = "chambre"
	ColSlot          = "emplacement"
	ColRawScan       = "raw_scan"
	ColNbBoxes       = "nb_caisse"
	ColLooseJars     = "nb_bocaux"
	ColRawScanManual = "raw_scan_mani_p"
	ColStrain        = "strain"
	ColLine          = "line"
	ColDate          = "date"
	ColNbWeeks       = "nb_sem"
	ColAgeCategory   = "age_ams"
	ColType          = "type"
	ColTotalJars     = "bocaux"
	ColMedium        = "milieu"
	ColRank          = "rang"
	ColStage         = "x_or_e_or_r_or_i"
	ColRankCategory  = "rang_rang_plus"
	ColTypeRank      = "type_rang"
	ColVariety       = "nom_varietes"
	ColBatchNumber   = "batch_number"
	ColBatchLines    = "batch_lines"
	ColQuality       = "qualite_chf"
	ColExtra1        = "col_22"
	ColExtra2        = "col_23"
	ColNotes         = "notes"
)

// ColumnMapping maps spreadsheet headers to canonical column names.
var ColumnMapping = map[string]string{
	"Chambre":        ColChamber,
	"Emplacement":    ColSlot,
	"RawScan":        ColRawScan,
	"Nb caisse":      ColNbBoxes,
	"Nb bocaux":      ColLooseJars,
	"RawScan-Mani p": ColRawScanManual,
	"Strain":         ColStrain,
	"Line":           ColLine,
	"Date":           ColDate,
	"NbSem":          ColNbWeeks,
	"AgeAMS":         ColAgeCategory,
	"Type":           ColType,
	"Bocaux":         ColTotalJars,
	"Milieu":         ColMedium,
	"Rang":           ColRank,
	"XorEorRori":     ColStage,
	"Rang/Rang+":     ColRankCategory,
	"Type+Rang":      ColTypeRank,
	"nom_varietes":   ColVariety,
	"Batch#":         ColBatchNumber,
	"BatchLines":     ColBatchLines,
	"Qualité CHF":    ColQuality,
	"< alt+e":        ColNotes,
}

var foldedMapping = func() map[string]string {
	m := make(map[string]string, len(ColumnMapping))
	for k, v := range ColumnMapping {
		m[strings.ToLower(k)] = v
	}
	return m
}()

func lookupColumn(header string) (string, bool) {
	h := strings.TrimSpace(header)
	if c, ok := ColumnMapping[h]; ok {
		return c, true
	}
	c, ok := foldedMapping[strings.ToLower(h)]
	return c, ok
}

func droppableHeader(header string) bool {
	h := strings.TrimSpace(header)
	if h == "" || strings.Contains(h, "Unnamed") {
		return true
	}
	for _, r := range h {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Table is a decoded sheet: a header row and data rows.
type Table struct {
	Header   []string
	Rows     [][]string
	Encoding string
}

// Record is one inventory row with typed columns.
type Record struct {
	Row           int
	Chamber       string
	Slot          string
	RawScan       string
	RawScanManual string
	NbBoxes       *int
	LooseJars     *int
	Strain        string
	Line          *int
	Date          *time.Time
	NbWeeks       *int
	AgeCategory   string
	Type          string
	TotalJars     *int
	Medium        string
	Rank          *int
	Stage         string
	RankCategory  string
	TypeRank      string
	Variety       string
	BatchNumber   string
	BatchLines    string
	Quality       string
	Extra1        string
	Extra2        string
	Notes         string
}

// Layout reports how headers were resolved.
type Layout struct {
	Mapped  []string `json:"mapped"`
	Dropped []string `json:"dropped"`
	Extras  []string `json:"extras"`
}

// Records maps a table onto records. Columns named Unnamed*, numeric
// headers and all-empty columns are dropped; the first two unmapped columns
// land in col_22/col_23 and any further ones are folded into notes.
func (t Table) Records() ([]Record, Layout) {
	var layout Layout
	target := make([]string, len(t.Header))
	var extras []int
	for i, h := range t.Header {
		if droppableHeader(h) || columnEmpty(t.Rows, i) {
			layout.Dropped = append(layout.Dropped, h)
			continue
		}
		if c, ok := lookupColumn(h); ok {
			target[i] = c
			layout.Mapped = append(layout.Mapped, h)
			continue
		}
		switch len(extras) {
		case 0:
			target[i] = ColExtra1
		case 1:
			target[i] = ColExtra2
		default:
			layout.Extras = append(layout.Extras, h)
		}
		extras = append(extras, i)
	}
	overflow := map[int]bool{}
	if len(extras) > 2 {
		for _, i := range extras[2:] {
			overflow[i] = true
		}
	}

	records := make([]Record, 0, len(t.Rows))
	for n, row := range t.Rows {
		if rowEmpty(row) {
			continue
		}
		values := make(map[string]string, len(target))
		var spill []string
		for i, cell := range row {
			if i >= len(target) {
				break
			}
			if overflow[i] {
				spill = append(spill, strings.TrimSpace(cell))
				continue
			}
			if target[i] != "" {
				values[target[i]] = strings.TrimSpace(cell)
			}
		}
		for i := len(row); i < len(target); i++ {
			if overflow[i] {
				spill = append(spill, "")
			}
		}
		rec := buildRecord(n+2, values)
		if extra := joinSpill(spill); extra != "" {
			if rec.Notes != "" {
				rec.Notes = rec.Notes + " " + extra
			} else {
				rec.Notes = extra
			}
		}
		records = append(records, rec)
	}
	return records, layout
}

func joinSpill(values []string) string {
	joined := strings.Join(values, " | ")
	if strings.Trim(joined, " |") == "" {
		return ""
	}
	return joined
}

func columnEmpty(rows [][]string, col int) bool {
	for _, row := range rows {
		if col < len(row) && strings.TrimSpace(row[col]) != "" {
			return false
		}
	}
	return true
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func buildRecord(row int, v map[string]string) Record {
	return Record{
		Row:           row,
		Chamber:       v[ColChamber],
		Slot:          v[ColSlot],
		RawScan:       v[ColRawScan],
		RawScanManual: v[ColRawScanManual],
		NbBoxes:       ParseInt(v[ColNbBoxes]),
		LooseJars:     ParseInt(v[ColLooseJars]),
		Strain:        v[ColStrain],
		Line:          ParseInt(v[ColLine]),
		Date:          ParseDate(v[ColDate]),
		NbWeeks:       ParseInt(v[ColNbWeeks]),
		AgeCategory:   v[ColAgeCategory],
		Type:          v[ColType],
		TotalJars:     ParseInt(v[ColTotalJars]),
		Medium:        v[ColMedium],
		Rank:          ParseInt(v[ColRank]),
		Stage:         v[ColStage],
		RankCategory:  v[ColRankCategory],
		TypeRank:      v[ColTypeRank],
		Variety:       v[ColVariety],
		BatchNumber:   v[ColBatchNumber],
		BatchLines:    v[ColBatchLines],
		Quality:       v[ColQuality],
		Extra1:        v[ColExtra1],
		Extra2:        v[ColExtra2],
		Notes:         v[ColNotes],
	}
}

// ParseInt coerces a numeric cell; fractional values are truncated and
// anything unparseable, non-finite or out of int32 range yields nil.
func ParseInt(s string) *int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return nil
	}
	n := int(f)
	return &n
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"2006/01/02",
	"01-02-06",
	"1-2-06",
}

// excelEpoch is day zero of the 1900 date system, adjusted for Lotus' phantom leap day.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate accepts ISO dates, US month-first dates, year-first slashed dates
// and Excel serial numbers. Unparseable input yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 1 && f < 2958466 {
		d := excelEpoch.AddDate(0, 0, int(f))
		return &d
	}
	return nil
}
