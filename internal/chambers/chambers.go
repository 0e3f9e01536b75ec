// Package chambers parses chamber locations into shelf/position coordinates
// and aggregates occupancy into per-chamber heatmaps.
package chambers

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"plantlab/internal/planning"
)

// Shelves lists valid shelf letters in display order.
const Shelves = "ABCDEZ"

// MaxIndex is the largest shelf position accepted. Larger indexes parse as
// unknown so heatmap columns stay bounded.
const MaxIndex = 999

// LocationType classifies a parsed location.
type LocationType string

// Location classes.
const (
	TypeStandard LocationType = "standard"
	TypeCold     LocationType = "cold"
	TypeUnknown  LocationType = "unknown"
)

var (
	fullSlot     = regexp.MustCompile(`^(\d+)([` + Shelves + `])(\d+)$`)
	shelfSlot    = regexp.MustCompile(`^([` + Shelves + `])(\d+)$`)
	chamberShelf = regexp.MustCompile(`^(\d+)([` + Shelves + `])$`)
	digitsOnly   = regexp.MustCompile(`^\d+$`)
)

// Position is a parsed location.
type Position struct {
	Type       LocationType `json:"type"`
	ChamberNum string       `json:"chamber_num,omitempty"`
	Shelf      string       `json:"shelf,omitempty"`
	Index      int          `json:"position,omitempty"`
}

// Parse resolves a (chamber, slot) pair. Recognized layouts are "1A20" in
// the slot, chamber "1" with slot "A20", and chamber "1A" with slot "20".
func Parse(chamber, slot string) Position {
	c := strings.ToUpper(strings.TrimSpace(chamber))
	s := strings.ToUpper(strings.TrimSpace(slot))
	if planning.IsColdChamber(c) {
		return Position{Type: TypeCold}
	}
	if m := fullSlot.FindStringSubmatch(s); m != nil {
		return standard(m[1], m[2], m[3])
	}
	if c != "" && digitsOnly.MatchString(c) {
		if m := shelfSlot.FindStringSubmatch(s); m != nil {
			return standard(c, m[1], m[2])
		}
	}
	if m := chamberShelf.FindStringSubmatch(c); m != nil && digitsOnly.MatchString(s) {
		return standard(m[1], m[2], s)
	}
	return Position{Type: TypeUnknown}
}

func standard(chamber, shelf, pos string) Position {
	n, err := strconv.Atoi(pos)
	if err != nil || n > MaxIndex {
		return Position{Type: TypeUnknown}
	}
	return Position{Type: TypeStandard, ChamberNum: chamber, Shelf: shelf, Index: n}
}

// Row is one active series as shown on the chamber plan.
type Row struct {
	SeriesID    string `json:"series_id"`
	Barcode     string `json:"barcode"`
	StrainCode  string `json:"strain_code"`
	VarietyName string `json:"variety_name"`
	BatchLines  string `json:"batch_lines"`
	MediumCode  string `json:"medium_code"`
	TotalJars   int    `json:"total_jars"`
	NbWeeks     *int   `json:"nb_weeks,omitempty"`
	Chamber     string `json:"chamber"`
	Slot        string `json:"slot"`
}

// Placed is a row with its parsed position.
type Placed struct {
	Row
	Position
}

// Filter restricts rows by strain and medium code; empty fields match all.
type Filter struct {
	Strain string
	Medium string
}

func (f Filter) match(r Row) bool {
	if f.Strain != "" && !strings.EqualFold(f.Strain, r.StrainCode) {
		return false
	}
	if f.Medium != "" && !strings.EqualFold(f.Medium, r.MediumCode) {
		return false
	}
	return true
}

// CountSeries counts distinct (strain code, batch lines) pairs.
func CountSeries[T interface{ key() [2]string }](rows []T) int {
	seen := make(map[[2]string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.key()] = struct{}{}
	}
	return len(seen)
}

func (r Row) key() [2]string { return [2]string{r.StrainCode, r.BatchLines} }

// Summary is the whole-lab overview of the chamber plan.
type Summary struct {
	TotalSeries    int      `json:"total_series"`
	StandardSeries int      `json:"standard_series"`
	ColdSeries     int      `json:"cold_series"`
	UnknownSeries  int      `json:"unknown_series"`
	Unknown        []Placed `json:"unknown,omitempty"`
	Chambers       []string `json:"chambers"`
	Strains        []string `json:"strains"`
	Mediums        []string `json:"mediums"`
	FilteredSeries int      `json:"filtered_series"`
}

const unknownSample = 20

// Plan holds parsed rows ready for aggregation.
type Plan struct {
	rows []Placed
}

// NewPlan parses every row.
func NewPlan(rows []Row) *Plan {
	placed := make([]Placed, 0, len(rows))
	for _, r := range rows {
		placed = append(placed, Placed{Row: r, Position: Parse(r.Chamber, r.Slot)})
	}
	return &Plan{rows: placed}
}

func (p *Plan) byType(t LocationType) []Placed {
	var out []Placed
	for _, r := range p.rows {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func (p *Plan) filtered(f Filter) []Placed {
	var out []Placed
	for _, r := range p.byType(TypeStandard) {
		if f.match(r.Row) {
			out = append(out, r)
		}
	}
	return out
}

// Summary reports series counts per location class plus the filter options.
func (p *Plan) Summary(f Filter) Summary {
	standardRows := p.byType(TypeStandard)
	unknown := p.byType(TypeUnknown)
	filtered := p.filtered(f)
	s := Summary{
		TotalSeries:    CountSeries(p.rows),
		StandardSeries: CountSeries(standardRows),
		ColdSeries:     CountSeries(p.byType(TypeCold)),
		UnknownSeries:  CountSeries(unknown),
		FilteredSeries: CountSeries(filtered),
	}
	if len(unknown) > unknownSample {
		unknown = unknown[:unknownSample]
	}
	s.Unknown = unknown
	s.Strains = distinct(standardRows, func(r Placed) string { return r.StrainCode })
	s.Mediums = distinct(standardRows, func(r Placed) string { return r.MediumCode })
	s.Chambers = sortChambers(distinct(filtered, func(r Placed) string { return r.ChamberNum }))
	return s
}

func distinct(rows []Placed, field func(Placed) string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, r := range rows {
		v := field(r)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// sortChambers orders numeric chamber names numerically.
func sortChambers(names []string) []string {
	sort.SliceStable(names, func(i, j int) bool {
		a, errA := strconv.Atoi(names[i])
		b, errB := strconv.Atoi(names[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// Cell is one grid position of a shelf.
type Cell struct {
	Position   int    `json:"position"`
	Count      int    `json:"count"`
	StrainCode string `json:"strain_code,omitempty"`
	BatchLines string `json:"batch_lines,omitempty"`
	Jars       int    `json:"jars"`
}

// ShelfView is one shelf of a chamber grid.
type ShelfView struct {
	Shelf  string `json:"shelf"`
	Series int    `json:"series"`
	Cells  []Cell `json:"cells"`
}

// Heatmap sums jars by shelf (rows) and position (columns 1..MaxPosition).
type Heatmap struct {
	Shelves     []string `json:"shelves"`
	MaxPosition int      `json:"max_position"`
	Values      [][]int  `json:"values"`
}

// Max returns the largest cell value.
func (h Heatmap) Max() int {
	m := 0
	for _, row := range h.Values {
		for _, v := range row {
			if v > m {
				m = v
			}
		}
	}
	return m
}

// ChamberView is the detailed plan of one chamber.
type ChamberView struct {
	Chamber string      `json:"chamber"`
	Series  int         `json:"series"`
	Jars    int         `json:"jars"`
	Strains int         `json:"strains"`
	Heatmap Heatmap     `json:"heatmap"`
	Grid    []ShelfView `json:"grid"`
	Detail  []Placed    `json:"detail"`
}

// Chamber builds the view of one chamber after filtering. The boolean is
// false when no row matches.
func (p *Plan) Chamber(name string, f Filter, showEmpty bool) (ChamberView, bool) {
	var rows []Placed
	for _, r := range p.filtered(f) {
		if r.ChamberNum == name {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return ChamberView{}, false
	}
	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := strings.Index(Shelves, rows[i].Shelf), strings.Index(Shelves, rows[j].Shelf)
		if si != sj {
			return si < sj
		}
		return rows[i].Index < rows[j].Index
	})

	view := ChamberView{Chamber: name, Series: CountSeries(rows), Detail: rows}
	strains := make(map[string]struct{})
	maxPos := 0
	for _, r := range rows {
		view.Jars += r.TotalJars
		if r.StrainCode != "" {
			strains[r.StrainCode] = struct{}{}
		}
		if r.Index > maxPos {
			maxPos = r.Index
		}
	}
	view.Strains = len(strains)

	hm := Heatmap{MaxPosition: maxPos}
	for _, shelf := range Shelves {
		var shelfRows []Placed
		for _, r := range rows {
			if r.Shelf == string(shelf) {
				shelfRows = append(shelfRows, r)
			}
		}
		if len(shelfRows) == 0 {
			continue
		}
		values := make([]int, maxPos)
		byPos := make(map[int][]Placed)
		for _, r := range shelfRows {
			if r.Index >= 1 {
				values[r.Index-1] += r.TotalJars
			}
			byPos[r.Index] = append(byPos[r.Index], r)
		}
		hm.Shelves = append(hm.Shelves, string(shelf))
		hm.Values = append(hm.Values, values)
		view.Grid = append(view.Grid, shelfGrid(string(shelf), shelfRows, byPos, maxPos, showEmpty))
	}
	view.Heatmap = hm
	return view, true
}

func shelfGrid(shelf string, rows []Placed, byPos map[int][]Placed, maxPos int, showEmpty bool) ShelfView {
	sv := ShelfView{Shelf: shelf, Series: CountSeries(rows), Cells: []Cell{}}
	var positions []int
	if showEmpty {
		for i := 1; i <= maxPos; i++ {
			positions = append(positions, i)
		}
	} else {
		for pos := range byPos {
			positions = append(positions, pos)
		}
		sort.Ints(positions)
	}
	for _, pos := range positions {
		items := byPos[pos]
		cell := Cell{Position: pos, Count: len(items)}
		if len(items) > 0 {
			cell.StrainCode = items[0].StrainCode
			cell.BatchLines = items[0].BatchLines
			cell.Jars = items[0].TotalJars
		}
		sv.Cells = append(sv.Cells, cell)
	}
	return sv
}
