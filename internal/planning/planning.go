// Package planning builds the weekly transplant schedule: it decides which
// series are due, splits them into worker pools and packs them first-fit
// into half-day slots.
package planning

import (
	"fmt"
	"strings"
	"time"

	"plantlab/internal/barcode"
	"plantlab/pkg/domain"
)

// Pool identifies a group of workers sharing half-day capacity.
type Pool string

// Worker pools.
const (
	PoolGeneral Pool = "pool_gen"
	PoolI       Pool = "pool_i"
)

// Pools lists pools in scheduling order.
var Pools = []Pool{PoolGeneral, PoolI}

var (
	eligibleMediums = map[string]Pool{
		"X":  PoolGeneral,
		"RG": PoolGeneral,
		"XS": PoolGeneral,
		"E":  PoolGeneral,
		"E+": PoolGeneral,
		"XM": PoolI,
		"I":  PoolI,
	}
	// mediums on which BRAHY is transplanted on the short cycle
	brahyFastMediums = map[string]bool{"X": true, "XM": true, "E": true, "E+": true}
)

// Ineligibility reasons.
const (
	ReasonColdChamber  = "cold chamber"
	ReasonMedium       = "medium not eligible"
	ReasonUnknownAge   = "unknown age"
	ReasonInsufficient = "insufficient capacity"
)

// Params configures capacities and age thresholds.
type Params struct {
	GeneralWorkers      int `json:"general_workers"`
	SpecialistWorkers   int `json:"specialist_workers"`
	JarsPerDay          int `json:"jars_per_day"`
	JarsPerBox          int `json:"jars_per_box"`
	BrahyThresholdWeeks int `json:"brahy_threshold_weeks"`
	OtherThresholdWeeks int `json:"other_threshold_weeks"`
}

// DefaultParams returns the lab's standing configuration.
func DefaultParams() Params {
	return Params{
		GeneralWorkers:      17,
		SpecialistWorkers:   3,
		JarsPerDay:          50,
		JarsPerBox:          14,
		BrahyThresholdWeeks: 4,
		OtherThresholdWeeks: 8,
	}
}

// Validate rejects negative or meaningless parameters.
func (p Params) Validate() error {
	switch {
	case p.GeneralWorkers < 0, p.SpecialistWorkers < 0:
		return domain.Invalidf("worker counts must not be negative")
	case p.JarsPerDay <= 0:
		return domain.Invalidf("jars per day must be positive")
	case p.JarsPerBox <= 0:
		return domain.Invalidf("jars per box must be positive")
	case p.BrahyThresholdWeeks < 0, p.OtherThresholdWeeks < 0:
		return domain.Invalidf("thresholds must not be negative")
	}
	return nil
}

// HalfDayCapacity is the number of jars a pool handles in one half day.
func (p Params) HalfDayCapacity(pool Pool) int {
	workers := p.GeneralWorkers
	if pool == PoolI {
		workers = p.SpecialistWorkers
	}
	return int(float64(workers) * float64(p.JarsPerDay) / 2)
}

// Item is the planning input for one active series.
type Item struct {
	SeriesID   string     `json:"series_id"`
	Barcode    string     `json:"barcode"`
	StrainCode string     `json:"strain_code"`
	MediumCode string     `json:"medium_code"`
	Chamber    string     `json:"chamber"`
	Slot       string     `json:"slot"`
	NbWeeks    *int       `json:"nb_weeks,omitempty"`
	PlantedOn  *time.Time `json:"planted_on,omitempty"`
	TotalJars  *int       `json:"total_jars,omitempty"`
	NbBoxes    *int       `json:"nb_boxes,omitempty"`
	JarsPerBox *int       `json:"jars_per_box,omitempty"`
}

// Prepared is an item with its derived age, jar count and eligibility.
type Prepared struct {
	Item
	AgeWeeks *int   `json:"age_weeks,omitempty"`
	Jars     int    `json:"jars"`
	Pool     Pool   `json:"pool,omitempty"`
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// IsColdChamber reports whether chamber names a cold room.
func IsColdChamber(chamber string) bool {
	up := strings.ToUpper(chamber)
	return strings.Contains(up, "CHF") || strings.Contains(up, "FROID")
}

// PoolFor returns the pool handling medium, or false when the medium is not planned.
func PoolFor(medium string) (Pool, bool) {
	pool, ok := eligibleMediums[strings.ToUpper(strings.TrimSpace(medium))]
	return pool, ok
}

// Age resolves the age of an item in weeks. A recorded week count wins,
// then the planting date, then the date stamped in the barcode.
func Age(item Item, ref time.Time) (int, bool) {
	if item.NbWeeks != nil {
		return *item.NbWeeks, true
	}
	if item.PlantedOn != nil {
		return barcode.AgeWeeks(*item.PlantedOn, ref), true
	}
	if planted, ok := barcode.ExtractDate(item.Barcode); ok {
		return barcode.AgeWeeks(planted, ref), true
	}
	return 0, false
}

func (p Params) jars(item Item) int {
	if item.TotalJars != nil {
		return *item.TotalJars
	}
	n := 0
	if item.NbBoxes != nil {
		n += *item.NbBoxes * p.JarsPerBox
	}
	if item.JarsPerBox != nil {
		n += *item.JarsPerBox
	}
	return n
}

func (p Params) threshold(strain, medium string) int {
	if strings.EqualFold(strings.TrimSpace(strain), "BRAHY") && brahyFastMediums[strings.ToUpper(strings.TrimSpace(medium))] {
		return p.BrahyThresholdWeeks
	}
	return p.OtherThresholdWeeks
}

// Prepare derives age, jars, pool and eligibility for every item.
func (p Params) Prepare(items []Item, ref time.Time) []Prepared {
	out := make([]Prepared, 0, len(items))
	for _, item := range items {
		out = append(out, p.prepareOne(item, ref))
	}
	return out
}

func (p Params) prepareOne(item Item, ref time.Time) Prepared {
	prep := Prepared{Item: item, Jars: p.jars(item)}
	if age, ok := Age(item, ref); ok {
		prep.AgeWeeks = &age
	}
	pool, poolOK := PoolFor(item.MediumCode)
	if poolOK {
		prep.Pool = pool
	}
	switch {
	case IsColdChamber(item.Chamber):
		prep.Reason = ReasonColdChamber
	case !poolOK:
		prep.Reason = ReasonMedium
	case prep.AgeWeeks == nil:
		prep.Reason = ReasonUnknownAge
	default:
		limit := p.threshold(item.StrainCode, item.MediumCode)
		if *prep.AgeWeeks < limit {
			prep.Reason = fmt.Sprintf("too young (%dw < %dw)", *prep.AgeWeeks, limit)
		} else {
			prep.Eligible = true
		}
	}
	return prep
}

// WeekStart returns the Monday of the week containing t, at midnight UTC.
func WeekStart(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
