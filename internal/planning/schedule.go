package planning

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Half is a morning or afternoon working period.
type Half string

// Working halves of a day.
const (
	Morning   Half = "morning"
	Afternoon Half = "afternoon"
)

var halves = []Half{Morning, Afternoon}

const workingDays = 5

// Slot is one half day of one pool.
type Slot struct {
	Day      string     `json:"day"`
	Half     Half       `json:"half"`
	Date     time.Time  `json:"date"`
	Capacity int        `json:"capacity"`
	Used     int        `json:"used"`
	Items    []Prepared `json:"items"`
}

// Key renders the slot as "<Day>_<half>".
func (s Slot) Key() string { return s.Day + "_" + string(s.Half) }

// Remaining is the capacity still free.
func (s Slot) Remaining() int { return s.Capacity - s.Used }

// Percent is the used share of capacity, 0 when the slot has none.
func (s Slot) Percent() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Capacity) * 100
}

// PoolSchedule is the slot grid of one pool.
type PoolSchedule struct {
	Pool     Pool   `json:"pool"`
	Capacity int    `json:"half_day_capacity"`
	Slots    []Slot `json:"slots"`
}

// Assignment records where a planned item landed.
type Assignment struct {
	Prepared
	Pool Pool      `json:"scheduled_pool"`
	Day  string    `json:"scheduled_day"`
	Half Half      `json:"scheduled_half"`
	Date time.Time `json:"scheduled_date"`
}

// SlotUsage reports the load of one slot.
type SlotUsage struct {
	Pool    Pool    `json:"pool"`
	Key     string  `json:"key"`
	Used    int     `json:"used"`
	Percent float64 `json:"percent"`
}

// Stats summarizes a plan.
type Stats struct {
	Eligible    int          `json:"total_eligible"`
	Planned     int          `json:"total_planned"`
	Backlog     int          `json:"total_backlog"`
	JarsPlanned map[Pool]int `json:"jars_planned"`
	Usage       []SlotUsage  `json:"usage"`
}

// StrainGroup is the scheduling unit: all due items of one strain in one pool.
type StrainGroup struct {
	Strain    string     `json:"strain"`
	MeanAge   float64    `json:"mean_age"`
	TotalJars int        `json:"total_jars"`
	Items     []Prepared `json:"items"`
}

// Result is a computed weekly plan.
type Result struct {
	WeekStart  time.Time      `json:"week_start"`
	Params     Params         `json:"params"`
	Schedule   []PoolSchedule `json:"schedule"`
	Planned    []Assignment   `json:"planned"`
	Backlog    []Prepared     `json:"backlog"`
	Ineligible []Prepared     `json:"ineligible"`
	Stats      Stats          `json:"stats"`
}

// Plan prepares items against ref and schedules the eligible ones into the
// week containing week.
func (p Params) Plan(items []Item, ref, week time.Time) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	return p.Schedule(p.Prepare(items, ref), week), nil
}

// Schedule packs eligible prepared items into the week containing week.
// Items are never split across slots.
func (p Params) Schedule(prepared []Prepared, week time.Time) Result {
	monday := WeekStart(week)
	res := Result{
		WeekStart: monday,
		Params:    p,
		Stats:     Stats{JarsPlanned: make(map[Pool]int, len(Pools))},
	}
	byPool := make(map[Pool][]Prepared, len(Pools))
	for _, item := range prepared {
		if !item.Eligible {
			res.Ineligible = append(res.Ineligible, item)
			continue
		}
		res.Stats.Eligible++
		byPool[item.Pool] = append(byPool[item.Pool], item)
	}

	for _, pool := range Pools {
		sched := newPoolSchedule(pool, p.HalfDayCapacity(pool), monday)
		for _, group := range GroupByStrain(byPool[pool]) {
			for _, item := range group.Items {
				idx := sched.firstFit(item.Jars)
				if idx < 0 {
					item.Reason = ReasonInsufficient
					res.Backlog = append(res.Backlog, item)
					continue
				}
				slot := &sched.Slots[idx]
				slot.Used += item.Jars
				slot.Items = append(slot.Items, item)
				res.Planned = append(res.Planned, Assignment{Prepared: item, Pool: pool, Day: slot.Day, Half: slot.Half, Date: slot.Date})
				res.Stats.JarsPlanned[pool] += item.Jars
			}
		}
		for _, slot := range sched.Slots {
			res.Stats.Usage = append(res.Stats.Usage, SlotUsage{Pool: pool, Key: slot.Key(), Used: slot.Used, Percent: slot.Percent()})
		}
		res.Schedule = append(res.Schedule, sched)
	}
	res.Stats.Planned = len(res.Planned)
	res.Stats.Backlog = len(res.Backlog)
	return res
}

func newPoolSchedule(pool Pool, capacity int, monday time.Time) PoolSchedule {
	sched := PoolSchedule{Pool: pool, Capacity: capacity}
	for d := 0; d < workingDays; d++ {
		date := monday.AddDate(0, 0, d)
		for _, h := range halves {
			sched.Slots = append(sched.Slots, Slot{Day: date.Weekday().String(), Half: h, Date: date, Capacity: capacity, Items: []Prepared{}})
		}
	}
	return sched
}

func (s PoolSchedule) firstFit(jars int) int {
	for i, slot := range s.Slots {
		if slot.Remaining() >= jars {
			return i
		}
	}
	return -1
}

// GroupByStrain orders items for placement: strain groups by mean age
// descending (ties by strain code), items within a group by age descending
// (ties by barcode).
func GroupByStrain(items []Prepared) []StrainGroup {
	index := make(map[string]int)
	var groups []StrainGroup
	for _, item := range items {
		i, ok := index[item.StrainCode]
		if !ok {
			i = len(groups)
			index[item.StrainCode] = i
			groups = append(groups, StrainGroup{Strain: item.StrainCode})
		}
		groups[i].Items = append(groups[i].Items, item)
		groups[i].TotalJars += item.Jars
	}
	for i := range groups {
		ages := make([]float64, len(groups[i].Items))
		for j, item := range groups[i].Items {
			ages[j] = float64(ageOf(item))
		}
		groups[i].MeanAge = stat.Mean(ages, nil)
		sort.SliceStable(groups[i].Items, func(a, b int) bool {
			x, y := groups[i].Items[a], groups[i].Items[b]
			if ageOf(x) != ageOf(y) {
				return ageOf(x) > ageOf(y)
			}
			return x.Barcode < y.Barcode
		})
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].MeanAge != groups[b].MeanAge {
			return groups[a].MeanAge > groups[b].MeanAge
		}
		return groups[a].Strain < groups[b].Strain
	})
	return groups
}

func ageOf(p Prepared) int {
	if p.AgeWeeks == nil {
		return 0
	}
	return *p.AgeWeeks
}

// Summary renders a one-line description of the plan for logs and the CLI.
func (r Result) Summary() string {
	return fmt.Sprintf("week of %s: %d eligible, %d planned (%d gen jars, %d i jars), %d backlog",
		r.WeekStart.Format("2006-01-02"), r.Stats.Eligible, r.Stats.Planned,
		r.Stats.JarsPlanned[PoolGeneral], r.Stats.JarsPlanned[PoolI], r.Stats.Backlog)
}
