package core

import (
	"context"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

const topStrains = 10

// GroupTotal aggregates rows and jars under one key.
type GroupTotal struct {
	Key      string   `json:"key"`
	Series   int      `json:"series"`
	Jars     int      `json:"jars"`
	MeanJars *float64 `json:"mean_jars,omitempty"`
}

// Dashboard is the lab overview.
type Dashboard struct {
	TotalSeries   int          `json:"total_series"`
	TotalJars     int          `json:"total_jars"`
	Strains       int          `json:"strains"`
	Chambers      int          `json:"chambers"`
	ByChamber     []GroupTotal `json:"by_chamber"`
	TopStrains    []GroupTotal `json:"top_strains"`
	ByCultureType []GroupTotal `json:"by_culture_type"`
}

// StatisticsFilter restricts statistics to chambers and strains; empty
// lists match everything.
type StatisticsFilter struct {
	Chambers []string `json:"chambers,omitempty"`
	Strains  []string `json:"strains,omitempty"`
}

func (f StatisticsFilter) match(v SeriesView) bool {
	return matchAny(f.Chambers, v.Chamber) && matchAny(f.Strains, v.StrainCode)
}

func matchAny(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), value) {
			return true
		}
	}
	return false
}

// Statistics is the filtered detail view.
type Statistics struct {
	Filter        StatisticsFilter `json:"filter"`
	Rows          int              `json:"rows"`
	Jars          int              `json:"jars"`
	Strains       int              `json:"strains"`
	ByStrain      []GroupTotal     `json:"by_strain"`
	ByMedium      []GroupTotal     `json:"by_medium"`
	ByAgeCategory []GroupTotal     `json:"by_age_category"`
	AllChambers   []string         `json:"all_chambers"`
	AllStrains    []string         `json:"all_strains"`
}

// seriesKey is the (strain, line) identity of a series; ok is false when
// either part is missing.
func seriesKey(v SeriesView) (string, bool) {
	if v.StrainCode == "" || v.Line == nil {
		return "", false
	}
	return v.StrainCode + "|" + v.LineLabel(), true
}

type grouper struct {
	order  []string
	totals map[string]*GroupTotal
	keys   map[string]map[string]struct{}
	jars   map[string][]float64
}

func newGrouper() *grouper {
	return &grouper{totals: map[string]*GroupTotal{}, keys: map[string]map[string]struct{}{}, jars: map[string][]float64{}}
}

// add counts one row under key. When distinct is set the series count is the
// number of distinct (strain, line) pairs instead of rows.
func (g *grouper) add(key string, v SeriesView, distinct bool) {
	t, ok := g.totals[key]
	if !ok {
		t = &GroupTotal{Key: key}
		g.totals[key] = t
		g.order = append(g.order, key)
		g.keys[key] = map[string]struct{}{}
	}
	t.Jars += v.Jars()
	if v.TotalJars != nil {
		g.jars[key] = append(g.jars[key], float64(*v.TotalJars))
	}
	if !distinct {
		t.Series++
		return
	}
	if sk, ok := seriesKey(v); ok {
		g.keys[key][sk] = struct{}{}
		t.Series = len(g.keys[key])
	}
}

// sorted orders totals descending by jars or by series count, ties by key.
func (g *grouper) sorted(byJars bool, withMean bool) []GroupTotal {
	out := make([]GroupTotal, 0, len(g.order))
	for _, k := range g.order {
		t := *g.totals[k]
		if withMean && len(g.jars[k]) > 0 {
			m := math.Round(stat.Mean(g.jars[k], nil)*10) / 10
			t.MeanJars = &m
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Series, out[j].Series
		if byJars {
			a, b = out[i].Jars, out[j].Jars
		}
		if a != b {
			return a > b
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Dashboard summarizes the active inventory.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	err := s.view(ctx, "dashboard", func(v TransactionView) error {
		d = buildDashboard(activeViews(v))
		return nil
	})
	return d, err
}

func buildDashboard(rows []SeriesView) Dashboard {
	var d Dashboard
	series := map[string]struct{}{}
	strains := map[string]struct{}{}
	chambers := map[string]struct{}{}
	byChamber, byStrain, byType := newGrouper(), newGrouper(), newGrouper()
	for _, v := range rows {
		d.TotalJars += v.Jars()
		if k, ok := seriesKey(v); ok {
			series[k] = struct{}{}
		}
		if v.StrainCode != "" {
			strains[v.StrainCode] = struct{}{}
			byStrain.add(v.StrainCode, v, false)
		}
		if v.Chamber != "" {
			chambers[v.Chamber] = struct{}{}
		}
		byChamber.add(v.Chamber, v, false)
		if v.CultureTypeCode != "" {
			byType.add(v.CultureTypeCode, v, true)
		}
	}
	d.TotalSeries = len(series)
	d.Strains = len(strains)
	d.Chambers = len(chambers)
	d.ByChamber = byChamber.sorted(true, false)
	d.TopStrains = byStrain.sorted(true, false)
	if len(d.TopStrains) > topStrains {
		d.TopStrains = d.TopStrains[:topStrains]
	}
	d.ByCultureType = byType.sorted(true, false)
	return d
}

// Statistics computes filtered breakdowns per strain, medium and age category.
func (s *Service) Statistics(ctx context.Context, filter StatisticsFilter) (Statistics, error) {
	var st Statistics
	err := s.view(ctx, "statistics", func(v TransactionView) error {
		st = buildStatistics(activeViews(v), filter)
		return nil
	})
	return st, err
}

func buildStatistics(rows []SeriesView, filter StatisticsFilter) Statistics {
	st := Statistics{Filter: filter}
	chambers := map[string]struct{}{}
	allStrains := map[string]struct{}{}
	strains := map[string]struct{}{}
	byStrain, byMedium, byAge := newGrouper(), newGrouper(), newGrouper()
	for _, v := range rows {
		if v.Chamber != "" {
			chambers[v.Chamber] = struct{}{}
		}
		if v.StrainCode != "" {
			allStrains[v.StrainCode] = struct{}{}
		}
		if !filter.match(v) {
			continue
		}
		st.Rows++
		st.Jars += v.Jars()
		if v.StrainCode != "" {
			strains[v.StrainCode] = struct{}{}
			byStrain.add(v.StrainCode, v, false)
		}
		if v.MediumCode != "" {
			byMedium.add(v.MediumCode, v, false)
		}
		if v.AgeCategory != "" {
			byAge.add(v.AgeCategory, v, false)
		}
	}
	st.Strains = len(strains)
	st.ByStrain = byStrain.sorted(true, true)
	st.ByMedium = byMedium.sorted(true, false)
	st.ByAgeCategory = byAge.sorted(false, false)
	st.AllChambers = sortedKeys(chambers)
	st.AllStrains = sortedKeys(allStrains)
	return st
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
