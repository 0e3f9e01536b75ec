package core

import (
	"context"
	"fmt"

	"plantlab/internal/barcode"
	"plantlab/pkg/domain"
)

// Built-in rule names.
const (
	RuleLocationCapacity = "location_capacity"
	RuleSeriesAgeKnown   = "series_age_known"
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewLocationCapacityRule())
	engine.Register(NewSeriesAgeKnownRule())
	return engine
}

// NewLocationCapacityRule blocks commits that load a location beyond its jar capacity.
func NewLocationCapacityRule() domain.Rule {
	return locationCapacityRule{}
}

type locationCapacityRule struct{}

func (locationCapacityRule) Name() string { return RuleLocationCapacity }

func (locationCapacityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	load := make(map[string]int)
	for _, s := range view.ListSeries() {
		if !s.Active || s.LocationID == nil {
			continue
		}
		load[*s.LocationID] += s.Jars()
	}

	res := domain.Result{}
	for _, loc := range view.ListLocations() {
		if loc.Capacity <= 0 {
			continue
		}
		if jars := load[loc.ID]; jars > loc.Capacity {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleLocationCapacity,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("location %s/%s over capacity: %d/%d jars", loc.Chamber, loc.Slot, jars, loc.Capacity),
				Entity:   domain.EntityLocation,
				EntityID: loc.ID,
			})
		}
	}
	return res, nil
}

// NewSeriesAgeKnownRule warns about series written in the transaction whose
// age cannot be derived.
func NewSeriesAgeKnownRule() domain.Rule {
	return seriesAgeKnownRule{}
}

type seriesAgeKnownRule struct{}

func (seriesAgeKnownRule) Name() string { return RuleSeriesAgeKnown }

func (seriesAgeKnownRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySeries || change.Action == domain.ActionDelete {
			continue
		}
		s, ok := change.After.(domain.Series)
		if !ok || !s.Active || ageKnown(s) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleSeriesAgeKnown,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("series %s has no recorded age and no date in its barcode", s.Barcode),
			Entity:   domain.EntitySeries,
			EntityID: s.ID,
		})
	}
	return res, nil
}

func ageKnown(s domain.Series) bool {
	if s.NbWeeks != nil || s.PlantedOn != nil {
		return true
	}
	_, ok := barcode.ExtractDate(s.Barcode)
	return ok
}
