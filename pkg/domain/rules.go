package domain

import (
	"context"
	"fmt"
)

// RuleView is the committed-to-be state a rule inspects.
type RuleView interface {
	ListSeries() []Series
	ListLocations() []Location
	FindLocation(id string) (Location, bool)
}

// Rule checks a transaction before it commits. changes lists what the
// transaction wrote; view shows the state as it would be after commit.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine runs its rules in registration order. A nil engine has no rules.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine returns an engine holding rules.
func NewRulesEngine(rules ...Rule) *RulesEngine {
	e := &RulesEngine{}
	for _, r := range rules {
		e.Register(r)
	}
	return e
}

// Register adds rule. A rule with the same name as an existing one replaces
// it in place.
func (e *RulesEngine) Register(rule Rule) {
	for i, r := range e.rules {
		if r.Name() == rule.Name() {
			e.rules[i] = rule
			return
		}
	}
	e.rules = append(e.rules, rule)
}

// Rules lists rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate merges the violations of every rule. The first rule error stops
// evaluation. Violations that do not name their rule are attributed to the
// rule that produced them.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var out Result
	if e == nil {
		return out, nil
	}
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		for i := range res.Violations {
			if res.Violations[i].Rule == "" {
				res.Violations[i].Rule = rule.Name()
			}
		}
		out.Merge(res)
	}
	return out, nil
}
