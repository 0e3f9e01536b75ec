// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by plantlab.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySeries identifies an in-vitro plant batch.
	EntitySeries EntityType = "series"
	// EntityStrain identifies a strain reference row.
	EntityStrain EntityType = "strain"
	// EntityVariety identifies a variety reference row.
	EntityVariety EntityType = "variety"
	// EntityMedium identifies a culture medium reference row.
	EntityMedium EntityType = "medium"
	// EntityCultureType identifies a culture type reference row.
	EntityCultureType EntityType = "culture_type"
	// EntityLocation identifies a chamber location reference row.
	EntityLocation EntityType = "location"
	// EntityOperation identifies an operations log entry.
	EntityOperation EntityType = "operation"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// OperationType enumerates the kinds of entries written to the operations log.
type OperationType string

// Operation types recorded against a series.
const (
	OperationCreate     OperationType = "create"
	OperationUpdate     OperationType = "update"
	OperationDeactivate OperationType = "deactivate"
	OperationTransplant OperationType = "transplant"
	OperationImport     OperationType = "import"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Strain is a genetic strain of palm grown in the lab.
type Strain struct {
	Base
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Origin      string `json:"origin,omitempty"`
}

// Variety is a named variety, optionally derived from a strain.
type Variety struct {
	Base
	Name        string  `json:"name"`
	StrainID    *string `json:"strain_id,omitempty"`
	BatchNumber string  `json:"batch_number,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Medium is a culture medium a series is grown on.
type Medium struct {
	Base
	Code                string `json:"code"`
	Name                string `json:"name,omitempty"`
	Composition         string `json:"composition,omitempty"`
	PreparationProtocol string `json:"preparation_protocol,omitempty"`
}

// CultureType classifies a culture (for example rooting or multiplication).
type CultureType struct {
	Base
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// Location is a chamber slot holding series.
type Location struct {
	Base
	Chamber     string   `json:"chamber"`
	Slot        string   `json:"slot,omitempty"`
	Capacity    int      `json:"capacity"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// Series is an in-vitro plant batch identified by its barcode.
type Series struct {
	Base
	Barcode         string     `json:"barcode"`
	BarcodeOriginal string     `json:"barcode_original,omitempty"`
	StrainID        *string    `json:"strain_id,omitempty"`
	VarietyID       *string    `json:"variety_id,omitempty"`
	MediumID        *string    `json:"medium_id,omitempty"`
	CultureTypeID   *string    `json:"culture_type_id,omitempty"`
	LocationID      *string    `json:"location_id,omitempty"`
	Line            *int       `json:"line,omitempty"`
	PlantedOn       *time.Time `json:"planted_on,omitempty"`
	NbWeeks         *int       `json:"nb_weeks,omitempty"`
	AgeCategory     string     `json:"age_category,omitempty"`
	Rank            *int       `json:"rank,omitempty"`
	Stage           string     `json:"stage,omitempty"`
	RankCategory    string     `json:"rank_category,omitempty"`
	NbBoxes         *int       `json:"nb_boxes,omitempty"`
	JarsPerBox      *int       `json:"jars_per_box,omitempty"`
	TotalJars       *int       `json:"total_jars,omitempty"`
	Quality         string     `json:"quality,omitempty"`
	BatchLines      string     `json:"batch_lines,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Active          bool       `json:"active"`
}

// Jars returns the recorded jar total, or zero when unknown.
func (s Series) Jars() int {
	if s.TotalJars == nil {
		return 0
	}
	return *s.TotalJars
}

// Operation is an operations log entry attached to a series.
type Operation struct {
	Base
	SeriesID   string        `json:"series_id"`
	Type       OperationType `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	// Seq orders operations appended at the same instant.
	Seq        int64         `json:"seq"`
	Operator   string        `json:"operator,omitempty"`
	Before     []byte        `json:"before,omitempty"`
	After      []byte        `json:"after,omitempty"`
	Notes      string        `json:"notes,omitempty"`
}

// SeriesView is a series joined with its reference codes, as displayed and searched.
type SeriesView struct {
	Series
	StrainCode      string `json:"strain_code,omitempty"`
	VarietyName     string `json:"variety_name,omitempty"`
	MediumCode      string `json:"medium_code,omitempty"`
	CultureTypeCode string `json:"culture_type_code,omitempty"`
	Chamber         string `json:"chamber,omitempty"`
	Slot            string `json:"slot,omitempty"`
}

// LineLabel renders the line number, or an empty string when unknown.
func (v SeriesView) LineLabel() string {
	if v.Line == nil {
		return ""
	}
	return strconv.Itoa(*v.Line)
}

// NormalizeKey folds a natural key for case-insensitive uniqueness checks.
func NormalizeKey(parts ...string) string {
	folded := make([]string, len(parts))
	for i, p := range parts {
		folded[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return strings.Join(folded, "\x1f")
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
