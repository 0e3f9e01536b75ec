package core

import (
	"context"
	"strings"

	"plantlab/pkg/domain"
)

// SearchMode selects the fields a search term is matched against.
type SearchMode string

// Search modes.
const (
	SearchAll     SearchMode = "all"
	SearchSeries  SearchMode = "series"
	SearchBarcode SearchMode = "barcode"
	SearchStrain  SearchMode = "strain"
	SearchVariety SearchMode = "variety"
	SearchLine    SearchMode = "line"
	SearchChamber SearchMode = "chamber"
	SearchMedium  SearchMode = "medium"
	SearchType    SearchMode = "type"
)

// SearchModes lists the supported modes.
var SearchModes = []SearchMode{SearchAll, SearchSeries, SearchBarcode, SearchStrain, SearchVariety, SearchLine, SearchChamber, SearchMedium, SearchType}

// ParseSearchMode validates a mode name; empty selects SearchAll.
func ParseSearchMode(name string) (SearchMode, error) {
	if name == "" {
		return SearchAll, nil
	}
	for _, m := range SearchModes {
		if strings.EqualFold(string(m), name) {
			return m, nil
		}
	}
	return "", domain.Invalidf("unknown search mode %q", name)
}

// fields returns the values of v a mode matches against.
func (m SearchMode) fields(v SeriesView) []string {
	switch m {
	case SearchSeries:
		if v.StrainCode == "" || v.Line == nil {
			return nil
		}
		line := v.LineLabel()
		return []string{v.StrainCode + " " + line, v.StrainCode + "-" + line, v.StrainCode + "_" + line}
	case SearchBarcode:
		return []string{v.Barcode, v.BarcodeOriginal}
	case SearchStrain:
		return []string{v.StrainCode}
	case SearchVariety:
		return []string{v.VarietyName}
	case SearchLine:
		return []string{v.LineLabel()}
	case SearchChamber:
		return []string{v.Chamber}
	case SearchMedium:
		return []string{v.MediumCode}
	case SearchType:
		return []string{v.CultureTypeCode}
	default:
		return []string{v.Barcode, v.BarcodeOriginal, v.StrainCode, v.VarietyName, v.LineLabel(), v.Chamber, v.Slot, v.MediumCode, v.CultureTypeCode}
	}
}

// Match reports whether v contains term in one of the mode's fields,
// ignoring case.
func (m SearchMode) Match(v SeriesView, term string) bool {
	needle := strings.ToLower(strings.TrimSpace(term))
	for _, f := range m.fields(v) {
		if f != "" && strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// Search returns the active series matching term, ordered by barcode.
func (s *Service) Search(ctx context.Context, term string, mode SearchMode) ([]SeriesView, error) {
	if strings.TrimSpace(term) == "" {
		return nil, domain.Invalidf("search term required")
	}
	if mode == "" {
		mode = SearchAll
	}
	return collect(s, ctx, "search", func(v TransactionView) []SeriesView {
		out := make([]SeriesView, 0)
		for _, row := range activeViews(v) {
			if mode.Match(row, term) {
				out = append(out, row)
			}
		}
		return out
	})
}
