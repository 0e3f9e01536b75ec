package core

import (
	"context"
	"fmt"

	"plantlab/pkg/domain"
)

// ReferenceTable names a normalized lookup table.
type ReferenceTable string

// Reference tables exposed for listing, creation and deletion.
const (
	TableStrains      ReferenceTable = "strains"
	TableVarieties    ReferenceTable = "varieties"
	TableMediums      ReferenceTable = "mediums"
	TableCultureTypes ReferenceTable = "culture_types"
	TableLocations    ReferenceTable = "locations"
)

// ReferenceTables lists the tables in display order.
var ReferenceTables = []ReferenceTable{TableStrains, TableVarieties, TableMediums, TableCultureTypes, TableLocations}

// ParseReferenceTable validates a table name.
func ParseReferenceTable(name string) (ReferenceTable, error) {
	for _, t := range ReferenceTables {
		if string(t) == name {
			return t, nil
		}
	}
	return "", domain.Invalidf("unknown reference table %q", name)
}

func mutate[T any](s *Service, ctx context.Context, op string, fn func(Transaction) (T, error)) (T, Result, error) {
	var out T
	res, err := s.transact(ctx, op, func(tx Transaction) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, res, err
}

func collect[T any](s *Service, ctx context.Context, op string, fn func(TransactionView) []T) ([]T, error) {
	var out []T
	err := s.view(ctx, op, func(v TransactionView) error {
		out = fn(v)
		return nil
	})
	return out, err
}

// ListStrains returns strains ordered by code.
func (s *Service) ListStrains(ctx context.Context) ([]Strain, error) {
	return collect(s, ctx, "list_strains", TransactionView.ListStrains)
}

// CreateStrain persists a new strain.
func (s *Service) CreateStrain(ctx context.Context, strain Strain) (Strain, Result, error) {
	return mutate(s, ctx, "create_strain", func(tx Transaction) (Strain, error) { return tx.CreateStrain(strain) })
}

// UpdateStrain mutates a strain.
func (s *Service) UpdateStrain(ctx context.Context, id string, mutator func(*Strain) error) (Strain, Result, error) {
	return mutate(s, ctx, "update_strain", func(tx Transaction) (Strain, error) { return tx.UpdateStrain(id, mutator) })
}

// DeleteStrain removes a strain no series or variety references.
func (s *Service) DeleteStrain(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_strain", func(tx Transaction) error { return tx.DeleteStrain(id) })
}

// ListVarieties returns varieties ordered by name.
func (s *Service) ListVarieties(ctx context.Context) ([]Variety, error) {
	return collect(s, ctx, "list_varieties", TransactionView.ListVarieties)
}

// CreateVariety persists a new variety.
func (s *Service) CreateVariety(ctx context.Context, variety Variety) (Variety, Result, error) {
	return mutate(s, ctx, "create_variety", func(tx Transaction) (Variety, error) { return tx.CreateVariety(variety) })
}

// UpdateVariety mutates a variety.
func (s *Service) UpdateVariety(ctx context.Context, id string, mutator func(*Variety) error) (Variety, Result, error) {
	return mutate(s, ctx, "update_variety", func(tx Transaction) (Variety, error) { return tx.UpdateVariety(id, mutator) })
}

// DeleteVariety removes an unreferenced variety.
func (s *Service) DeleteVariety(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_variety", func(tx Transaction) error { return tx.DeleteVariety(id) })
}

// ListMediums returns culture media ordered by code.
func (s *Service) ListMediums(ctx context.Context) ([]Medium, error) {
	return collect(s, ctx, "list_mediums", TransactionView.ListMediums)
}

// CreateMedium persists a new culture medium.
func (s *Service) CreateMedium(ctx context.Context, medium Medium) (Medium, Result, error) {
	return mutate(s, ctx, "create_medium", func(tx Transaction) (Medium, error) { return tx.CreateMedium(medium) })
}

// UpdateMedium mutates a culture medium.
func (s *Service) UpdateMedium(ctx context.Context, id string, mutator func(*Medium) error) (Medium, Result, error) {
	return mutate(s, ctx, "update_medium", func(tx Transaction) (Medium, error) { return tx.UpdateMedium(id, mutator) })
}

// DeleteMedium removes an unreferenced culture medium.
func (s *Service) DeleteMedium(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_medium", func(tx Transaction) error { return tx.DeleteMedium(id) })
}

// ListCultureTypes returns culture types ordered by code.
func (s *Service) ListCultureTypes(ctx context.Context) ([]CultureType, error) {
	return collect(s, ctx, "list_culture_types", TransactionView.ListCultureTypes)
}

// CreateCultureType persists a new culture type.
func (s *Service) CreateCultureType(ctx context.Context, ct CultureType) (CultureType, Result, error) {
	return mutate(s, ctx, "create_culture_type", func(tx Transaction) (CultureType, error) { return tx.CreateCultureType(ct) })
}

// UpdateCultureType mutates a culture type.
func (s *Service) UpdateCultureType(ctx context.Context, id string, mutator func(*CultureType) error) (CultureType, Result, error) {
	return mutate(s, ctx, "update_culture_type", func(tx Transaction) (CultureType, error) { return tx.UpdateCultureType(id, mutator) })
}

// DeleteCultureType removes an unreferenced culture type.
func (s *Service) DeleteCultureType(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_culture_type", func(tx Transaction) error { return tx.DeleteCultureType(id) })
}

// ListLocations returns locations ordered by chamber and slot.
func (s *Service) ListLocations(ctx context.Context) ([]Location, error) {
	return collect(s, ctx, "list_locations", TransactionView.ListLocations)
}

// CreateLocation persists a new chamber location.
func (s *Service) CreateLocation(ctx context.Context, loc Location) (Location, Result, error) {
	return mutate(s, ctx, "create_location", func(tx Transaction) (Location, error) { return tx.CreateLocation(loc) })
}

// UpdateLocation mutates a location; capacity changes are checked by the
// location_capacity rule.
func (s *Service) UpdateLocation(ctx context.Context, id string, mutator func(*Location) error) (Location, Result, error) {
	return mutate(s, ctx, "update_location", func(tx Transaction) (Location, error) { return tx.UpdateLocation(id, mutator) })
}

// DeleteLocation removes an unreferenced location.
func (s *Service) DeleteLocation(ctx context.Context, id string) (Result, error) {
	return s.transact(ctx, "delete_location", func(tx Transaction) error { return tx.DeleteLocation(id) })
}

// DeleteReference removes a row from the named table.
func (s *Service) DeleteReference(ctx context.Context, table ReferenceTable, id string) (Result, error) {
	switch table {
	case TableStrains:
		return s.DeleteStrain(ctx, id)
	case TableVarieties:
		return s.DeleteVariety(ctx, id)
	case TableMediums:
		return s.DeleteMedium(ctx, id)
	case TableCultureTypes:
		return s.DeleteCultureType(ctx, id)
	case TableLocations:
		return s.DeleteLocation(ctx, id)
	default:
		return Result{}, fmt.Errorf("delete reference: %w", domain.Invalidf("unknown table %q", table))
	}
}

// ListReference returns the rows of the named table.
func (s *Service) ListReference(ctx context.Context, table ReferenceTable) (any, error) {
	switch table {
	case TableStrains:
		return s.ListStrains(ctx)
	case TableVarieties:
		return s.ListVarieties(ctx)
	case TableMediums:
		return s.ListMediums(ctx)
	case TableCultureTypes:
		return s.ListCultureTypes(ctx)
	case TableLocations:
		return s.ListLocations(ctx)
	default:
		return nil, domain.Invalidf("unknown table %q", table)
	}
}
