package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateStrain(Strain) (Strain, error)
	UpdateStrain(id string, mutator func(*Strain) error) (Strain, error)
	DeleteStrain(id string) error
	CreateVariety(Variety) (Variety, error)
	UpdateVariety(id string, mutator func(*Variety) error) (Variety, error)
	DeleteVariety(id string) error
	CreateMedium(Medium) (Medium, error)
	UpdateMedium(id string, mutator func(*Medium) error) (Medium, error)
	DeleteMedium(id string) error
	CreateCultureType(CultureType) (CultureType, error)
	UpdateCultureType(id string, mutator func(*CultureType) error) (CultureType, error)
	DeleteCultureType(id string) error
	CreateLocation(Location) (Location, error)
	UpdateLocation(id string, mutator func(*Location) error) (Location, error)
	DeleteLocation(id string) error
	CreateSeries(Series) (Series, error)
	UpdateSeries(id string, mutator func(*Series) error) (Series, error)
	DeleteSeries(id string) error
	AppendOperation(Operation) (Operation, error)
	// Reset drops every record held by the store.
	Reset()
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListStrains() []Strain
	ListVarieties() []Variety
	ListMediums() []Medium
	ListCultureTypes() []CultureType
	ListLocations() []Location
	ListSeries() []Series
	ListOperations() []Operation
	FindStrain(id string) (Strain, bool)
	FindVariety(id string) (Variety, bool)
	FindMedium(id string) (Medium, bool)
	FindCultureType(id string) (CultureType, bool)
	FindLocation(id string) (Location, bool)
	FindSeries(id string) (Series, bool)
	FindStrainByCode(code string) (Strain, bool)
	FindVarietyByName(name string) (Variety, bool)
	FindMediumByCode(code string) (Medium, bool)
	FindCultureTypeByCode(code string) (CultureType, bool)
	FindLocationByKey(chamber, slot string) (Location, bool)
	FindSeriesByBarcode(barcode string) (Series, bool)
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Close() error
}
