// Package memory provides an in-memory implementation of the persistence
// store used for tests, ephemeral environments, and as the transactional
// core of the durable backends.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"plantlab/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.TransactionView = transactionView{}
	_ domain.RuleView        = transactionView{}
)

type (
	Strain      = domain.Strain
	Variety     = domain.Variety
	Medium      = domain.Medium
	CultureType = domain.CultureType
	Location    = domain.Location
	Series      = domain.Series
	Operation   = domain.Operation
	Change      = domain.Change
	Result      = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Strains      map[string]Strain      `json:"strains"`
	Varieties    map[string]Variety     `json:"varieties"`
	Mediums      map[string]Medium      `json:"mediums"`
	CultureTypes map[string]CultureType `json:"culture_types"`
	Locations    map[string]Location    `json:"locations"`
	Series       map[string]Series      `json:"series"`
	Operations   map[string]Operation   `json:"operations"`
}

type memoryState struct {
	strains      map[string]Strain
	varieties    map[string]Variety
	mediums      map[string]Medium
	cultureTypes map[string]CultureType
	locations    map[string]Location
	series       map[string]Series
	operations   map[string]Operation
	opSeq        int64

	// natural key -> id
	strainCodes   map[string]string
	varietyNames  map[string]string
	mediumCodes   map[string]string
	cultureCodes  map[string]string
	locationKeys  map[string]string
	seriesBarcode map[string]string
}

func newMemoryState() memoryState {
	return memoryState{
		strains:       make(map[string]Strain),
		varieties:     make(map[string]Variety),
		mediums:       make(map[string]Medium),
		cultureTypes:  make(map[string]CultureType),
		locations:     make(map[string]Location),
		series:        make(map[string]Series),
		operations:    make(map[string]Operation),
		strainCodes:   make(map[string]string),
		varietyNames:  make(map[string]string),
		mediumCodes:   make(map[string]string),
		cultureCodes:  make(map[string]string),
		locationKeys:  make(map[string]string),
		seriesBarcode: make(map[string]string),
	}
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.strains {
		c.strains[k] = v
	}
	for k, v := range s.varieties {
		c.varieties[k] = cloneVariety(v)
	}
	for k, v := range s.mediums {
		c.mediums[k] = v
	}
	for k, v := range s.cultureTypes {
		c.cultureTypes[k] = v
	}
	for k, v := range s.locations {
		c.locations[k] = cloneLocation(v)
	}
	for k, v := range s.series {
		c.series[k] = cloneSeries(v)
	}
	for k, v := range s.operations {
		c.operations[k] = cloneOperation(v)
	}
	copyIndex(c.strainCodes, s.strainCodes)
	copyIndex(c.varietyNames, s.varietyNames)
	copyIndex(c.mediumCodes, s.mediumCodes)
	copyIndex(c.cultureCodes, s.cultureCodes)
	copyIndex(c.locationKeys, s.locationKeys)
	copyIndex(c.seriesBarcode, s.seriesBarcode)
	c.opSeq = s.opSeq
	return c
}

func copyIndex(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Strains:      c.strains,
		Varieties:    c.varieties,
		Mediums:      c.mediums,
		CultureTypes: c.cultureTypes,
		Locations:    c.locations,
		Series:       c.series,
		Operations:   c.operations,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Strains {
		state.strains[k] = v
		state.strainCodes[domain.NormalizeKey(v.Code)] = k
	}
	for k, v := range s.Varieties {
		state.varieties[k] = cloneVariety(v)
		state.varietyNames[domain.NormalizeKey(v.Name)] = k
	}
	for k, v := range s.Mediums {
		state.mediums[k] = v
		state.mediumCodes[domain.NormalizeKey(v.Code)] = k
	}
	for k, v := range s.CultureTypes {
		state.cultureTypes[k] = v
		state.cultureCodes[domain.NormalizeKey(v.Code)] = k
	}
	for k, v := range s.Locations {
		state.locations[k] = cloneLocation(v)
		state.locationKeys[domain.NormalizeKey(v.Chamber, v.Slot)] = k
	}
	for k, v := range s.Series {
		state.series[k] = cloneSeries(v)
		state.seriesBarcode[domain.NormalizeKey(v.Barcode)] = k
	}
	for k, v := range s.Operations {
		state.operations[k] = cloneOperation(v)
		state.opSeq = max(state.opSeq, v.Seq)
	}
	return state
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneVariety(v Variety) Variety {
	cp := v
	cp.StrainID = cloneStringPtr(v.StrainID)
	return cp
}

func cloneLocation(l Location) Location {
	cp := l
	cp.Temperature = cloneFloatPtr(l.Temperature)
	cp.Humidity = cloneFloatPtr(l.Humidity)
	return cp
}

func cloneSeries(s Series) Series {
	cp := s
	cp.StrainID = cloneStringPtr(s.StrainID)
	cp.VarietyID = cloneStringPtr(s.VarietyID)
	cp.MediumID = cloneStringPtr(s.MediumID)
	cp.CultureTypeID = cloneStringPtr(s.CultureTypeID)
	cp.LocationID = cloneStringPtr(s.LocationID)
	cp.Line = cloneIntPtr(s.Line)
	cp.NbWeeks = cloneIntPtr(s.NbWeeks)
	cp.Rank = cloneIntPtr(s.Rank)
	cp.NbBoxes = cloneIntPtr(s.NbBoxes)
	cp.JarsPerBox = cloneIntPtr(s.JarsPerBox)
	cp.TotalJars = cloneIntPtr(s.TotalJars)
	if s.PlantedOn != nil {
		t := *s.PlantedOn
		cp.PlantedOn = &t
	}
	return cp
}

func cloneOperation(o Operation) Operation {
	cp := o
	cp.Before = append([]byte(nil), o.Before...)
	cp.After = append([]byte(nil), o.After...)
	return cp
}

// Store provides an in-memory transactional store for the plant domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string { return uuid.NewString() }

// ExportState returns a deep copy of the current state for persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the current state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

func sortedValues[T any](m map[string]T, key func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

func (v transactionView) ListStrains() []Strain {
	return sortedValues(v.state.strains, func(s Strain) string { return strings.ToUpper(s.Code) })
}

func (v transactionView) ListVarieties() []Variety {
	out := sortedValues(v.state.varieties, func(x Variety) string { return strings.ToUpper(x.Name) })
	for i := range out {
		out[i] = cloneVariety(out[i])
	}
	return out
}

func (v transactionView) ListMediums() []Medium {
	return sortedValues(v.state.mediums, func(m Medium) string { return strings.ToUpper(m.Code) })
}

func (v transactionView) ListCultureTypes() []CultureType {
	return sortedValues(v.state.cultureTypes, func(c CultureType) string { return strings.ToUpper(c.Code) })
}

func (v transactionView) ListLocations() []Location {
	out := sortedValues(v.state.locations, func(l Location) string { return domain.NormalizeKey(l.Chamber, l.Slot) })
	for i := range out {
		out[i] = cloneLocation(out[i])
	}
	return out
}

func (v transactionView) ListSeries() []Series {
	out := sortedValues(v.state.series, func(s Series) string { return s.Barcode })
	for i := range out {
		out[i] = cloneSeries(out[i])
	}
	return out
}

func (v transactionView) ListOperations() []Operation {
	out := make([]Operation, 0, len(v.state.operations))
	for _, o := range v.state.operations {
		out = append(out, cloneOperation(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			if out[i].Seq != out[j].Seq {
				return out[i].Seq < out[j].Seq
			}
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

func (v transactionView) FindStrain(id string) (Strain, bool) {
	s, ok := v.state.strains[id]
	return s, ok
}

func (v transactionView) FindVariety(id string) (Variety, bool) {
	x, ok := v.state.varieties[id]
	if !ok {
		return Variety{}, false
	}
	return cloneVariety(x), true
}

func (v transactionView) FindMedium(id string) (Medium, bool) {
	m, ok := v.state.mediums[id]
	return m, ok
}

func (v transactionView) FindCultureType(id string) (CultureType, bool) {
	c, ok := v.state.cultureTypes[id]
	return c, ok
}

func (v transactionView) FindLocation(id string) (Location, bool) {
	l, ok := v.state.locations[id]
	if !ok {
		return Location{}, false
	}
	return cloneLocation(l), true
}

func (v transactionView) FindSeries(id string) (Series, bool) {
	s, ok := v.state.series[id]
	if !ok {
		return Series{}, false
	}
	return cloneSeries(s), true
}

func (v transactionView) FindStrainByCode(code string) (Strain, bool) {
	return v.FindStrain(v.state.strainCodes[domain.NormalizeKey(code)])
}

func (v transactionView) FindVarietyByName(name string) (Variety, bool) {
	return v.FindVariety(v.state.varietyNames[domain.NormalizeKey(name)])
}

func (v transactionView) FindMediumByCode(code string) (Medium, bool) {
	return v.FindMedium(v.state.mediumCodes[domain.NormalizeKey(code)])
}

func (v transactionView) FindCultureTypeByCode(code string) (CultureType, bool) {
	return v.FindCultureType(v.state.cultureCodes[domain.NormalizeKey(code)])
}

func (v transactionView) FindLocationByKey(chamber, slot string) (Location, bool) {
	return v.FindLocation(v.state.locationKeys[domain.NormalizeKey(chamber, slot)])
}

func (v transactionView) FindSeriesByBarcode(barcode string) (Series, bool) {
	return v.FindSeries(v.state.seriesBarcode[domain.NormalizeKey(barcode)])
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) Reset() {
	tx.state = newMemoryState()
}

// claimKey registers key for id in index, failing when another record owns it.
func claimKey(index map[string]string, key, id string, entity domain.EntityType, label string) error {
	if owner, ok := index[key]; ok && owner != id {
		return domain.Conflictf("%s %q already exists", entity, label)
	}
	index[key] = id
	return nil
}

func releaseKey(index map[string]string, key, id string) {
	if index[key] == id {
		delete(index, key)
	}
}

func (tx *transaction) requireRef(entity domain.EntityType, id *string) error {
	if id == nil {
		return nil
	}
	var ok bool
	switch entity {
	case domain.EntityStrain:
		_, ok = tx.state.strains[*id]
	case domain.EntityVariety:
		_, ok = tx.state.varieties[*id]
	case domain.EntityMedium:
		_, ok = tx.state.mediums[*id]
	case domain.EntityCultureType:
		_, ok = tx.state.cultureTypes[*id]
	case domain.EntityLocation:
		_, ok = tx.state.locations[*id]
	}
	if !ok {
		return domain.NotFoundError{Entity: entity, ID: *id}
	}
	return nil
}

// referenced reports whether any series (or variety, for strains) points at id.
func (tx *transaction) referenced(entity domain.EntityType, id string) bool {
	for _, s := range tx.state.series {
		var ref *string
		switch entity {
		case domain.EntityStrain:
			ref = s.StrainID
		case domain.EntityVariety:
			ref = s.VarietyID
		case domain.EntityMedium:
			ref = s.MediumID
		case domain.EntityCultureType:
			ref = s.CultureTypeID
		case domain.EntityLocation:
			ref = s.LocationID
		}
		if ref != nil && *ref == id {
			return true
		}
	}
	if entity == domain.EntityStrain {
		for _, v := range tx.state.varieties {
			if v.StrainID != nil && *v.StrainID == id {
				return true
			}
		}
	}
	return false
}

func (tx *transaction) stamp(b *domain.Base, create bool) {
	if create {
		if b.ID == "" {
			b.ID = tx.store.newID()
		}
		b.CreatedAt = tx.now
	}
	b.UpdatedAt = tx.now
}

func requireCode(entity domain.EntityType, code *string) error {
	*code = strings.TrimSpace(*code)
	if *code == "" {
		return domain.Invalidf("%s code required", entity)
	}
	return nil
}

func (tx *transaction) CreateStrain(s Strain) (Strain, error) {
	if err := requireCode(domain.EntityStrain, &s.Code); err != nil {
		return Strain{}, err
	}
	tx.stamp(&s.Base, true)
	if _, exists := tx.state.strains[s.ID]; exists {
		return Strain{}, domain.Conflictf("strain %q already exists", s.ID)
	}
	if err := claimKey(tx.state.strainCodes, domain.NormalizeKey(s.Code), s.ID, domain.EntityStrain, s.Code); err != nil {
		return Strain{}, err
	}
	tx.state.strains[s.ID] = s
	tx.recordChange(Change{Entity: domain.EntityStrain, Action: domain.ActionCreate, After: s})
	return s, nil
}

func (tx *transaction) UpdateStrain(id string, mutator func(*Strain) error) (Strain, error) {
	current, ok := tx.state.strains[id]
	if !ok {
		return Strain{}, domain.NotFoundError{Entity: domain.EntityStrain, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Strain{}, err
	}
	if err := requireCode(domain.EntityStrain, &current.Code); err != nil {
		return Strain{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	releaseKey(tx.state.strainCodes, domain.NormalizeKey(before.Code), id)
	if err := claimKey(tx.state.strainCodes, domain.NormalizeKey(current.Code), id, domain.EntityStrain, current.Code); err != nil {
		return Strain{}, err
	}
	tx.stamp(&current.Base, false)
	tx.state.strains[id] = current
	tx.recordChange(Change{Entity: domain.EntityStrain, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) DeleteStrain(id string) error {
	current, ok := tx.state.strains[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityStrain, ID: id}
	}
	if tx.referenced(domain.EntityStrain, id) {
		return domain.Conflictf("strain %q is still referenced", current.Code)
	}
	delete(tx.state.strains, id)
	releaseKey(tx.state.strainCodes, domain.NormalizeKey(current.Code), id)
	tx.recordChange(Change{Entity: domain.EntityStrain, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) CreateVariety(v Variety) (Variety, error) {
	v.Name = strings.TrimSpace(v.Name)
	if v.Name == "" {
		return Variety{}, domain.Invalidf("variety name required")
	}
	if err := tx.requireRef(domain.EntityStrain, v.StrainID); err != nil {
		return Variety{}, err
	}
	tx.stamp(&v.Base, true)
	if _, exists := tx.state.varieties[v.ID]; exists {
		return Variety{}, domain.Conflictf("variety %q already exists", v.ID)
	}
	if err := claimKey(tx.state.varietyNames, domain.NormalizeKey(v.Name), v.ID, domain.EntityVariety, v.Name); err != nil {
		return Variety{}, err
	}
	tx.state.varieties[v.ID] = cloneVariety(v)
	tx.recordChange(Change{Entity: domain.EntityVariety, Action: domain.ActionCreate, After: cloneVariety(v)})
	return cloneVariety(v), nil
}

func (tx *transaction) UpdateVariety(id string, mutator func(*Variety) error) (Variety, error) {
	current, ok := tx.state.varieties[id]
	if !ok {
		return Variety{}, domain.NotFoundError{Entity: domain.EntityVariety, ID: id}
	}
	before := cloneVariety(current)
	current = cloneVariety(current)
	if err := mutator(&current); err != nil {
		return Variety{}, err
	}
	current.Name = strings.TrimSpace(current.Name)
	if current.Name == "" {
		return Variety{}, domain.Invalidf("variety name required")
	}
	if err := tx.requireRef(domain.EntityStrain, current.StrainID); err != nil {
		return Variety{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	releaseKey(tx.state.varietyNames, domain.NormalizeKey(before.Name), id)
	if err := claimKey(tx.state.varietyNames, domain.NormalizeKey(current.Name), id, domain.EntityVariety, current.Name); err != nil {
		return Variety{}, err
	}
	tx.stamp(&current.Base, false)
	tx.state.varieties[id] = cloneVariety(current)
	tx.recordChange(Change{Entity: domain.EntityVariety, Action: domain.ActionUpdate, Before: before, After: cloneVariety(current)})
	return cloneVariety(current), nil
}

func (tx *transaction) DeleteVariety(id string) error {
	current, ok := tx.state.varieties[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityVariety, ID: id}
	}
	if tx.referenced(domain.EntityVariety, id) {
		return domain.Conflictf("variety %q is still referenced", current.Name)
	}
	delete(tx.state.varieties, id)
	releaseKey(tx.state.varietyNames, domain.NormalizeKey(current.Name), id)
	tx.recordChange(Change{Entity: domain.EntityVariety, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) CreateMedium(m Medium) (Medium, error) {
	if err := requireCode(domain.EntityMedium, &m.Code); err != nil {
		return Medium{}, err
	}
	tx.stamp(&m.Base, true)
	if _, exists := tx.state.mediums[m.ID]; exists {
		return Medium{}, domain.Conflictf("medium %q already exists", m.ID)
	}
	if err := claimKey(tx.state.mediumCodes, domain.NormalizeKey(m.Code), m.ID, domain.EntityMedium, m.Code); err != nil {
		return Medium{}, err
	}
	tx.state.mediums[m.ID] = m
	tx.recordChange(Change{Entity: domain.EntityMedium, Action: domain.ActionCreate, After: m})
	return m, nil
}

func (tx *transaction) UpdateMedium(id string, mutator func(*Medium) error) (Medium, error) {
	current, ok := tx.state.mediums[id]
	if !ok {
		return Medium{}, domain.NotFoundError{Entity: domain.EntityMedium, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Medium{}, err
	}
	if err := requireCode(domain.EntityMedium, &current.Code); err != nil {
		return Medium{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	releaseKey(tx.state.mediumCodes, domain.NormalizeKey(before.Code), id)
	if err := claimKey(tx.state.mediumCodes, domain.NormalizeKey(current.Code), id, domain.EntityMedium, current.Code); err != nil {
		return Medium{}, err
	}
	tx.stamp(&current.Base, false)
	tx.state.mediums[id] = current
	tx.recordChange(Change{Entity: domain.EntityMedium, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) DeleteMedium(id string) error {
	current, ok := tx.state.mediums[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityMedium, ID: id}
	}
	if tx.referenced(domain.EntityMedium, id) {
		return domain.Conflictf("medium %q is still referenced", current.Code)
	}
	delete(tx.state.mediums, id)
	releaseKey(tx.state.mediumCodes, domain.NormalizeKey(current.Code), id)
	tx.recordChange(Change{Entity: domain.EntityMedium, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) CreateCultureType(c CultureType) (CultureType, error) {
	if err := requireCode(domain.EntityCultureType, &c.Code); err != nil {
		return CultureType{}, err
	}
	tx.stamp(&c.Base, true)
	if _, exists := tx.state.cultureTypes[c.ID]; exists {
		return CultureType{}, domain.Conflictf("culture type %q already exists", c.ID)
	}
	if err := claimKey(tx.state.cultureCodes, domain.NormalizeKey(c.Code), c.ID, domain.EntityCultureType, c.Code); err != nil {
		return CultureType{}, err
	}
	tx.state.cultureTypes[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityCultureType, Action: domain.ActionCreate, After: c})
	return c, nil
}

func (tx *transaction) UpdateCultureType(id string, mutator func(*CultureType) error) (CultureType, error) {
	current, ok := tx.state.cultureTypes[id]
	if !ok {
		return CultureType{}, domain.NotFoundError{Entity: domain.EntityCultureType, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return CultureType{}, err
	}
	if err := requireCode(domain.EntityCultureType, &current.Code); err != nil {
		return CultureType{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	releaseKey(tx.state.cultureCodes, domain.NormalizeKey(before.Code), id)
	if err := claimKey(tx.state.cultureCodes, domain.NormalizeKey(current.Code), id, domain.EntityCultureType, current.Code); err != nil {
		return CultureType{}, err
	}
	tx.stamp(&current.Base, false)
	tx.state.cultureTypes[id] = current
	tx.recordChange(Change{Entity: domain.EntityCultureType, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

func (tx *transaction) DeleteCultureType(id string) error {
	current, ok := tx.state.cultureTypes[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityCultureType, ID: id}
	}
	if tx.referenced(domain.EntityCultureType, id) {
		return domain.Conflictf("culture type %q is still referenced", current.Code)
	}
	delete(tx.state.cultureTypes, id)
	releaseKey(tx.state.cultureCodes, domain.NormalizeKey(current.Code), id)
	tx.recordChange(Change{Entity: domain.EntityCultureType, Action: domain.ActionDelete, Before: current})
	return nil
}

func validateLocation(l *Location) error {
	l.Chamber = strings.TrimSpace(l.Chamber)
	l.Slot = strings.TrimSpace(l.Slot)
	if l.Chamber == "" {
		return domain.Invalidf("location chamber required")
	}
	if l.Capacity < 0 {
		return domain.Invalidf("location capacity must not be negative")
	}
	return nil
}

func (tx *transaction) CreateLocation(l Location) (Location, error) {
	if err := validateLocation(&l); err != nil {
		return Location{}, err
	}
	tx.stamp(&l.Base, true)
	if _, exists := tx.state.locations[l.ID]; exists {
		return Location{}, domain.Conflictf("location %q already exists", l.ID)
	}
	if err := claimKey(tx.state.locationKeys, domain.NormalizeKey(l.Chamber, l.Slot), l.ID, domain.EntityLocation, l.Chamber+"/"+l.Slot); err != nil {
		return Location{}, err
	}
	tx.state.locations[l.ID] = cloneLocation(l)
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionCreate, After: cloneLocation(l)})
	return cloneLocation(l), nil
}

func (tx *transaction) UpdateLocation(id string, mutator func(*Location) error) (Location, error) {
	current, ok := tx.state.locations[id]
	if !ok {
		return Location{}, domain.NotFoundError{Entity: domain.EntityLocation, ID: id}
	}
	before := cloneLocation(current)
	current = cloneLocation(current)
	if err := mutator(&current); err != nil {
		return Location{}, err
	}
	if err := validateLocation(&current); err != nil {
		return Location{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	releaseKey(tx.state.locationKeys, domain.NormalizeKey(before.Chamber, before.Slot), id)
	if err := claimKey(tx.state.locationKeys, domain.NormalizeKey(current.Chamber, current.Slot), id, domain.EntityLocation, current.Chamber+"/"+current.Slot); err != nil {
		return Location{}, err
	}
	tx.stamp(&current.Base, false)
	tx.state.locations[id] = cloneLocation(current)
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionUpdate, Before: before, After: cloneLocation(current)})
	return cloneLocation(current), nil
}

func (tx *transaction) DeleteLocation(id string) error {
	current, ok := tx.state.locations[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityLocation, ID: id}
	}
	if tx.referenced(domain.EntityLocation, id) {
		return domain.Conflictf("location %s/%s is still referenced", current.Chamber, current.Slot)
	}
	delete(tx.state.locations, id)
	releaseKey(tx.state.locationKeys, domain.NormalizeKey(current.Chamber, current.Slot), id)
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) validateSeries(s *Series) error {
	s.Barcode = strings.TrimSpace(s.Barcode)
	if s.Barcode == "" {
		return domain.Invalidf("series barcode required")
	}
	for label, n := range map[string]*int{"nb_boxes": s.NbBoxes, "jars_per_box": s.JarsPerBox, "total_jars": s.TotalJars, "nb_weeks": s.NbWeeks} {
		if n != nil && *n < 0 {
			return domain.Invalidf("%s must not be negative", label)
		}
	}
	refs := []struct {
		entity domain.EntityType
		id     *string
	}{
		{domain.EntityStrain, s.StrainID},
		{domain.EntityVariety, s.VarietyID},
		{domain.EntityMedium, s.MediumID},
		{domain.EntityCultureType, s.CultureTypeID},
		{domain.EntityLocation, s.LocationID},
	}
	for _, ref := range refs {
		if err := tx.requireRef(ref.entity, ref.id); err != nil {
			return err
		}
	}
	return nil
}

func (tx *transaction) CreateSeries(s Series) (Series, error) {
	if err := tx.validateSeries(&s); err != nil {
		return Series{}, err
	}
	tx.stamp(&s.Base, true)
	if _, exists := tx.state.series[s.ID]; exists {
		return Series{}, domain.Conflictf("series %q already exists", s.ID)
	}
	if err := claimKey(tx.state.seriesBarcode, domain.NormalizeKey(s.Barcode), s.ID, domain.EntitySeries, s.Barcode); err != nil {
		return Series{}, err
	}
	tx.state.series[s.ID] = cloneSeries(s)
	tx.recordChange(Change{Entity: domain.EntitySeries, Action: domain.ActionCreate, After: cloneSeries(s)})
	return cloneSeries(s), nil
}

func (tx *transaction) UpdateSeries(id string, mutator func(*Series) error) (Series, error) {
	current, ok := tx.state.series[id]
	if !ok {
		return Series{}, domain.NotFoundError{Entity: domain.EntitySeries, ID: id}
	}
	before := cloneSeries(current)
	current = cloneSeries(current)
	if err := mutator(&current); err != nil {
		return Series{}, err
	}
	if err := tx.validateSeries(&current); err != nil {
		return Series{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	releaseKey(tx.state.seriesBarcode, domain.NormalizeKey(before.Barcode), id)
	if err := claimKey(tx.state.seriesBarcode, domain.NormalizeKey(current.Barcode), id, domain.EntitySeries, current.Barcode); err != nil {
		return Series{}, err
	}
	tx.stamp(&current.Base, false)
	tx.state.series[id] = cloneSeries(current)
	tx.recordChange(Change{Entity: domain.EntitySeries, Action: domain.ActionUpdate, Before: before, After: cloneSeries(current)})
	return cloneSeries(current), nil
}

func (tx *transaction) DeleteSeries(id string) error {
	current, ok := tx.state.series[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntitySeries, ID: id}
	}
	delete(tx.state.series, id)
	releaseKey(tx.state.seriesBarcode, domain.NormalizeKey(current.Barcode), id)
	tx.recordChange(Change{Entity: domain.EntitySeries, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) AppendOperation(o Operation) (Operation, error) {
	if o.SeriesID == "" {
		return Operation{}, domain.Invalidf("operation requires series id")
	}
	if _, ok := tx.state.series[o.SeriesID]; !ok {
		return Operation{}, domain.NotFoundError{Entity: domain.EntitySeries, ID: o.SeriesID}
	}
	if o.Type == "" {
		return Operation{}, domain.Invalidf("operation type required")
	}
	tx.stamp(&o.Base, true)
	if o.OccurredAt.IsZero() {
		o.OccurredAt = tx.now
	}
	tx.state.opSeq++
	o.Seq = tx.state.opSeq
	tx.state.operations[o.ID] = cloneOperation(o)
	tx.recordChange(Change{Entity: domain.EntityOperation, Action: domain.ActionCreate, After: cloneOperation(o)})
	return cloneOperation(o), nil
}
