package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"plantlab/internal/barcode"
	"plantlab/pkg/domain"
)

const maxErrorSamples = 5

// Options controls how records are written.
type Options struct {
	// Replace wipes the store before loading.
	Replace  bool
	Operator string
	Source   string
}

// Report summarizes an import.
type Report struct {
	Source            string                    `json:"source,omitempty"`
	Encoding          string                    `json:"encoding,omitempty"`
	Layout            Layout                    `json:"layout"`
	RowsRead          int                       `json:"rows_read"`
	Imported          int                       `json:"imported"`
	Skipped           int                       `json:"skipped"`
	DuplicatesRenamed int                       `json:"duplicates_renamed"`
	Created           map[domain.EntityType]int `json:"created"`
	ErrorCount        int                       `json:"error_count"`
	Errors            []string                  `json:"errors,omitempty"`
}

func (r *Report) addError(row int, err error) {
	r.ErrorCount++
	if len(r.Errors) < maxErrorSamples {
		r.Errors = append(r.Errors, fmt.Sprintf("row %d: %v", row, err))
	}
}

// Normalizer writes records into a transaction, upserting reference rows by
// natural key.
type Normalizer struct {
	tx     domain.Transaction
	opts   Options
	report *Report
	dedup  *barcode.Deduplicator
	// rows created for the record being loaded, in creation order
	pending []createdRow
}

type createdRow struct {
	entity domain.EntityType
	id     string
}

// Apply loads records inside tx. Rows without a raw scan are skipped; rows
// failing validation are counted and sampled in the report without aborting
// the load.
func Apply(tx domain.Transaction, records []Record, opts Options) (Report, error) {
	report := Report{Source: opts.Source, RowsRead: len(records), Created: map[domain.EntityType]int{}}
	if opts.Replace {
		tx.Reset()
	}
	n := &Normalizer{tx: tx, opts: opts, report: &report, dedup: barcode.NewDeduplicator()}
	for _, s := range tx.Snapshot().ListSeries() {
		n.dedup.Reserve(s.Barcode)
	}
	for _, rec := range records {
		if strings.TrimSpace(rec.RawScan) == "" {
			report.Skipped++
			continue
		}
		if err := n.loadRow(rec); err != nil {
			if errors.Is(err, errRollback) {
				return report, err
			}
			report.addError(rec.Row, err)
		}
	}
	report.DuplicatesRenamed = n.dedup.Renamed()
	return report, nil
}

var errRollback = errors.New("import rollback failed")

// loadRow loads one record. A failing record leaves no reference rows
// behind.
func (n *Normalizer) loadRow(rec Record) error {
	n.pending = n.pending[:0]
	if err := n.load(rec); err != nil {
		if rbErr := n.rollback(); rbErr != nil {
			return fmt.Errorf("%w: row %d: %w", errRollback, rec.Row, rbErr)
		}
		return err
	}
	for _, c := range n.pending {
		if c.entity != domain.EntitySeries {
			n.report.Created[c.entity]++
		}
	}
	n.report.Imported++
	return nil
}

func (n *Normalizer) rollback() error {
	for i := len(n.pending) - 1; i >= 0; i-- {
		c := n.pending[i]
		var err error
		switch c.entity {
		case domain.EntitySeries:
			err = n.tx.DeleteSeries(c.id)
		case domain.EntityStrain:
			err = n.tx.DeleteStrain(c.id)
		case domain.EntityVariety:
			err = n.tx.DeleteVariety(c.id)
		case domain.EntityMedium:
			err = n.tx.DeleteMedium(c.id)
		case domain.EntityCultureType:
			err = n.tx.DeleteCultureType(c.id)
		case domain.EntityLocation:
			err = n.tx.DeleteLocation(c.id)
		}
		if err != nil {
			return err
		}
	}
	n.pending = n.pending[:0]
	return nil
}

func (n *Normalizer) load(rec Record) error {
	var (
		refs domain.Series
		err  error
	)
	if refs.StrainID, err = n.strain(rec.Strain); err != nil {
		return err
	}
	if refs.VarietyID, err = n.variety(rec.Variety, refs.StrainID, rec.BatchNumber); err != nil {
		return err
	}
	if refs.MediumID, err = n.medium(rec.Medium); err != nil {
		return err
	}
	if refs.CultureTypeID, err = n.cultureType(rec.Type); err != nil {
		return err
	}
	if refs.LocationID, err = n.location(rec.Chamber, rec.Slot); err != nil {
		return err
	}

	code := rec.RawScanManual
	if strings.TrimSpace(code) == "" {
		code = rec.RawScan
	}
	notes := rec.Notes
	if notes == "" {
		notes = rec.Extra2
	}
	series := refs
	series.Barcode = n.dedup.Next(barcode.Normalize(code))
	series.BarcodeOriginal = strings.TrimSpace(rec.RawScan)
	series.Line = rec.Line
	series.PlantedOn = rec.Date
	series.NbWeeks = rec.NbWeeks
	series.AgeCategory = rec.AgeCategory
	series.Rank = rec.Rank
	series.Stage = rec.Stage
	series.RankCategory = rec.RankCategory
	series.NbBoxes = rec.NbBoxes
	series.JarsPerBox = rec.LooseJars
	series.TotalJars = rec.TotalJars
	series.Quality = rec.Quality
	series.BatchLines = rec.BatchLines
	series.Notes = notes
	series.Active = true

	created, err := n.tx.CreateSeries(series)
	if err != nil {
		return err
	}
	n.created(domain.EntitySeries, created.ID)
	after, err := json.Marshal(created)
	if err != nil {
		return fmt.Errorf("encode series %s: %w", created.Barcode, err)
	}
	_, err = n.tx.AppendOperation(domain.Operation{
		SeriesID: created.ID,
		Type:     domain.OperationImport,
		Operator: n.opts.Operator,
		After:    after,
		Notes:    n.opts.Source,
	})
	return err
}

func (n *Normalizer) created(entity domain.EntityType, id string) {
	n.pending = append(n.pending, createdRow{entity: entity, id: id})
}

func (n *Normalizer) strain(code string) (*string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	if s, ok := n.tx.Snapshot().FindStrainByCode(code); ok {
		return &s.ID, nil
	}
	s, err := n.tx.CreateStrain(domain.Strain{Code: code})
	if err != nil {
		return nil, err
	}
	n.created(domain.EntityStrain, s.ID)
	return &s.ID, nil
}

func (n *Normalizer) variety(name string, strainID *string, batch string) (*string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if v, ok := n.tx.Snapshot().FindVarietyByName(name); ok {
		return &v.ID, nil
	}
	v, err := n.tx.CreateVariety(domain.Variety{Name: name, StrainID: strainID, BatchNumber: strings.TrimSpace(batch)})
	if err != nil {
		return nil, err
	}
	n.created(domain.EntityVariety, v.ID)
	return &v.ID, nil
}

func (n *Normalizer) medium(code string) (*string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	if m, ok := n.tx.Snapshot().FindMediumByCode(code); ok {
		return &m.ID, nil
	}
	m, err := n.tx.CreateMedium(domain.Medium{Code: code})
	if err != nil {
		return nil, err
	}
	n.created(domain.EntityMedium, m.ID)
	return &m.ID, nil
}

func (n *Normalizer) cultureType(code string) (*string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	if c, ok := n.tx.Snapshot().FindCultureTypeByCode(code); ok {
		return &c.ID, nil
	}
	c, err := n.tx.CreateCultureType(domain.CultureType{Code: code})
	if err != nil {
		return nil, err
	}
	n.created(domain.EntityCultureType, c.ID)
	return &c.ID, nil
}

func (n *Normalizer) location(chamber, slot string) (*string, error) {
	chamber, slot = strings.TrimSpace(chamber), strings.TrimSpace(slot)
	if chamber == "" {
		return nil, nil
	}
	if l, ok := n.tx.Snapshot().FindLocationByKey(chamber, slot); ok {
		return &l.ID, nil
	}
	l, err := n.tx.CreateLocation(domain.Location{Chamber: chamber, Slot: slot})
	if err != nil {
		return nil, err
	}
	n.created(domain.EntityLocation, l.ID)
	return &l.ID, nil
}
