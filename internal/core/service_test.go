package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"plantlab/internal/chambers"
	"plantlab/internal/core"
	"plantlab/internal/importer"
	"plantlab/internal/planning"
	"plantlab/pkg/domain"
)

func ptr[T any](v T) *T { return &v }

var frozen = time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T, opts ...core.Option) *core.Service {
	t.Helper()
	opts = append([]core.Option{core.WithClock(core.ClockFunc(func() time.Time { return frozen }))}, opts...)
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), opts...)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type fixture struct {
	brahy, dura core.Strain
	x, xm       core.Medium
	mult        core.CultureType
	loc1, cold  core.Location
}

func seed(t *testing.T, svc *core.Service) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture
	var err error
	if f.brahy, _, err = svc.CreateStrain(ctx, core.Strain{Code: "BRAHY"}); err != nil {
		t.Fatalf("create strain: %v", err)
	}
	if f.dura, _, err = svc.CreateStrain(ctx, core.Strain{Code: "DURA"}); err != nil {
		t.Fatalf("create strain: %v", err)
	}
	if f.x, _, err = svc.CreateMedium(ctx, core.Medium{Code: "X"}); err != nil {
		t.Fatalf("create medium: %v", err)
	}
	if f.xm, _, err = svc.CreateMedium(ctx, core.Medium{Code: "XM"}); err != nil {
		t.Fatalf("create medium: %v", err)
	}
	if f.mult, _, err = svc.CreateCultureType(ctx, core.CultureType{Code: "MULT"}); err != nil {
		t.Fatalf("create culture type: %v", err)
	}
	if f.loc1, _, err = svc.CreateLocation(ctx, core.Location{Chamber: "1", Slot: "A20", Capacity: 100}); err != nil {
		t.Fatalf("create location: %v", err)
	}
	if f.cold, _, err = svc.CreateLocation(ctx, core.Location{Chamber: "CHF", Slot: ""}); err != nil {
		t.Fatalf("create location: %v", err)
	}
	return f
}

func TestSeriesLifecycleLogsOperations(t *testing.T) {
	svc := newService(t)
	f := seed(t, svc)
	ctx := context.Background()

	created, res, err := svc.CreateSeries(ctx, core.Series{
		Barcode:    "735820250912AW2",
		StrainID:   &f.brahy.ID,
		MediumID:   &f.x.ID,
		LocationID: &f.loc1.ID,
		Line:       ptr(7),
		TotalJars:  ptr(30),
	}, "alice")
	if err != nil {
		t.Fatalf("create series: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}
	if !created.Active {
		t.Fatalf("new series should be active")
	}

	if _, _, err := svc.UpdateSeries(ctx, created.ID, "bob", func(s *core.Series) error {
		s.TotalJars = ptr(40)
		return nil
	}); err != nil {
		t.Fatalf("update series: %v", err)
	}
	if _, _, err := svc.DeactivateSeries(ctx, created.ID, "bob"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, _, err := svc.DeactivateSeries(ctx, created.ID, "bob"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on second deactivate, got %v", err)
	}

	ops, err := svc.ListOperations(ctx, created.ID)
	if err != nil {
		t.Fatalf("list operations: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(ops))
	}
	want := []domain.OperationType{domain.OperationCreate, domain.OperationUpdate, domain.OperationDeactivate}
	for i, op := range ops {
		if op.Type != want[i] {
			t.Fatalf("operation %d: expected %s, got %s", i, want[i], op.Type)
		}
	}
	if ops[0].Operator != "alice" || len(ops[0].Before) != 0 || len(ops[0].After) == 0 {
		t.Fatalf("unexpected create operation: %+v", ops[0])
	}
	if !strings.Contains(string(ops[1].Before), `"total_jars":30`) || !strings.Contains(string(ops[1].After), `"total_jars":40`) {
		t.Fatalf("update payloads missing jar change: %s / %s", ops[1].Before, ops[1].After)
	}

	active, err := svc.ListSeries(ctx, false)
	if err != nil {
		t.Fatalf("list series: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active series, got %d", len(active))
	}
	all, _ := svc.ListSeries(ctx, true)
	if len(all) != 1 || all[0].StrainCode != "BRAHY" || all[0].Chamber != "1" {
		t.Fatalf("unexpected resolved series: %+v", all)
	}

	if _, err := svc.GetSeries(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	view, err := svc.GetSeriesByBarcode(ctx, "735820250912aw2")
	if err != nil || view.ID != created.ID {
		t.Fatalf("lookup by barcode: %v %+v", err, view)
	}
}

func TestLocationCapacityBlocksOverload(t *testing.T) {
	svc := newService(t)
	f := seed(t, svc)
	ctx := context.Background()

	if _, _, err := svc.CreateSeries(ctx, core.Series{Barcode: "A", LocationID: &f.loc1.ID, TotalJars: ptr(80), NbWeeks: ptr(1)}, ""); err != nil {
		t.Fatalf("create series: %v", err)
	}
	_, res, err := svc.CreateSeries(ctx, core.Series{Barcode: "B", LocationID: &f.loc1.ID, TotalJars: ptr(30), NbWeeks: ptr(1)}, "")
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() || res.Violations[0].Rule != core.RuleLocationCapacity {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := svc.GetSeriesByBarcode(ctx, "B"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("blocked series must not be stored: %v", err)
	}

	// lowering capacity under the current load is blocked too
	if _, _, err := svc.UpdateLocation(ctx, f.loc1.ID, func(l *core.Location) error {
		l.Capacity = 50
		return nil
	}); !errors.As(err, &violation) {
		t.Fatalf("expected capacity update to be blocked, got %v", err)
	}
}

func TestSeriesAgeKnownWarns(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, res, err := svc.CreateSeries(ctx, core.Series{Barcode: "NODATE"}, "")
	if err != nil {
		t.Fatalf("warnings must not block: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn || res.Violations[0].Rule != core.RuleSeriesAgeKnown {
		t.Fatalf("expected age warning, got %+v", res.Violations)
	}

	_, res, err = svc.CreateSeries(ctx, core.Series{Barcode: "X20250101"}, "")
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("barcode date should satisfy the rule: %v %+v", err, res.Violations)
	}
}

func TestReferenceTables(t *testing.T) {
	svc := newService(t)
	f := seed(t, svc)
	ctx := context.Background()

	if _, _, err := svc.CreateStrain(ctx, core.Strain{Code: "brahy"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected case-insensitive conflict, got %v", err)
	}
	if _, _, err := svc.CreateMedium(ctx, core.Medium{Code: "  "}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := core.ParseReferenceTable("plants"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unknown table error, got %v", err)
	}

	rows, err := svc.ListReference(ctx, core.TableMediums)
	if err != nil {
		t.Fatalf("list mediums: %v", err)
	}
	mediums, ok := rows.([]core.Medium)
	if !ok || len(mediums) != 2 || mediums[0].Code != "X" {
		t.Fatalf("unexpected mediums: %#v", rows)
	}

	if _, _, err := svc.CreateSeries(ctx, core.Series{Barcode: "S1", StrainID: &f.dura.ID, NbWeeks: ptr(1)}, ""); err != nil {
		t.Fatalf("create series: %v", err)
	}
	if _, err := svc.DeleteReference(ctx, core.TableStrains, f.dura.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected referenced strain delete to conflict, got %v", err)
	}
	if _, err := svc.DeleteReference(ctx, core.TableMediums, f.xm.ID); err != nil {
		t.Fatalf("delete unreferenced medium: %v", err)
	}
	if _, err := svc.DeleteReference(ctx, core.TableLocations, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearchModes(t *testing.T) {
	svc := newService(t)
	f := seed(t, svc)
	ctx := context.Background()
	variety, _, err := svc.CreateVariety(ctx, core.Variety{Name: "Alpha", StrainID: &f.brahy.ID})
	if err != nil {
		t.Fatalf("create variety: %v", err)
	}
	mustCreate := func(s core.Series) {
		t.Helper()
		s.NbWeeks = ptr(1)
		if _, _, err := svc.CreateSeries(ctx, s, ""); err != nil {
			t.Fatalf("create %s: %v", s.Barcode, err)
		}
	}
	mustCreate(core.Series{Barcode: "B2", BarcodeOriginal: "RAW-77", StrainID: &f.brahy.ID, VarietyID: &variety.ID, Line: ptr(5), MediumID: &f.x.ID, LocationID: &f.loc1.ID, CultureTypeID: &f.mult.ID})
	mustCreate(core.Series{Barcode: "B1", StrainID: &f.dura.ID, Line: ptr(15), MediumID: &f.xm.ID, LocationID: &f.cold.ID})

	cases := []struct {
		term string
		mode core.SearchMode
		want []string
	}{
		{"b", core.SearchAll, []string{"B1", "B2"}},
		{"brahy 5", core.SearchSeries, []string{"B2"}},
		{"DURA_15", core.SearchSeries, []string{"B1"}},
		{"raw-7", core.SearchBarcode, []string{"B2"}},
		{"alp", core.SearchVariety, []string{"B2"}},
		{"5", core.SearchLine, []string{"B1", "B2"}},
		{"chf", core.SearchChamber, []string{"B1"}},
		{"xm", core.SearchMedium, []string{"B1"}},
		{"mul", core.SearchType, []string{"B2"}},
		{"a20", core.SearchAll, []string{"B2"}},
		{"zzz", core.SearchAll, nil},
	}
	for _, tc := range cases {
		got, err := svc.Search(ctx, tc.term, tc.mode)
		if err != nil {
			t.Fatalf("search %q/%s: %v", tc.term, tc.mode, err)
		}
		var codes []string
		for _, v := range got {
			codes = append(codes, v.Barcode)
		}
		if strings.Join(codes, ",") != strings.Join(tc.want, ",") {
			t.Fatalf("search %q/%s: expected %v, got %v", tc.term, tc.mode, tc.want, codes)
		}
	}

	if _, err := svc.Search(ctx, "  ", core.SearchAll); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected empty term rejection, got %v", err)
	}
	if _, err := core.ParseSearchMode("nope"); err == nil {
		t.Fatalf("expected unknown mode error")
	}
	if m, _ := core.ParseSearchMode(""); m != core.SearchAll {
		t.Fatalf("empty mode should default to all, got %s", m)
	}
}

func TestDashboardAndStatistics(t *testing.T) {
	svc := newService(t)
	f := seed(t, svc)
	ctx := context.Background()
	rows := []core.Series{
		{Barcode: "1", StrainID: &f.brahy.ID, Line: ptr(1), LocationID: &f.loc1.ID, MediumID: &f.x.ID, CultureTypeID: &f.mult.ID, TotalJars: ptr(10), AgeCategory: "A"},
		{Barcode: "2", StrainID: &f.brahy.ID, Line: ptr(1), LocationID: &f.loc1.ID, MediumID: &f.x.ID, CultureTypeID: &f.mult.ID, TotalJars: ptr(15), AgeCategory: "A"},
		{Barcode: "3", StrainID: &f.brahy.ID, Line: ptr(2), LocationID: &f.cold.ID, MediumID: &f.xm.ID, TotalJars: ptr(4), AgeCategory: "B"},
		{Barcode: "4", StrainID: &f.dura.ID, Line: ptr(1), LocationID: &f.cold.ID, MediumID: &f.xm.ID, AgeCategory: "B"},
		{Barcode: "5", StrainID: &f.dura.ID, LocationID: &f.cold.ID, TotalJars: ptr(2), AgeCategory: "B"},
	}
	for _, r := range rows {
		r.NbWeeks = ptr(1)
		if _, _, err := svc.CreateSeries(ctx, r, ""); err != nil {
			t.Fatalf("create %s: %v", r.Barcode, err)
		}
	}

	d, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.TotalSeries != 3 || d.TotalJars != 31 || d.Strains != 2 || d.Chambers != 2 {
		t.Fatalf("unexpected dashboard totals: %+v", d)
	}
	if d.ByChamber[0].Key != "1" || d.ByChamber[0].Jars != 25 || d.ByChamber[0].Series != 2 {
		t.Fatalf("unexpected chamber breakdown: %+v", d.ByChamber)
	}
	if d.TopStrains[0].Key != "BRAHY" || d.TopStrains[0].Jars != 29 {
		t.Fatalf("unexpected top strains: %+v", d.TopStrains)
	}
	if len(d.ByCultureType) != 1 || d.ByCultureType[0].Series != 1 || d.ByCultureType[0].Jars != 25 {
		t.Fatalf("culture types count distinct strain/line pairs: %+v", d.ByCultureType)
	}

	st, err := svc.Statistics(ctx, core.StatisticsFilter{Chambers: []string{"chf"}})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.Rows != 3 || st.Jars != 6 || st.Strains != 2 {
		t.Fatalf("unexpected filtered totals: %+v", st)
	}
	if st.ByStrain[0].Key != "BRAHY" || st.ByStrain[0].MeanJars == nil || *st.ByStrain[0].MeanJars != 4 {
		t.Fatalf("unexpected strain breakdown: %+v", st.ByStrain)
	}
	if st.ByStrain[1].Key != "DURA" || *st.ByStrain[1].MeanJars != 2 {
		t.Fatalf("mean ignores unknown jar counts: %+v", st.ByStrain[1])
	}
	if len(st.ByAgeCategory) != 1 || st.ByAgeCategory[0].Series != 3 {
		t.Fatalf("unexpected age breakdown: %+v", st.ByAgeCategory)
	}
	if strings.Join(st.AllChambers, ",") != "1,CHF" {
		t.Fatalf("filter options should list every chamber: %v", st.AllChambers)
	}
}

func TestPlanWeekAndTransplant(t *testing.T) {
	svc := newService(t)
	f := seed(t, svc)
	ctx := context.Background()

	old, _, err := svc.CreateSeries(ctx, core.Series{Barcode: "OLD", StrainID: &f.brahy.ID, MediumID: &f.x.ID, LocationID: &f.loc1.ID, NbWeeks: ptr(6), TotalJars: ptr(20)}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateSeries(ctx, core.Series{Barcode: "YOUNG20251001", StrainID: &f.dura.ID, MediumID: &f.x.ID, LocationID: &f.loc1.ID, TotalJars: ptr(20)}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateSeries(ctx, core.Series{Barcode: "COLD", StrainID: &f.brahy.ID, MediumID: &f.x.ID, LocationID: &f.cold.ID, NbWeeks: ptr(20)}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	plan, err := svc.PlanWeek(ctx, core.PlanRequest{Params: planning.DefaultParams()})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !plan.WeekStart.Equal(time.Date(2025, 10, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("plan should default to the current week, got %v", plan.WeekStart)
	}
	if plan.Stats.Planned != 1 || plan.Planned[0].Barcode != "OLD" {
		t.Fatalf("unexpected planned items: %+v", plan.Planned)
	}
	if len(plan.Ineligible) != 2 {
		t.Fatalf("expected two ineligible items, got %+v", plan.Ineligible)
	}

	if _, err := svc.PlanWeek(ctx, core.PlanRequest{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("zero params must fail validation, got %v", err)
	}

	transplanted, _, err := svc.RecordTransplant(ctx, []string{old.ID}, time.Date(2025, 10, 14, 15, 0, 0, 0, time.UTC), "alice")
	if err != nil {
		t.Fatalf("transplant: %v", err)
	}
	if transplanted[0].NbWeeks != nil || !transplanted[0].PlantedOn.Equal(time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("transplant should restart the age: %+v", transplanted[0])
	}
	ops, _ := svc.ListOperations(ctx, old.ID)
	if last := ops[len(ops)-1]; last.Type != domain.OperationTransplant || last.Operator != "alice" {
		t.Fatalf("expected transplant operation, got %+v", last)
	}

	plan, _ = svc.PlanWeek(ctx, core.PlanRequest{Params: planning.DefaultParams()})
	if plan.Stats.Planned != 0 {
		t.Fatalf("freshly transplanted series must not be due: %+v", plan.Planned)
	}

	if _, _, err := svc.RecordTransplant(ctx, nil, frozen, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := svc.RecordTransplant(ctx, []string{"missing"}, frozen, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChamberPlan(t *testing.T) {
	svc := newService(t)
	f := seed(t, svc)
	ctx := context.Background()
	if _, _, err := svc.CreateSeries(ctx, core.Series{Barcode: "A", StrainID: &f.brahy.ID, BatchLines: "L1", LocationID: &f.loc1.ID, TotalJars: ptr(12), NbWeeks: ptr(1)}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateSeries(ctx, core.Series{Barcode: "B", StrainID: &f.dura.ID, BatchLines: "L2", LocationID: &f.cold.ID, NbWeeks: ptr(1)}, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	plan, err := svc.ChamberPlan(ctx)
	if err != nil {
		t.Fatalf("chamber plan: %v", err)
	}
	summary := plan.Summary(chambers.Filter{})
	if summary.StandardSeries != 1 || summary.ColdSeries != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	view, ok := plan.Chamber("1", chambers.Filter{}, false)
	if !ok || view.Jars != 12 || view.Heatmap.Values[0][19] != 12 {
		t.Fatalf("unexpected chamber view: %+v", view)
	}
}

const importCSV = `Chambre,Emplacement,RawScan,Strain,Line,NbSem,Milieu,Bocaux
1,A20,735820250912AW2,BRAHY,7,6,X,20
1,A20,735820250912AW2,BRAHY,7,6,X,10
,,,,,,,
2,B1,NODATE,DURA,,,XM,5
`

func TestImportAndReset(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	report, res, err := svc.ImportCSV(ctx, strings.NewReader(importCSV), importer.Options{Operator: "loader", Source: "scan.csv"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Imported != 3 || report.DuplicatesRenamed != 1 || report.Encoding != importer.EncodingUTF8 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Layout.Mapped) != 8 {
		t.Fatalf("expected every header mapped: %+v", report.Layout)
	}
	if len(res.Violations) != 1 || res.Violations[0].Rule != core.RuleSeriesAgeKnown {
		t.Fatalf("expected one age warning for the undated row, got %+v", res.Violations)
	}

	d, _ := svc.Dashboard(ctx)
	if d.TotalJars != 35 || d.TotalSeries != 1 {
		t.Fatalf("unexpected dashboard after import: %+v", d)
	}

	if _, _, err := svc.ImportExcel(ctx, strings.NewReader("not a workbook"), "", importer.Options{}); err == nil {
		t.Fatalf("expected workbook error")
	}

	if _, err := svc.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	all, _ := svc.ListSeries(ctx, true)
	strains, _ := svc.ListStrains(ctx)
	if len(all) != 0 || len(strains) != 0 {
		t.Fatalf("reset should wipe state: %d series, %d strains", len(all), len(strains))
	}
}

func TestOpenPersistentStore(t *testing.T) {
	ctx := context.Background()
	store, err := core.OpenPersistentStore(ctx, core.StorageOptions{Driver: core.StorageMemory}, core.NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	_ = store.Close()

	path := t.TempDir() + "/nested/plantlab.db"
	store, err = core.OpenPersistentStore(ctx, core.StorageOptions{SQLitePath: path}, nil)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	svc := core.NewService(store)
	if _, _, err := svc.CreateStrain(ctx, core.Strain{Code: "BRAHY"}); err != nil {
		t.Fatalf("create strain: %v", err)
	}
	_ = svc.Close()

	store, err = core.OpenPersistentStore(ctx, core.StorageOptions{Driver: core.StorageSQLite, SQLitePath: path}, nil)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer store.Close()
	strains, _ := core.NewService(store).ListStrains(ctx)
	if len(strains) != 1 {
		t.Fatalf("expected persisted strain, got %d", len(strains))
	}

	if _, err := core.OpenPersistentStore(ctx, core.StorageOptions{Driver: "bogus"}, nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
