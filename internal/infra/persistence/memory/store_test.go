package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantlab/pkg/domain"
)

func ptr[T any](v T) *T { return &v }

func seedReferences(t *testing.T, store *Store) (domain.Strain, domain.Location) {
	t.Helper()
	var strain domain.Strain
	var loc domain.Location
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		strain, err = tx.CreateStrain(domain.Strain{Code: "BRAHY"})
		if err != nil {
			return err
		}
		loc, err = tx.CreateLocation(domain.Location{Chamber: "1", Slot: "A20", Capacity: 100})
		return err
	})
	require.NoError(t, err)
	return strain, loc
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, ok := tx.Snapshot().FindStrainByCode("missing")
		assert.False(t, ok)
		created, err := tx.CreateStrain(domain.Strain{Code: " brahy "})
		if err != nil {
			return err
		}
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "brahy", created.Code)
		assert.Len(t, tx.Snapshot().ListStrains(), 1)
		return nil
	})
	require.NoError(t, err)

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		assert.Empty(t, v.ListStrains())
		return nil
	}))
	store.ImportState(snapshot)
	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		s, ok := v.FindStrainByCode("BRAHY")
		assert.True(t, ok)
		assert.Equal(t, "brahy", s.Code)
		return nil
	}))
	assert.NotNil(t, store.RulesEngine())
	assert.NoError(t, store.Close())
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateStrain(domain.Strain{Code: "X1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.ExportState().Strains)
}

func TestStoreCanceledContext(t *testing.T) {
	store := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.RunInTransaction(ctx, func(domain.Transaction) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock, Message: "nope"}}}, nil
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateStrain(domain.Strain{Code: "FAIL"})
		return e
	})
	var violation domain.RuleViolationError
	require.ErrorAs(t, err, &violation)
	assert.True(t, res.HasBlocking())
	assert.Empty(t, store.ExportState().Strains)
}

func TestReferenceKeysAreCaseInsensitiveUnique(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedium(domain.Medium{Code: "XM"})
		return err
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedium(domain.Medium{Code: "xm"})
		return err
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateCultureType(domain.CultureType{Code: "  "})
		return err
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdateRenamesKeyIndex(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var id string
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		v, err := tx.CreateVariety(domain.Variety{Name: "Alpha"})
		id = v.ID
		return err
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateVariety(id, func(v *domain.Variety) error {
			v.Name = "Beta"
			return nil
		})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		_, ok := v.FindVarietyByName("alpha")
		assert.False(t, ok)
		got, ok := v.FindVarietyByName("BETA")
		assert.True(t, ok)
		assert.Equal(t, id, got.ID)
		return nil
	}))

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateVariety("missing", func(*domain.Variety) error { return nil })
		return err
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSeriesForeignKeysAndDeleteGuards(t *testing.T) {
	store := NewStore(nil)
	strain, loc := seedReferences(t, store)
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSeries(domain.Series{Barcode: "A1", MediumID: ptr("nope")})
		return err
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	var series domain.Series
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		series, err = tx.CreateSeries(domain.Series{
			Barcode:    "735820250912AW2",
			StrainID:   ptr(strain.ID),
			LocationID: ptr(loc.ID),
			TotalJars:  ptr(12),
			Active:     true,
		})
		return err
	})
	require.NoError(t, err)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteStrain(strain.ID)
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateSeries(domain.Series{Barcode: "735820250912aw2"})
		return err
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateSeries(series.ID, func(s *domain.Series) error {
			s.NbBoxes = ptr(-1)
			return nil
		})
		return err
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.DeleteSeries(series.ID); err != nil {
			return err
		}
		if err := tx.DeleteLocation(loc.ID); err != nil {
			return err
		}
		return tx.DeleteStrain(strain.ID)
	})
	require.NoError(t, err)
	snap := store.ExportState()
	assert.Empty(t, snap.Series)
	assert.Empty(t, snap.Strains)
	assert.Empty(t, snap.Locations)
}

func TestStrainReferencedByVariety(t *testing.T) {
	store := NewStore(nil)
	strain, _ := seedReferences(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateVariety(domain.Variety{Name: "V", StrainID: ptr(strain.ID)}); err != nil {
			return err
		}
		return tx.DeleteStrain(strain.ID)
	})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestOperationsLogOrderedAndCloned(t *testing.T) {
	store := NewStore(nil)
	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return base })
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		s, err := tx.CreateSeries(domain.Series{Barcode: "B1", Active: true})
		if err != nil {
			return err
		}
		if _, err := tx.AppendOperation(domain.Operation{SeriesID: s.ID, Type: domain.OperationTransplant, OccurredAt: base.Add(time.Hour), After: []byte(`{"a":1}`)}); err != nil {
			return err
		}
		_, err = tx.AppendOperation(domain.Operation{SeriesID: s.ID, Type: domain.OperationCreate})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		ops := v.ListOperations()
		require.Len(t, ops, 2)
		assert.Equal(t, domain.OperationCreate, ops[0].Type)
		assert.Equal(t, base, ops[0].OccurredAt)
		assert.Equal(t, domain.OperationTransplant, ops[1].Type)
		ops[1].After[0] = 'X'
		return nil
	}))
	ops := store.ExportState().Operations
	for _, op := range ops {
		if op.Type == domain.OperationTransplant {
			assert.Equal(t, `{"a":1}`, string(op.After))
		}
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AppendOperation(domain.Operation{SeriesID: "ghost", Type: domain.OperationUpdate})
		return err
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOperationsKeepInsertionOrderWithinTransaction(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	notes := []string{"first", "second", "third", "fourth", "fifth"}
	var seriesID string
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		s, err := tx.CreateSeries(domain.Series{Barcode: "735820250801AW3", Active: true})
		if err != nil {
			return err
		}
		seriesID = s.ID
		for _, n := range notes {
			if _, err := tx.AppendOperation(domain.Operation{SeriesID: s.ID, Type: domain.OperationImport, Notes: n}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	listNotes := func(v domain.TransactionView) []string {
		var out []string
		for _, o := range v.ListOperations() {
			out = append(out, o.Notes)
		}
		return out
	}
	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		assert.Equal(t, notes, listNotes(v))
		return nil
	}))

	reloaded := NewStore(nil)
	reloaded.ImportState(store.ExportState())
	_, err = reloaded.RunInTransaction(ctx, func(tx domain.Transaction) error {
		op, err := tx.AppendOperation(domain.Operation{SeriesID: seriesID, Type: domain.OperationUpdate, Notes: "sixth"})
		assert.Equal(t, int64(6), op.Seq)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, reloaded.View(ctx, func(v domain.TransactionView) error {
		assert.Equal(t, append(notes, "sixth"), listNotes(v))
		return nil
	}))
}

func TestResetClearsEverything(t *testing.T) {
	store := NewStore(nil)
	seedReferences(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		tx.Reset()
		assert.Empty(t, tx.Snapshot().ListStrains())
		_, err := tx.CreateStrain(domain.Strain{Code: "BRAHY"})
		return err
	})
	require.NoError(t, err)
	assert.Len(t, store.ExportState().Strains, 1)
	assert.Empty(t, store.ExportState().Locations)
}

func TestSnapshotBucketsRoundTrip(t *testing.T) {
	store := NewStore(nil)
	seedReferences(t, store)
	buckets, err := store.ExportState().EncodeBuckets()
	require.NoError(t, err)
	require.Len(t, buckets, len(Buckets))

	var restored Snapshot
	for name, payload := range buckets {
		require.NoError(t, restored.DecodeBucket(name, payload))
	}
	require.NoError(t, restored.DecodeBucket("legacy", []byte("not json")))
	require.Error(t, restored.DecodeBucket("strains", []byte("{")))

	other := NewStore(nil)
	other.ImportState(restored)
	require.NoError(t, other.View(context.Background(), func(v domain.TransactionView) error {
		_, ok := v.FindLocationByKey("1", "a20")
		assert.True(t, ok)
		return nil
	}))
}
