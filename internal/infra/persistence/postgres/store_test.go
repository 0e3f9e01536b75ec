package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"plantlab/internal/infra/persistence/postgres/testutil"
	"plantlab/pkg/domain"
)

func openStub(t *testing.T) (*testutil.StateConn, func()) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, _ string) (*sql.DB, error) {
		if driverName != "pgx" {
			t.Fatalf("unexpected driver %q", driverName)
		}
		return db, nil
	})
	return conn, restore
}

func TestNewStoreEnsuresTableAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	conn, restore := openStub(t)
	defer restore()

	store, err := NewStore(ctx, "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS plantlab_state") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state DDL, got %v", conn.Execs)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedium(domain.Medium{Code: "XM"})
		return err
	}); err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if !strings.Contains(string(conn.Buckets["mediums"]), `"XM"`) {
		t.Fatalf("expected mediums bucket persisted, got %s", conn.Buckets["mediums"])
	}
	if store.DB() == nil {
		t.Fatalf("expected db handle")
	}

	reopened, err := NewStore(ctx, "postgres://example", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindMediumByCode("xm"); !ok {
			t.Fatalf("expected medium restored from snapshot")
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestNewStoreErrors(t *testing.T) {
	ctx := context.Background()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	conn, restore := openStub(t)
	conn.FailPing = true
	if _, err := NewStore(ctx, "", nil); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
	restore()

	conn, restore = openStub(t)
	conn.Buckets["series"] = []byte("{broken")
	if _, err := NewStore(ctx, "", nil); err == nil {
		t.Fatalf("expected decode error")
	}
	restore()
}

func TestPersistFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	conn, restore := openStub(t)
	defer restore()
	store, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateStrain(domain.Strain{Code: "BRAHY"})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	if len(conn.Buckets) != 0 {
		t.Fatalf("expected nothing persisted, got %v", conn.Buckets)
	}
}

func TestUnchangedBucketsAreNotRewritten(t *testing.T) {
	ctx := context.Background()
	conn, restore := openStub(t)
	defer restore()
	store, err := NewStore(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateStrain(domain.Strain{Code: "BRAHY"})
		return err
	}); err != nil {
		t.Fatalf("create strain: %v", err)
	}
	inserts := func() int {
		n := 0
		for _, stmt := range conn.Execs {
			if strings.HasPrefix(stmt, "INSERT INTO plantlab_state") {
				n++
			}
		}
		return n
	}
	before := inserts()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedium(domain.Medium{Code: "XM"})
		return err
	}); err != nil {
		t.Fatalf("create medium: %v", err)
	}
	if got := inserts() - before; got != 1 {
		t.Fatalf("expected only the mediums bucket rewritten, got %d upserts", got)
	}
	if conn.SavedAt["mediums"] == "" {
		t.Fatalf("expected saved_at recorded")
	}
}
