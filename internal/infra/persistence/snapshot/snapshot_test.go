package snapshot

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"plantlab/internal/infra/persistence/memory"
	"plantlab/pkg/domain"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSaveWritesOnlyChangedBuckets(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	w, _, found, err := Open(ctx, db, SQLite)
	require.NoError(t, err)
	assert.False(t, found)

	store := memory.NewStore(nil)
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMedium(domain.Medium{Code: "XM"})
		return err
	})
	require.NoError(t, err)

	n, err := w.Save(ctx, store.ExportState)
	require.NoError(t, err)
	assert.Equal(t, len(memory.Buckets), n, "first save writes every bucket")

	n, err = w.Save(ctx, store.ExportState)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateStrain(domain.Strain{Code: "BRAHY"})
		return err
	})
	require.NoError(t, err)
	n, err = w.Save(ctx, store.ExportState)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, snap, found, err := Open(ctx, db, SQLite)
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, snap.Strains, 1)
	require.Len(t, snap.Mediums, 1)

	var savedAt string
	require.NoError(t, db.QueryRow(`SELECT saved_at FROM `+Table+` WHERE bucket = 'strains'`).Scan(&savedAt))
	assert.NotEmpty(t, savedAt)
}

func TestDialectSQL(t *testing.T) {
	assert.Contains(t, Postgres.upsert(), "VALUES($1,$2,$3)")
	assert.Contains(t, SQLite.upsert(), "VALUES(?,?,?)")
	assert.Contains(t, Postgres.ddl(), "payload JSONB")
}
