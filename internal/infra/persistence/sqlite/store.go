// Package sqlite keeps the lab inventory in an embedded SQLite file. Reads
// and rule evaluation run against the in-memory store; committed state is
// mirrored to the file after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"plantlab/internal/infra/persistence/memory"
	"plantlab/internal/infra/persistence/snapshot"
	"plantlab/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "plantlab.db"

// Store is a file-backed persistent store.
type Store struct {
	*memory.Store
	db   *sql.DB
	snap *snapshot.Writer
	path string
}

// NewStore opens (or creates) the database at path and loads its contents.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection serializes snapshot writers
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	writer, state, found, err := snapshot.Open(ctx, db, snapshot.SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	if found {
		mem.ImportState(state)
	}
	return &Store{Store: mem, db: db, snap: writer, path: path}, nil
}

// RunInTransaction commits fn in memory, then writes the changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if _, err := s.snap.Save(context.WithoutCancel(ctx), s.ExportState); err != nil {
		return res, fmt.Errorf("persist snapshot: %w", err)
	}
	return res, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the database handle to tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }
