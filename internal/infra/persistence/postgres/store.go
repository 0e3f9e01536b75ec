// Package postgres keeps the lab inventory in a PostgreSQL database for
// multi-user deployments. Transactions run against the in-memory store and
// committed state is mirrored into JSONB rows.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"plantlab/internal/infra/persistence/memory"
	"plantlab/internal/infra/persistence/snapshot"
	"plantlab/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/plantlab?sslmode=disable"
)

var (
	openMu sync.Mutex
	open   = sql.Open
)

// Store is a PostgreSQL-backed persistent store.
type Store struct {
	*memory.Store
	db   *sql.DB
	snap *snapshot.Writer
}

// NewStore connects to dsn (defaultDSN when empty) and loads the saved state.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := open(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	writer, state, found, err := snapshot.Open(ctx, db, snapshot.Postgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	if found {
		mem.ImportState(state)
	}
	return &Store{Store: mem, db: db, snap: writer}, nil
}

// RunInTransaction commits fn in memory, then writes the changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if _, err := s.snap.Save(context.WithoutCancel(ctx), s.ExportState); err != nil {
		return res, fmt.Errorf("persist snapshot: %w", err)
	}
	return res, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the connection pool to tests.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen replaces the connection opener and returns a restore func.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := open
	open = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		open = prev
	}
}
