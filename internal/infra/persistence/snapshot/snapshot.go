// Package snapshot mirrors the in-memory store into a SQL table with one row
// per bucket. The sqlite and postgres backends differ only in their Dialect.
package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"plantlab/internal/infra/persistence/memory"
)

// Table holds the bucket rows.
const Table = "plantlab_state"

// Dialect carries the SQL differences between backends.
type Dialect struct {
	Name        string
	PayloadType string
	Placeholder func(n int) string
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		PayloadType: "BLOB",
		Placeholder: func(int) string { return "?" },
	}
	Postgres = Dialect{
		Name:        "postgres",
		PayloadType: "JSONB",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

func (d Dialect) ddl() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		bucket TEXT PRIMARY KEY,
		payload %s NOT NULL,
		saved_at TEXT NOT NULL
	)`, Table, d.PayloadType)
}

func (d Dialect) upsert() string {
	return fmt.Sprintf(`INSERT INTO %s(bucket,payload,saved_at) VALUES(%s,%s,%s) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload, saved_at=excluded.saved_at`,
		Table, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
}

// Writer saves buckets whose content changed since the last save.
type Writer struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time

	mu      sync.Mutex
	digests map[string][sha256.Size]byte
}

// Open creates the table if needed and reads back any saved buckets. found
// is false for an empty table.
func Open(ctx context.Context, db *sql.DB, d Dialect) (w *Writer, snap memory.Snapshot, found bool, err error) {
	if _, err := db.ExecContext(ctx, d.ddl()); err != nil {
		return nil, memory.Snapshot{}, false, fmt.Errorf("create %s table: %w", Table, err)
	}
	w = &Writer{db: db, dialect: d, now: time.Now, digests: make(map[string][sha256.Size]byte)}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT bucket, payload FROM %s`, Table))
	if err != nil {
		return nil, memory.Snapshot{}, false, fmt.Errorf("read %s: %w", Table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, memory.Snapshot{}, false, fmt.Errorf("scan %s: %w", Table, err)
		}
		if len(payload) == 0 {
			continue
		}
		if err := snap.DecodeBucket(bucket, payload); err != nil {
			return nil, memory.Snapshot{}, false, err
		}
		w.digests[bucket] = sha256.Sum256(payload)
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, memory.Snapshot{}, false, fmt.Errorf("iterate %s: %w", Table, err)
	}
	return w, snap, found, nil
}

// Save exports the current state and writes the changed buckets in one
// transaction. It returns how many buckets were written. export runs under
// the writer lock so the last save always reflects the newest state.
func (w *Writer) Save(ctx context.Context, export func() memory.Snapshot) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	encoded, err := export().EncodeBuckets()
	if err != nil {
		return 0, err
	}
	changed := make(map[string][sha256.Size]byte)
	for _, bucket := range memory.Buckets {
		sum := sha256.Sum256(encoded[bucket])
		if prev, ok := w.digests[bucket]; !ok || prev != sum {
			changed[bucket] = sum
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin %s snapshot: %w", w.dialect.Name, err)
	}
	savedAt := w.now().UTC().Format(time.RFC3339Nano)
	upsert := w.dialect.upsert()
	for _, bucket := range memory.Buckets {
		if _, ok := changed[bucket]; !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert, bucket, encoded[bucket], savedAt); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s snapshot: %w", w.dialect.Name, err)
	}
	for bucket, sum := range changed {
		w.digests[bucket] = sum
	}
	return len(changed), nil
}
