// Package testutil provides a fake database/sql driver that understands the
// snapshot table statements, so the postgres store can be tested offline.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
)

const table = "plantlab_state"

var seq atomic.Int64

// StateConn is a single fake connection holding the snapshot rows.
type StateConn struct {
	Execs   []string
	Buckets map[string][]byte
	SavedAt map[string]string

	FailPing   bool
	FailBegin  bool
	FailExec   bool
	FailCommit bool
	RowsErr    error

	pending map[string]row
}

type row struct {
	payload []byte
	savedAt string
}

// NewStubDB registers a uniquely named driver and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StateConn) {
	conn := &StateConn{Buckets: map[string][]byte{}, SavedAt: map[string]string{}}
	name := fmt.Sprintf("pgstub-%d", seq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StateConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StateConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements unsupported")
}

func (c *StateConn) Close() error { return nil }

func (c *StateConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StateConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("connection refused")
	}
	return nil
}

// BeginTx buffers upserts until Commit.
func (c *StateConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("begin refused")
	}
	c.pending = map[string]row{}
	return stubTx{conn: c}, nil
}

// ExecContext records every statement and applies snapshot upserts.
func (c *StateConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("exec refused")
	}
	if !strings.HasPrefix(strings.TrimSpace(query), "INSERT INTO "+table) {
		return driver.RowsAffected(0), nil
	}
	if len(args) != 3 {
		return nil, fmt.Errorf("upsert wants bucket, payload and saved_at, got %d args", len(args))
	}
	bucket, _ := args[0].Value.(string)
	payload, _ := args[1].Value.([]byte)
	savedAt, _ := args[2].Value.(string)
	r := row{payload: append([]byte(nil), payload...), savedAt: savedAt}
	if c.pending != nil {
		c.pending[bucket] = r
	} else {
		c.apply(bucket, r)
	}
	return driver.RowsAffected(1), nil
}

func (c *StateConn) apply(bucket string, r row) {
	c.Buckets[bucket] = r.payload
	c.SavedAt[bucket] = r.savedAt
}

// QueryContext answers the snapshot SELECT in bucket order.
func (c *StateConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(query, "FROM "+table) {
		return nil, fmt.Errorf("unexpected query %q", query)
	}
	buckets := make([]string, 0, len(c.Buckets))
	for b := range c.Buckets {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	out := &stubRows{err: c.RowsErr}
	for _, b := range buckets {
		out.values = append(out.values, []driver.Value{b, c.Buckets[b]})
	}
	return out, nil
}

type stubTx struct{ conn *StateConn }

func (t stubTx) Commit() error {
	pending := t.conn.pending
	t.conn.pending = nil
	if t.conn.FailCommit {
		return errors.New("commit refused")
	}
	for b, r := range pending {
		t.conn.apply(b, r)
	}
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.pending = nil
	return nil
}

type stubRows struct {
	values [][]driver.Value
	next   int
	err    error
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next == len(r.values) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
