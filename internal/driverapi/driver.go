// Package driverapi is the abstract exec/query/transaction/close capability
// (§4.1) with two implementations sharing one *sql.DB opened against
// github.com/ncruces/go-sqlite3: Blocking runs every call to completion on
// the calling goroutine; Cooperative serializes calls through a single
// background goroutine draining a FIFO job channel, the "suspension" model
// of §5. Blocking guards every call with an RWMutex the way the teacher's
// SQLiteStorage holds reconnectMu; Cooperative relies on its single worker
// goroutine and locks only in Close.
package driverapi

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pterm/pterm"

	"github.com/skibbadb/skibbadb/internal/sqlutil"
	"github.com/skibbadb/skibbadb/internal/txn"
)

// Rows is the minimal query result surface callers need; satisfied directly
// by *sql.Rows.
type Rows = sql.Rows

// Driver is the abstract capability the rest of the engine depends on,
// rather than *sql.DB directly, so the compiler/facade code is shared
// between the blocking and cooperative variants (§4.1).
type Driver interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Transaction(ctx context.Context, fn func(ctx context.Context, conn txn.Conn) error) error
	DB() *sql.DB
	Close() error
}

var (
	_ Driver = (*Blocking)(nil)
	_ Driver = (*Cooperative)(nil)
)

// Options configures Open.
type Options struct {
	Path        string // empty + Memory false => "database.db"
	Memory      bool
	Pragma      sqlutil.PragmaOptions
	CacheSizeKB int // 0 triggers auto-tune
	Logger      pterm.Logger
}

func dsn(opts Options) string {
	if opts.Memory {
		return ":memory:"
	}
	if opts.Path == "" {
		return "database.db"
	}
	return opts.Path
}

// openDB opens and configures a *sql.DB shared by both driver variants:
// register under the sqlite3 name, apply §4.1's pragmas, including the
// cache-size auto-tune unless an explicit size was given.
func openDB(opts Options) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(opts))
	if err != nil {
		return nil, fmt.Errorf("driverapi: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-connection model, §5

	cacheKB := opts.CacheSizeKB
	if cacheKB == 0 {
		cacheKB = sqlutil.CacheSizeKB(0, opts.Logger)
	}
	if err := sqlutil.Apply(context.Background(), sqlExecAdapter{db}, opts.Pragma, cacheKB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type sqlExecAdapter struct{ db *sql.DB }

func (a sqlExecAdapter) ExecContext(ctx context.Context, query string, args ...any) (sqlutil.Result, error) {
	return a.db.ExecContext(ctx, query, args...)
}

// wrapDBError wraps an underlying driver failure as a DatabaseError-shaped
// message; it deliberately does not import the root package (which would
// create an import cycle) — callers upgrade the message into a
// *skibbadb.DatabaseError at the facade boundary.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("driverapi: %s: %w", op, err)
}

// isClosedErr reports whether err is database/sql's "sql: database is
// closed", which both variants swallow per §4.1/§7 to keep shutdown
// idempotent.
func isClosedErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is closed")
}

var (
	emptyRowOnce sync.Once
	emptyRowDB   *sql.DB
)

// emptyRow manufactures a genuine empty-result *sql.Row for QueryRow against
// an already-closed driver (§4.1/§7 "a closed driver's reads return empty,
// not an error"): unlike Exec/Query's result types, *sql.Row has no exported
// zero value safe to return directly (Scan on a nil *sql.Row panics), so
// this runs a statement guaranteed to match nothing against a standalone,
// never-closed in-memory handle reserved for exactly this purpose.
func emptyRow(ctx context.Context) *sql.Row {
	emptyRowOnce.Do(func() {
		emptyRowDB, _ = sql.Open("sqlite3", ":memory:")
	})
	return emptyRowDB.QueryRowContext(ctx, "SELECT 1 WHERE 0")
}
