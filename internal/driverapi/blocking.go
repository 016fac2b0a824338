package driverapi

import (
	"context"
	"database/sql"
	"sync"

	"github.com/skibbadb/skibbadb/internal/txn"
)

// Blocking runs every operation to completion on the calling goroutine using
// database/sql's synchronous methods directly (§4.1 "Blocking" variant). A
// RWMutex guards the handle so Close can't race a concurrent operation, the
// same shape as the teacher's reconnectMu around every storage method.
type Blocking struct {
	mu     sync.RWMutex
	db     *sql.DB
	txns   *txn.Manager
	closed bool
}

// OpenBlocking opens a database and returns the blocking driver variant.
func OpenBlocking(opts Options) (*Blocking, error) {
	db, err := openDB(opts)
	if err != nil {
		return nil, err
	}
	return &Blocking{db: db, txns: txn.New(db)}, nil
}

func (b *Blocking) DB() *sql.DB { return b.db }

// Exec runs a write statement. If ctx carries an active transaction from an
// enclosing Transaction call, it runs on that transaction's own connection
// instead of the shared pool (see txn.ActiveConn) — the engine is single-
// connection, so routing back through b.db while the transaction holds the
// only connection would deadlock. A "database is closed" failure is
// swallowed as a no-op per §4.1/§7.
func (b *Blocking) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return driverClosedResult{}, nil
	}
	res, err := b.execer(ctx).ExecContext(ctx, query, args...)
	if isClosedErr(err) {
		return driverClosedResult{}, nil
	}
	return res, wrapDBError("exec", err)
}

// Query runs a read statement, routed the same way as Exec. A "database is
// closed" failure returns an empty row set per §4.1/§7.
func (b *Blocking) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return emptyRows(ctx, query)
	}
	rows, err := b.execer(ctx).QueryContext(ctx, query, args...)
	if isClosedErr(err) {
		return emptyRows(ctx, query)
	}
	return rows, wrapDBError("query", err)
}

// QueryRow runs a read statement expecting at most one row, routed the same
// way as Exec/Query. A "database is closed" read returns an empty row per
// §4.1/§7, matching Query's swallow rather than surfacing a scan error.
func (b *Blocking) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return emptyRow(ctx)
	}
	return b.execer(ctx).QueryRowContext(ctx, query, args...)
}

// execer returns the transaction's connection when ctx is inside one,
// otherwise the shared *sql.DB.
func (b *Blocking) execer(ctx context.Context) txn.Conn {
	if conn, ok := txn.ActiveConn(ctx); ok {
		return conn
	}
	return b.db
}

// Transaction runs fn under the reentrant transaction manager.
func (b *Blocking) Transaction(ctx context.Context, fn func(ctx context.Context, conn txn.Conn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.txns.Run(ctx, fn)
}

// Close closes the underlying database handle. Idempotent.
func (b *Blocking) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// driverClosedResult is the sql.Result returned for an Exec swallowed
// because the driver is closed: zero rows affected, no last insert id.
type driverClosedResult struct{}

func (driverClosedResult) LastInsertId() (int64, error) { return 0, nil }
func (driverClosedResult) RowsAffected() (int64, error) { return 0, nil }

// emptyRows returns a nil *Rows and no error, so reads against a closed
// driver observe an empty result rather than an error, per §4.1/§7. Callers
// treat a nil *Rows as an empty result set and must check for it before
// touching the rows.
func emptyRows(ctx context.Context, _ string) (*Rows, error) {
	return nil, nil
}
