// Package txn implements the single re-entrant transaction per driver
// connection described by §4.8: a transaction lives for the duration of the
// user callback, nested calls on the same Manager reuse the outer one, and
// any returned error rolls back. BEGIN IMMEDIATE retry on SQLITE_BUSY uses
// github.com/cloudflare/backoff, the same package xataio-pgroll's pkg/db
// uses to retry Postgres lock_timeout errors — adapted here from a
// per-statement retry to a transaction-acquisition retry.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudflare/backoff"
)

const (
	maxBeginBackoff  = 2 * time.Second
	beginBackoffStep = 10 * time.Millisecond
	maxBeginAttempts = 5
)

type ctxKey struct{}

// txState is stashed on the context while a transaction is active so a
// nested Manager.Run call on the same context reuses it instead of issuing a
// second BEGIN.
type txState struct {
	conn *sql.Conn
}

// Conn is satisfied by *sql.Conn: exec/query on the dedicated connection that
// holds the active transaction, the way the teacher's sqliteTxStorage wraps
// one *sql.Conn rather than database/sql's own *sql.Tx (letting BEGIN
// IMMEDIATE / COMMIT / ROLLBACK run as plain statements instead of fighting
// database/sql's own transaction state machine).
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Manager owns transaction acquisition for one driver connection (a single
// *sql.DB, since the engine is single-connection per §5).
type Manager struct {
	db *sql.DB
}

// New constructs a Manager over db.
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Run executes fn within a transaction. If ctx already carries an active
// transaction from an enclosing Run call, fn reuses it directly — no nested
// BEGIN/COMMIT (§4.8: "if currently inside one on this driver, call fn()
// directly"). Otherwise a dedicated connection is acquired, BEGIN IMMEDIATE
// is issued (retried with backoff on SQLITE_BUSY), fn runs against it, and
// the transaction commits on success or rolls back on any error, including a
// panic, which is re-raised after rollback.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context, conn Conn) error) (err error) {
	if state, ok := ctx.Value(ctxKey{}).(*txState); ok {
		return fn(ctx, state.conn)
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("txn: acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, maxBeginAttempts, beginBackoffStep); err != nil {
		return fmt.Errorf("txn: begin: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	childCtx := context.WithValue(ctx, ctxKey{}, &txState{conn: conn})
	if err := fn(childCtx, conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("txn: commit: %w", err)
	}
	committed = true
	return nil
}

// InTransaction reports whether ctx already carries an active transaction
// from an enclosing Manager.Run call.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(ctxKey{}).(*txState)
	return ok
}

// ActiveConn returns the dedicated connection of the transaction active on
// ctx, if any. The driver layer uses this to route a plain Exec/Query call
// made from inside a Manager.Run callback onto the same connection that
// holds the transaction, rather than back through the shared *sql.DB pool
// (which, under the engine's single-connection model, would deadlock against
// the checked-out transaction connection).
func ActiveConn(ctx context.Context) (Conn, bool) {
	state, ok := ctx.Value(ctxKey{}).(*txState)
	if !ok {
		return nil, false
	}
	return state.conn, true
}

// beginImmediateWithRetry issues BEGIN IMMEDIATE on conn with exponential
// backoff on SQLITE_BUSY, mirroring the teacher's retry-on-busy transaction
// start (internal/storage/sqlite/transaction.go).
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, maxAttempts int, interval time.Duration) error {
	b := backoff.New(maxBeginBackoff, interval)

	for attempt := 1; ; attempt++ {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "SQLITE_BUSY") ||
		strings.Contains(strings.ToUpper(err.Error()), "DATABASE IS LOCKED")
}

// ErrClosed is returned (or swallowed, per the caller's convention) when an
// operation runs against a driver that has already been closed.
var ErrClosed = errors.New("txn: database is closed")
