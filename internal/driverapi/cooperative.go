package driverapi

import (
	"context"
	"database/sql"
	"sync"

	"github.com/skibbadb/skibbadb/internal/txn"
)

// job is one unit of work submitted to the cooperative driver's background
// goroutine: run does the actual work and sends its result on done. The
// background goroutine is the sole owner of db, so every Exec/Query/
// Transaction on this driver is serialized FIFO by submission, per §5.
type job struct {
	ctx  context.Context
	run  func(ctx context.Context) (any, error)
	done chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// Cooperative is the async/suspension-model driver variant: a single
// background goroutine owns the *sql.DB handle and drains a FIFO channel of
// submitted operations; callers submit and block on a result channel.
// Cancelling the caller's own context abandons the wait, and since each job
// runs with that same context, its database calls observe the cancellation
// too: a cancelled Transaction rolls back (§5 "Cancellation").
type Cooperative struct {
	db      *sql.DB
	txns    *txn.Manager
	jobs    chan job
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// OpenCooperative opens a database and starts its worker goroutine.
func OpenCooperative(opts Options) (*Cooperative, error) {
	db, err := openDB(opts)
	if err != nil {
		return nil, err
	}
	c := &Cooperative{
		db:   db,
		txns: txn.New(db),
		jobs: make(chan job, 64),
		done: make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

func (c *Cooperative) loop() {
	for j := range c.jobs {
		v, err := j.run(j.ctx)
		j.done <- jobResult{value: v, err: err}
	}
	close(c.done)
}

// submit enqueues run and blocks until it completes or ctx is cancelled. If
// ctx is cancelled first, submit returns ctx.Err() immediately. A job that
// was already enqueued is still run by the worker goroutine, but with the
// same cancelled ctx, so its database calls fail and a transaction rolls
// back rather than commits.
func (c *Cooperative) submit(ctx context.Context, run func(ctx context.Context) (any, error)) (any, error) {
	j := job{ctx: ctx, run: run, done: make(chan jobResult, 1)}

	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-j.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cooperative) DB() *sql.DB { return c.db }

// Exec, Query, and QueryRow normally hand their work to submit so it runs
// serialized on the worker goroutine. But when ctx already carries an active
// transaction (txn.ActiveConn), the caller is itself running inside that
// transaction's callback — which is already executing ON the worker
// goroutine, submitted there by Transaction below. Going through submit
// again in that case would enqueue a second job behind the first and wait
// for it, but the worker goroutine that would dequeue it is the very one
// blocked waiting — a guaranteed deadlock. So a call made from inside an
// active transaction runs directly against the transaction's connection
// instead, which is safe precisely because it's already on the sole owning
// goroutine.

func (c *Cooperative) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if conn, ok := txn.ActiveConn(ctx); ok {
		res, err := conn.ExecContext(ctx, query, args...)
		if isClosedErr(err) {
			return driverClosedResult{}, nil
		}
		return res, wrapDBError("exec", err)
	}

	v, err := c.submit(ctx, func(ctx context.Context) (any, error) {
		res, err := c.db.ExecContext(ctx, query, args...)
		if isClosedErr(err) {
			return driverClosedResult{}, nil
		}
		return res, wrapDBError("exec", err)
	})
	if v == nil {
		return nil, err
	}
	return v.(sql.Result), err
}

func (c *Cooperative) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if conn, ok := txn.ActiveConn(ctx); ok {
		rows, err := conn.QueryContext(ctx, query, args...)
		if isClosedErr(err) {
			return nil, nil
		}
		return rows, wrapDBError("query", err)
	}

	v, err := c.submit(ctx, func(ctx context.Context) (any, error) {
		rows, err := c.db.QueryContext(ctx, query, args...)
		if isClosedErr(err) {
			return nil, nil
		}
		return rows, wrapDBError("query", err)
	})
	if v == nil {
		return nil, err
	}
	return v.(*Rows), err
}

func (c *Cooperative) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if conn, ok := txn.ActiveConn(ctx); ok {
		return conn.QueryRowContext(ctx, query, args...)
	}

	v, _ := c.submit(ctx, func(ctx context.Context) (any, error) {
		return c.db.QueryRowContext(ctx, query, args...), nil
	})
	if v == nil {
		return nil
	}
	return v.(*sql.Row)
}

// Transaction submits fn to the worker goroutine, which runs it under the
// reentrant transaction manager. Cancelling ctx mid-transaction propagates
// as a failure to the transaction manager, which rolls back (§5
// "Cancellation"). As with Exec/Query/QueryRow, a call made from inside an
// already-active transaction (ctx carries txn.ActiveConn) runs c.txns.Run
// directly instead of going through submit: txns.Run is reentrant and
// recognizes the existing txState on ctx, but submit would enqueue a second
// job behind the one currently occupying the sole worker goroutine and block
// waiting for it — a guaranteed deadlock, since nothing is left to dequeue
// it.
func (c *Cooperative) Transaction(ctx context.Context, fn func(ctx context.Context, conn txn.Conn) error) error {
	if _, ok := txn.ActiveConn(ctx); ok {
		return c.txns.Run(ctx, fn)
	}

	_, err := c.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, c.txns.Run(ctx, fn)
	})
	return err
}

// Close stops accepting new work and closes the underlying handle once the
// worker goroutine drains. Idempotent.
func (c *Cooperative) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.jobs)
	<-c.done
	return c.db.Close()
}
