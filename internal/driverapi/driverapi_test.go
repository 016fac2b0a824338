package driverapi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skibbadb/skibbadb/internal/txn"
)

func TestBlockingExecAndQuery(t *testing.T) {
	d, err := OpenBlocking(Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	_, err = d.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	_, err = d.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
	require.NoError(t, err)

	var v string
	require.NoError(t, d.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "a").Scan(&v))
	require.Equal(t, "1", v)
}

func TestBlockingTransactionRollback(t *testing.T) {
	d, err := OpenBlocking(Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	_, err = d.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = d.Transaction(ctx, func(ctx context.Context, conn txn.Conn) error {
		if _, err := conn.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "x", "1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, d.QueryRow(ctx, "SELECT COUNT(*) FROM kv WHERE k = ?", "x").Scan(&count))
	require.Equal(t, 0, count)
}

func TestCooperativeExecAndQuery(t *testing.T) {
	d, err := OpenCooperative(Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	_, err = d.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	_, err = d.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
	require.NoError(t, err)

	row := d.QueryRow(ctx, "SELECT v FROM kv WHERE k = ?", "a")
	var v string
	require.NoError(t, row.Scan(&v))
	require.Equal(t, "1", v)
}

func TestCooperativeSerializesSubmissions(t *testing.T) {
	d, err := OpenCooperative(Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	_, err = d.Exec(ctx, "CREATE TABLE counter (n INTEGER)")
	require.NoError(t, err)
	_, err = d.Exec(ctx, "INSERT INTO counter (n) VALUES (0)")
	require.NoError(t, err)

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := d.Exec(ctx, "UPDATE counter SET n = n + 1")
			done <- err
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}

	var n int
	require.NoError(t, d.QueryRow(ctx, "SELECT n FROM counter").Scan(&n))
	require.Equal(t, 20, n)
}
