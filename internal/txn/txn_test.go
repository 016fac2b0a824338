package txn

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	return db
}

func TestRunCommitsOnSuccess(t *testing.T) {
	db := openMemDB(t)
	m := New(db)

	err := m.Run(context.Background(), func(ctx context.Context, conn Conn) error {
		_, err := conn.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
		return err
	})
	require.NoError(t, err)

	var v string
	require.NoError(t, db.QueryRow("SELECT v FROM kv WHERE k = ?", "a").Scan(&v))
	require.Equal(t, "1", v)
}

func TestRunRollsBackOnError(t *testing.T) {
	db := openMemDB(t)
	m := New(db)

	err := m.Run(context.Background(), func(ctx context.Context, conn Conn) error {
		if _, err := conn.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "b", "1"); err != nil {
			return err
		}
		return sql.ErrNoRows
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM kv WHERE k = ?", "b").Scan(&count))
	require.Equal(t, 0, count)
}

func TestRunReentersOuterTransaction(t *testing.T) {
	db := openMemDB(t)
	m := New(db)

	var innerSawSameConn bool
	err := m.Run(context.Background(), func(ctx context.Context, outer Conn) error {
		return m.Run(ctx, func(ctx context.Context, inner Conn) error {
			innerSawSameConn = inner == outer
			_, err := inner.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "c", "1")
			return err
		})
	})
	require.NoError(t, err)
	require.True(t, innerSawSameConn)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM kv WHERE k = ?", "c").Scan(&count))
	require.Equal(t, 1, count)
}
