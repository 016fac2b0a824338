package skibbadb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skibbadb/skibbadb/internal/validatorapi"
)

// acceptAll is a Validator that approves every document and declares no
// fields, the minimal stand-in for a host-supplied schema in tests that
// don't care about validation itself.
var acceptAll = validatorapi.Func(func(ctx context.Context, value any) (any, []validatorapi.FieldError, error) {
	return value, nil, nil
})

func openMemDB(t *testing.T, driver DriverKind) *Database {
	t.Helper()
	db, err := CreateDB(Config{Memory: true, Driver: driver})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateDBMemoryBothDrivers(t *testing.T) {
	for _, kind := range []DriverKind{DriverBlocking, DriverCooperative} {
		t.Run(string(kind), func(t *testing.T) {
			db := openMemDB(t, kind)
			require.NotNil(t, db)
		})
	}
}

func TestDatabaseCloseIsIdempotent(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestCollectionRegistrationIsStableAcrossCalls(t *testing.T) {
	db := openMemDB(t, DriverBlocking)

	a, err := db.Collection("widgets", acceptAll, CollectionOptions{})
	require.NoError(t, err)
	b, err := db.Collection("widgets", acceptAll, CollectionOptions{})
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestDatabaseTransactionRollsBackOnError(t *testing.T) {
	for _, kind := range []DriverKind{DriverBlocking, DriverCooperative} {
		t.Run(string(kind), func(t *testing.T) {
			db := openMemDB(t, kind)
			col, err := db.Collection("widgets", acceptAll, CollectionOptions{})
			require.NoError(t, err)
			require.NoError(t, col.WaitForInitialization(context.Background()))

			boom := require.New(t)
			ctx := context.Background()

			err = db.Transaction(ctx, func(ctx context.Context) error {
				_, err := col.Insert(ctx, map[string]any{"name": "gizmo"})
				if err != nil {
					return err
				}
				return context.Canceled
			})
			boom.Error(err)

			n, err := col.Count(ctx, nil, "")
			require.NoError(t, err)
			require.Equal(t, int64(0), n)
		})
	}
}

func TestRawQueryAndExec(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	ctx := context.Background()

	_, err := db.Exec(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	n, err := db.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rows, err := db.Query(ctx, "SELECT v FROM kv WHERE k = ?", "a")
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var v string
	require.NoError(t, rows.Scan(&v))
	require.Equal(t, "1", v)
}

func TestRegisterPluginRejectsDuplicateName(t *testing.T) {
	db := openMemDB(t, DriverBlocking)

	p := &Plugin{Name: "audit", Hooks: map[string]PluginHandler{}}
	require.NoError(t, db.RegisterPlugin(p))
	require.Error(t, db.RegisterPlugin(p))

	db.UnregisterPlugin("audit")
	require.NoError(t, db.RegisterPlugin(p))
}
