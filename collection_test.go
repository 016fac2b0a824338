package skibbadb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func usersCollection(t *testing.T, db *Database) *Collection {
	t.Helper()
	col, err := db.Collection("users", acceptAll, CollectionOptions{
		ConstrainedFields: map[string]ConstrainedFieldDef{
			"email": {Type: TypeText, Unique: true},
			"age":   {Type: TypeInteger, Nullable: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, col.WaitForInitialization(context.Background()))
	return col
}

func TestInsertAssignsIDAndRoundTrips(t *testing.T) {
	for _, kind := range []DriverKind{DriverBlocking, DriverCooperative} {
		t.Run(string(kind), func(t *testing.T) {
			db := openMemDB(t, kind)
			users := usersCollection(t, db)
			ctx := context.Background()

			inserted, err := users.Insert(ctx, map[string]any{"email": "a@example.com", "age": 30})
			require.NoError(t, err)
			id, _ := inserted["id"].(string)
			require.NotEmpty(t, id)

			found, err := users.FindByID(ctx, id)
			require.NoError(t, err)
			require.Equal(t, "a@example.com", found["email"])
			require.EqualValues(t, 30, found["age"])
		})
	}
}

func TestInsertDuplicateUniqueFieldIsRejected(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	users := usersCollection(t, db)
	ctx := context.Background()

	_, err := users.Insert(ctx, map[string]any{"email": "dup@example.com"})
	require.NoError(t, err)

	_, err = users.Insert(ctx, map[string]any{"email": "dup@example.com"})
	require.Error(t, err)
	uerr, ok := AsUniqueConstraintError(err)
	require.True(t, ok)
	require.Equal(t, "users", uerr.Collection)
}

func TestPutMergesOverExistingDocument(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	users := usersCollection(t, db)
	ctx := context.Background()

	inserted, err := users.Insert(ctx, map[string]any{"email": "p@example.com", "age": 20})
	require.NoError(t, err)
	id := inserted["id"].(string)

	updated, err := users.Put(ctx, id, map[string]any{"age": 21})
	require.NoError(t, err)
	require.Equal(t, "p@example.com", updated["email"])
	require.EqualValues(t, 21, updated["age"])
}

func TestPutOnMissingIDIsNotFound(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	users := usersCollection(t, db)

	_, err := users.Put(context.Background(), "does-not-exist", map[string]any{"age": 1})
	require.Error(t, err)
	_, ok := AsNotFoundError(err)
	require.True(t, ok)
}

func TestUpsertInsertsThenReplaces(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	users := usersCollection(t, db)
	ctx := context.Background()

	doc, err := users.Upsert(ctx, "fixed-id", map[string]any{"email": "u@example.com", "age": 1})
	require.NoError(t, err)
	require.Equal(t, "fixed-id", doc["id"])

	doc, err = users.Upsert(ctx, "fixed-id", map[string]any{"email": "u2@example.com", "age": 2})
	require.NoError(t, err)
	require.Equal(t, "u2@example.com", doc["email"])

	found, err := users.FindByID(ctx, "fixed-id")
	require.NoError(t, err)
	require.Equal(t, "u2@example.com", found["email"])
}

func TestDeleteReportsWhetherARowWasRemoved(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	users := usersCollection(t, db)
	ctx := context.Background()

	inserted, err := users.Insert(ctx, map[string]any{"email": "d@example.com"})
	require.NoError(t, err)
	id := inserted["id"].(string)

	removed, err := users.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = users.Delete(ctx, id)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestToArrayFiltersByConstrainedField(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	users := usersCollection(t, db)
	ctx := context.Background()

	_, err := users.InsertBulk(ctx, []map[string]any{
		{"email": "x@example.com", "age": 18},
		{"email": "y@example.com", "age": 40},
		{"email": "z@example.com", "age": 65},
	})
	require.NoError(t, err)

	results, err := users.ToArray(ctx, users.Query().Where("age").Gte(40))
	require.NoError(t, err)
	require.Len(t, results, 2)

	first, err := users.First(ctx, users.Query().Where("email").Eq("x@example.com"))
	require.NoError(t, err)
	require.NotNil(t, first)
	require.EqualValues(t, 18, first["age"])

	none, err := users.First(ctx, users.Query().Where("email").Eq("absent@example.com"))
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestCountWithAndWithoutDistinct(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	users := usersCollection(t, db)
	ctx := context.Background()

	_, err := users.InsertBulk(ctx, []map[string]any{
		{"email": "c1@example.com", "age": 20},
		{"email": "c2@example.com", "age": 20},
		{"email": "c3@example.com", "age": 30},
	})
	require.NoError(t, err)

	total, err := users.Count(ctx, nil, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	distinctAges, err := users.Count(ctx, nil, "age")
	require.NoError(t, err)
	require.Equal(t, int64(2), distinctAges)
}

func TestForeignKeyRejectsDanglingReference(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	users := usersCollection(t, db)
	ctx := context.Background()

	posts, err := db.Collection("posts", acceptAll, CollectionOptions{
		ConstrainedFields: map[string]ConstrainedFieldDef{
			"authorId": {Type: TypeText, ForeignKey: "users._id", OnDelete: FKCascade},
		},
	})
	require.NoError(t, err)
	require.NoError(t, posts.WaitForInitialization(ctx))

	_, err = posts.Insert(ctx, map[string]any{"authorId": "nobody", "title": "orphaned"})
	require.Error(t, err)
	verr, ok := AsValidationError(err)
	require.True(t, ok)
	require.Equal(t, "users", verr.RefTable)

	author, err := users.Insert(ctx, map[string]any{"email": "author@example.com"})
	require.NoError(t, err)
	authorID := author["id"].(string)

	_, err = posts.Insert(ctx, map[string]any{"authorId": authorID, "title": "real post"})
	require.NoError(t, err)

	removed, err := users.Delete(ctx, authorID)
	require.NoError(t, err)
	require.True(t, removed)

	remaining, err := posts.Count(ctx, nil, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), remaining, "ON DELETE CASCADE should remove the dependent post")
}

func TestVectorFieldIsWriteOnlyAndDimensionChecked(t *testing.T) {
	db := openMemDB(t, DriverBlocking)
	ctx := context.Background()

	embeddings, err := db.Collection("embeddings", acceptAll, CollectionOptions{
		ConstrainedFields: map[string]ConstrainedFieldDef{
			"vector": {Type: TypeVector, VectorDimensions: 3},
		},
	})
	require.NoError(t, err)
	require.NoError(t, embeddings.WaitForInitialization(ctx))

	_, err = embeddings.Insert(ctx, map[string]any{"vector": []any{1.0, 2.0}})
	require.Error(t, err)

	inserted, err := embeddings.Insert(ctx, map[string]any{"vector": []any{1.0, 2.0, 3.0}})
	require.NoError(t, err)
	id := inserted["id"].(string)

	found, err := embeddings.FindByID(ctx, id)
	require.NoError(t, err)
	_, present := found["vector"]
	require.False(t, present, "vector fields are write-only and never surfaced on read")
}

// TestPutUnderCooperativeDriverDoesNotDeadlock exercises the nested-call path
// that deadlocked before Cooperative's Exec/Query/QueryRow learned to bypass
// submit() when already running inside an active transaction's job: Put
// performs a FindByID (a Query) and an execUpdate (an Exec) from inside one
// db.driver.Transaction callback, all three calls happening synchronously on
// the driver's single worker goroutine.
func TestPutUnderCooperativeDriverDoesNotDeadlock(t *testing.T) {
	db := openMemDB(t, DriverCooperative)
	users := usersCollection(t, db)
	ctx := context.Background()

	inserted, err := users.Insert(ctx, map[string]any{"email": "coop@example.com", "age": 1})
	require.NoError(t, err)
	id := inserted["id"].(string)

	done := make(chan error, 1)
	go func() {
		_, err := users.Put(ctx, id, map[string]any{"age": 2})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Put under the cooperative driver deadlocked")
	}
}
