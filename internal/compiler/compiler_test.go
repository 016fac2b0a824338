package compiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skibbadb/skibbadb/internal/query"
)

// fakeResolver treats any field present in columns as a materialized column
// and falls back to json_extract otherwise, mirroring internal/registry's
// real resolution rule closely enough for compiler tests to stay decoupled
// from it.
type fakeResolver struct {
	columns map[string]bool
}

func (r fakeResolver) Resolve(table, field string) string {
	if strings.Contains(field, ".") && !r.columns[field] {
		return fmt.Sprintf(`json_extract(%s.doc, '$.%s')`, table, field)
	}
	if r.columns[field] {
		return fmt.Sprintf("%s.%s", table, field)
	}
	return fmt.Sprintf(`json_extract(%s.doc, '$.%s')`, table, field)
}

func TestCompileSimpleEq(t *testing.T) {
	b := query.New("users").Where("department").Eq("Engineering")
	compiled, err := Compile(b, fakeResolver{columns: map[string]bool{"department": true}})
	require.NoError(t, err)
	require.Equal(t, `SELECT "users".doc FROM "users" WHERE users.department = ?`, compiled.SQL)
	require.Equal(t, []any{"Engineering"}, compiled.Args)
}

func TestCompileOrPromotion(t *testing.T) {
	b := query.New("users").Where("department").Eq("Engineering")
	b.Or(func(sub *query.Builder) {
		sub.Where("department").Eq("Marketing")
	})

	compiled, err := Compile(b, fakeResolver{columns: map[string]bool{"department": true}})
	require.NoError(t, err)
	require.Equal(t,
		`SELECT "users".doc FROM "users" WHERE (users.department = ?) OR (users.department = ?)`,
		compiled.SQL)
	require.Equal(t, []any{"Engineering", "Marketing"}, compiled.Args)
}

func TestCompileJSONPathFallback(t *testing.T) {
	b := query.New("users").Where("profile.email").Eq("a@example.com")
	compiled, err := Compile(b, fakeResolver{columns: map[string]bool{}})
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, `json_extract(users.doc, '$.profile.email') = ?`)
}

func TestCompileInWithEmptySlice(t *testing.T) {
	b := query.New("users").Where("id").In(nil)
	compiled, err := Compile(b, fakeResolver{})
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, "WHERE 1=0")
}

func TestCompilePaginationAndOrder(t *testing.T) {
	b := query.New("users").OrderByOnly("name", false).Page(2, 10)
	compiled, err := Compile(b, fakeResolver{columns: map[string]bool{"name": true}})
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, "ORDER BY users.name ASC")
	require.Contains(t, compiled.SQL, "LIMIT 10")
	require.Contains(t, compiled.SQL, "OFFSET 10")
}

func TestCompileAggregateWithGroupBy(t *testing.T) {
	b := query.New("orders").GroupBy("status").CountAll("total")
	compiled, err := Compile(b, fakeResolver{columns: map[string]bool{"status": true}})
	require.NoError(t, err)
	require.Equal(t,
		`SELECT orders.status, COUNT(*) AS "total" FROM "orders" GROUP BY orders.status`,
		compiled.SQL)
}

func TestCompilePropagatesBuilderError(t *testing.T) {
	b := query.New("users").Page(0, 10)
	_, err := Compile(b, fakeResolver{})
	require.Error(t, err)
}

func TestCompileSubqueryIn(t *testing.T) {
	b := query.New("users").InSubquery("id", "orders", func(sub *query.Builder) {
		sub.Select("userId").Where("status").Eq("paid")
	})
	compiled, err := Compile(b, fakeResolver{columns: map[string]bool{"userId": true, "status": true}})
	require.NoError(t, err)
	require.Contains(t, compiled.SQL, "IN (SELECT orders.userId FROM \"orders\" WHERE orders.status = ?)")
	require.Equal(t, []any{"paid"}, compiled.Args)
}
