package migrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skibbadb/skibbadb/internal/validatorapi"
)

func TestGenerateSchemaDiffAddColumn(t *testing.T) {
	oldFields := Snapshot{{Path: "name", SQLType: validatorapi.TypeText}}
	newFields := Snapshot{
		{Path: "name", SQLType: validatorapi.TypeText},
		{Path: "email", SQLType: validatorapi.TypeText, Nullable: true},
		{Path: "age", SQLType: validatorapi.TypeInteger, Nullable: true},
	}

	diff := GenerateSchemaDiff(oldFields, newFields, "users")
	require.False(t, diff.Breaking)
	require.Len(t, diff.Alters, 2)
	require.Equal(t, `ALTER TABLE "users" ADD COLUMN email TEXT`, diff.Alters[0].SQL)
	require.Equal(t, `ALTER TABLE "users" ADD COLUMN age INTEGER`, diff.Alters[1].SQL)
}

func TestGenerateSchemaDiffRemoveColumnIsBreaking(t *testing.T) {
	oldFields := Snapshot{
		{Path: "name", SQLType: validatorapi.TypeText},
		{Path: "email", SQLType: validatorapi.TypeText},
	}
	newFields := Snapshot{{Path: "name", SQLType: validatorapi.TypeText}}

	diff := GenerateSchemaDiff(oldFields, newFields, "users")
	require.True(t, diff.Breaking)
	require.Contains(t, diff.BreakingReasons, `Field "email" was removed`)
	require.Empty(t, diff.Alters)
}

func TestGenerateSchemaDiffTypeChangeIsBreaking(t *testing.T) {
	oldFields := Snapshot{{Path: "age", SQLType: validatorapi.TypeInteger}}
	newFields := Snapshot{{Path: "age", SQLType: validatorapi.TypeText}}

	diff := GenerateSchemaDiff(oldFields, newFields, "users")
	require.True(t, diff.Breaking)
	require.Len(t, diff.BreakingReasons, 1)
	require.Contains(t, diff.BreakingReasons[0], "age")
}

func TestGenerateSchemaDiffNoChanges(t *testing.T) {
	fields := Snapshot{{Path: "name", SQLType: validatorapi.TypeText}}
	diff := GenerateSchemaDiff(fields, fields, "users")
	require.False(t, diff.Breaking)
	require.Empty(t, diff.Alters)
	require.Empty(t, diff.BreakingReasons)
}
