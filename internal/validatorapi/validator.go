// Package validatorapi defines the abstract schema validator capability the
// engine validates documents against. The corpus's runtime schema is a value,
// not a compile-time type, so a conforming implementation is anything that
// can parse a decoded document and describe its fields for the migrator's
// diff (see internal/migrator). The shipped default wraps
// santhosh-tekuri/jsonschema/v6; hosts may supply their own.
package validatorapi

import "context"

// SQLType mirrors the constrained-field SQL type vocabulary from the data
// model so the migrator can translate a validator's field list into DDL
// without reaching back into the engine's public package.
type SQLType string

const (
	TypeText    SQLType = "TEXT"
	TypeInteger SQLType = "INTEGER"
	TypeReal    SQLType = "REAL"
	TypeBoolean SQLType = "BOOLEAN"
	TypeBlob    SQLType = "BLOB"
)

// FieldSpec describes one declared document field for migration diffing.
type FieldSpec struct {
	Path     string
	SQLType  SQLType
	Nullable bool
}

// FieldError is one validator-reported complaint about a document.
type FieldError struct {
	Path    string
	Message string
}

// Validator is the runtime schema capability. Parse returns the
// (possibly-defaulted) value on success, or a non-empty FieldError list on
// rejection. Fields supports the migrator's schema diff; implementations
// that cannot introspect their schema may return nil, in which case the
// diff yields no ALTER statements for them.
type Validator interface {
	Parse(ctx context.Context, value any) (any, []FieldError, error)
	Fields() []FieldSpec
}

// Func adapts a plain validation function (no field introspection) into a
// Validator, for hosts that hand-roll a minimal validator per the design
// notes rather than wrapping a schema library.
type Func func(ctx context.Context, value any) (any, []FieldError, error)

func (f Func) Parse(ctx context.Context, value any) (any, []FieldError, error) {
	return f(ctx, value)
}

func (f Func) Fields() []FieldSpec { return nil }
