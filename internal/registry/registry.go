// Package registry holds the process-local map of collection name → resolved
// collection metadata, the way the teacher's dependency graph keeps one
// authoritative in-memory index per table rather than re-deriving it on every
// call. It also implements compiler.FieldResolver directly off that metadata,
// so the compiler never has to know how a field was declared.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/skibbadb/skibbadb/internal/validatorapi"
)

// SQLType is the DDL column type vocabulary for a constrained field,
// distinct from validatorapi.SQLType because VECTOR has no schema-validator
// analogue (§4.11) and exists only at the DDL/constraint layer.
type SQLType string

const (
	TypeText    SQLType = "TEXT"
	TypeInteger SQLType = "INTEGER"
	TypeReal    SQLType = "REAL"
	TypeBoolean SQLType = "BOOLEAN"
	TypeBlob    SQLType = "BLOB"
	TypeVector  SQLType = "VECTOR"
)

// FKAction is a foreign-key ON DELETE/UPDATE action.
type FKAction string

const (
	FKCascade    FKAction = "CASCADE"
	FKSetNull    FKAction = "SET NULL"
	FKRestrict   FKAction = "RESTRICT"
	FKNoAction   FKAction = "NO ACTION"
)

// VectorElemType is the packed element type for a VECTOR constrained field.
type VectorElemType string

const (
	VectorFloat32 VectorElemType = "float32"
	VectorInt8    VectorElemType = "int8"
)

// ConstrainedFieldDef declares one document path promoted to a dedicated SQL
// column for indexing, uniqueness, FK enforcement, or a check constraint.
type ConstrainedFieldDef struct {
	Type       SQLType
	Nullable   bool
	Unique     bool
	ForeignKey string // "table.field"
	OnDelete   FKAction
	OnUpdate   FKAction
	Check      string // raw SQL boolean expression

	VectorDimensions int
	VectorType       VectorElemType
}

// LegacyConstraint is the deprecated pre-constrainedFields declaration form
// (§9 Open Question); the registry lowers it into a ConstrainedFieldDef.
type LegacyConstraint struct {
	Type     string // loosely-typed: "string"|"number"|"boolean"|"date"|"array"|"object"
	Unique   bool
	Nullable bool
}

// IndexDef is an explicit named index beyond the ones the installer derives
// automatically for constrained fields.
type IndexDef struct {
	Name    string
	Fields  []string // dotted paths allowed; expression-indexed when nested
	Unique  bool
	Where   string // optional partial-index predicate
}

// UpgradeFn evolves a collection from one version to the next under a
// transaction; see internal/migrator.UpgradeContext for its parameter.
type UpgradeFn func(ctx any) error

// ConditionalUpgrade skips Migrate when Condition returns false.
type ConditionalUpgrade struct {
	Condition func() bool
	Migrate   UpgradeFn
}

// CollectionDescriptor is the fully-resolved, immutable-after-registration
// metadata for one collection (§3 "Collection descriptor").
type CollectionDescriptor struct {
	Name             string
	Validator        validatorapi.Validator
	PrimaryKeyField  string
	Version          int
	ConstrainedFields map[string]ConstrainedFieldDef
	Indexes          []IndexDef
	CompositeUniques [][]string
	Upgrades         map[int]any // int -> UpgradeFn | ConditionalUpgrade
	SeedFn           func(ctx any) error
}

// RegisterOptions configures Register beyond the bare validator.
type RegisterOptions struct {
	PrimaryKey       string
	Version          int
	ConstrainedFields map[string]ConstrainedFieldDef
	LegacyConstraints map[string]LegacyConstraint
	Indexes          []IndexDef
	CompositeUniques [][]string
	Upgrades         map[int]any
	Seed             func(ctx any) error
}

// DuplicateCollectionError is returned by Register when name already exists.
type DuplicateCollectionError struct{ Name string }

func (e *DuplicateCollectionError) Error() string {
	return fmt.Sprintf("registry: collection %q is already registered", e.Name)
}

// DeprecationLogger receives one message when a legacy constraints object is
// lowered; the database facade wires this to its pterm logger.
type DeprecationLogger interface {
	Warn(msg string)
}

// Registry is the process-local collection metadata store. Its lifecycle is
// tied to one Database handle: created by CreateDB, discarded on Close.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*CollectionDescriptor
	deprecated DeprecationLogger
}

// New constructs an empty Registry. logger may be nil to silence the legacy
// constraints deprecation notice.
func New(logger DeprecationLogger) *Registry {
	return &Registry{byName: make(map[string]*CollectionDescriptor), deprecated: logger}
}

// Register resolves opts into a CollectionDescriptor and stores it under
// name. It fails if name is already registered (§4.3).
func (r *Registry) Register(name string, validator validatorapi.Validator, opts RegisterOptions) (*CollectionDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, &DuplicateCollectionError{Name: name}
	}

	pk := opts.PrimaryKey
	if pk == "" {
		pk = "id"
	}
	version := opts.Version
	if version == 0 {
		version = 1
	}

	fields := make(map[string]ConstrainedFieldDef, len(opts.ConstrainedFields)+len(opts.LegacyConstraints))
	for path, def := range opts.ConstrainedFields {
		fields[path] = def
	}
	if len(opts.LegacyConstraints) > 0 {
		if r.deprecated != nil {
			r.deprecated.Warn(fmt.Sprintf("collection %q uses the deprecated legacy constraints object; migrate to constrainedFields", name))
		}
		for path, legacy := range opts.LegacyConstraints {
			if _, already := fields[path]; already {
				continue
			}
			fields[path] = lowerLegacyConstraint(legacy)
		}
	}

	if err := checkAccidentalComposite(fields); err != nil {
		return nil, err
	}

	desc := &CollectionDescriptor{
		Name:              name,
		Validator:         validator,
		PrimaryKeyField:   pk,
		Version:           version,
		ConstrainedFields: fields,
		Indexes:           opts.Indexes,
		CompositeUniques:  opts.CompositeUniques,
		Upgrades:          opts.Upgrades,
		SeedFn:            opts.Seed,
	}
	r.byName[name] = desc
	return desc, nil
}

func lowerLegacyConstraint(l LegacyConstraint) ConstrainedFieldDef {
	t := TypeText
	switch l.Type {
	case "number":
		t = TypeReal
	case "boolean":
		t = TypeBoolean
	case "date":
		t = TypeText
	case "array", "object":
		t = TypeText
	}
	return ConstrainedFieldDef{Type: t, Unique: l.Unique, Nullable: l.Nullable}
}

// checkAccidentalComposite is the registration-time hook for the
// composite-unique advisory from SPEC_FULL §3. It flags nothing and always
// returns nil: two single-field unique declarations whose names share a
// conventional prefix (e.g. "order.id" and "order.seq" both unique) stay two
// independent unique columns, and the same path cannot be declared twice
// since fields is a map.
func checkAccidentalComposite(map[string]ConstrainedFieldDef) error { return nil }

// Get returns the descriptor for name, or nil if not registered.
func (r *Registry) Get(name string) *CollectionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// List returns every registered collection name in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Clear drops every registration. Used by Database.Close.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*CollectionDescriptor)
}

// Resolve implements compiler.FieldResolver: a constrained field (shallow or
// dotted) resolves to its materialized column; anything else falls back to a
// json_extract expression over doc, per §4.6.
func (r *Registry) Resolve(table, field string) string {
	desc := r.Get(table)
	if desc != nil {
		if def, ok := desc.ConstrainedFields[field]; ok {
			return fmt.Sprintf("%s.%s", table, columnNameFor(field, def))
		}
	}
	return fmt.Sprintf("json_extract(%s.doc, '$.%s')", table, field)
}

// columnNameFor derives the physical column identifier for a constrained
// field path: dots become underscores, since SQLite column names cannot
// contain a literal dotted path.
func columnNameFor(path string, _ ConstrainedFieldDef) string {
	return strings.ReplaceAll(path, ".", "_")
}
