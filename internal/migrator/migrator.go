// Package migrator maintains the per-collection version meta table, diffs a
// declared validator's fields against the stored snapshot, and applies the
// resulting DDL plan in a transaction — the same "migrations as rows in a
// meta table, plan then apply" shape as xataio-pgroll's pkg/state, collapsed
// here to one collection-version row instead of one row per named migration.
package migrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pterm/pterm"

	"github.com/skibbadb/skibbadb/internal/registry"
	"github.com/skibbadb/skibbadb/internal/validatorapi"
)

// MetaTableName is the global table tracking each collection's applied
// schema version (§6 "one global meta table").
const MetaTableName = "_skibbadb_migrations"

// DryRunEnvVar enables print-only migration plans for the current process
// (§4.5, §6).
const DryRunEnvVar = "SKIBBADB_MIGRATE"

// Alter is one ALTER TABLE statement in a plan.
type Alter struct {
	SQL   string
	Field string
}

// Diff is the result of comparing a collection's previously-stored field
// snapshot against its currently-declared validator fields.
type Diff struct {
	Alters          []Alter
	Breaking        bool
	BreakingReasons []string
}

// Snapshot is the persisted field list used for the next diff; stored as
// JSON in the meta table's "fields" column.
type Snapshot []validatorapi.FieldSpec

// UpgradeContext is passed to a collection's upgrade/seed functions (§4.5).
type UpgradeContext struct {
	FromVersion int
	ToVersion   int
	Tx          *sql.Tx
	Exec        func(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query       func(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Migrator owns the meta table and runs plans against one *sql.DB.
type Migrator struct {
	db     *sql.DB
	logger pterm.Logger
}

// New constructs a Migrator. Callers resolve the default
// (*pterm.DefaultLogger) before calling, mirroring the facade's Config.Logger
// resolution.
func New(db *sql.DB, logger pterm.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// InitializeMigrationsTable creates the meta table if absent.
func (m *Migrator) InitializeMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    collection TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    appliedAt TEXT NOT NULL,
    fields TEXT NOT NULL DEFAULT '[]'
)`, MetaTableName))
	if err != nil {
		return fmt.Errorf("migrator: create meta table: %w", err)
	}
	return nil
}

// GetStoredVersion returns a collection's applied version, 0 if absent.
func (m *Migrator) GetStoredVersion(ctx context.Context, collection string) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT version FROM %s WHERE collection = ?", MetaTableName), collection).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrator: get stored version: %w", err)
	}
	return version, nil
}

func (m *Migrator) getStoredSnapshot(ctx context.Context, collection string) (Snapshot, error) {
	var raw string
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT fields FROM %s WHERE collection = ?", MetaTableName), collection).Scan(&raw)
	if err == sql.ErrNoRows || raw == "" {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrator: get stored snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("migrator: decode stored snapshot: %w", err)
	}
	return snap, nil
}

// GenerateSchemaDiff compares oldFields (the previously-stored snapshot, nil
// on first registration) against newFields (the currently-declared
// validator's fields) for tableName, per §4.5's type-mapping table.
func GenerateSchemaDiff(oldFields, newFields Snapshot, tableName string) Diff {
	oldByPath := make(map[string]validatorapi.FieldSpec, len(oldFields))
	for _, f := range oldFields {
		oldByPath[f.Path] = f
	}
	newByPath := make(map[string]validatorapi.FieldSpec, len(newFields))
	for _, f := range newFields {
		newByPath[f.Path] = f
	}

	var diff Diff

	paths := make([]string, 0, len(newFields))
	for _, f := range newFields {
		paths = append(paths, f.Path)
	}

	for _, path := range paths {
		nf := newByPath[path]
		of, existed := oldByPath[path]
		if !existed {
			diff.Alters = append(diff.Alters, Alter{
				SQL:   fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(tableName), columnName(path), string(nf.SQLType)),
				Field: path,
			})
			continue
		}
		if of.SQLType != nf.SQLType {
			diff.Breaking = true
			diff.BreakingReasons = append(diff.BreakingReasons,
				fmt.Sprintf("Field %q changed type from %s to %s", path, of.SQLType, nf.SQLType))
		}
	}

	removedPaths := make([]string, 0)
	for _, f := range oldFields {
		if _, stillPresent := newByPath[f.Path]; !stillPresent {
			removedPaths = append(removedPaths, f.Path)
		}
	}
	sort.Strings(removedPaths)
	for _, path := range removedPaths {
		diff.Breaking = true
		diff.BreakingReasons = append(diff.BreakingReasons, fmt.Sprintf("Field %q was removed", path))
	}

	return diff
}

// Plan is the fully-resolved work for one collection's Initialize call.
type Plan struct {
	Collection  string
	FromVersion int
	ToVersion   int
	Diff        Diff
	DryRun      bool
}

// dryRun reports whether print-only migrations are enabled for this process.
func dryRun() bool {
	return os.Getenv(DryRunEnvVar) == "print"
}

// Initialize computes and, unless in dry-run mode, applies the migration
// plan for desc: ALTERs from the schema diff, then each pending upgrade in
// (stored, declared], then the seed function on first creation, all inside
// one transaction, finally recording the new version and field snapshot.
func (m *Migrator) Initialize(ctx context.Context, desc *registry.CollectionDescriptor) (*Plan, error) {
	if err := m.InitializeMigrationsTable(ctx); err != nil {
		return nil, err
	}

	stored, err := m.GetStoredVersion(ctx, desc.Name)
	if err != nil {
		return nil, err
	}
	oldSnapshot, err := m.getStoredSnapshot(ctx, desc.Name)
	if err != nil {
		return nil, err
	}

	var newSnapshot Snapshot
	if desc.Validator != nil {
		newSnapshot = desc.Validator.Fields()
	}

	diff := GenerateSchemaDiff(oldSnapshot, newSnapshot, desc.Name)
	plan := &Plan{Collection: desc.Name, FromVersion: stored, ToVersion: desc.Version, Diff: diff, DryRun: dryRun()}

	if plan.DryRun {
		m.logger.Info(fmt.Sprintf("skibbadb migrate (dry-run) collection=%s from=%d to=%d", desc.Name, stored, desc.Version))
		for _, a := range diff.Alters {
			m.logger.Info("  " + a.SQL)
		}
		for i := stored + 1; i <= desc.Version; i++ {
			if _, ok := desc.Upgrades[i]; ok {
				m.logger.Info(fmt.Sprintf("  upgrade[%d]", i))
			}
		}
		return plan, nil
	}

	if stored >= desc.Version && oldSnapshot != nil {
		return plan, nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("migrator: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, alter := range diff.Alters {
		if _, err := tx.ExecContext(ctx, alter.SQL); err != nil {
			return nil, fmt.Errorf("migrator: apply alter %q: %w", alter.SQL, err)
		}
	}

	upCtx := &UpgradeContext{FromVersion: stored, ToVersion: desc.Version, Tx: tx, Exec: tx.ExecContext, Query: tx.QueryContext}
	for v := stored + 1; v <= desc.Version; v++ {
		raw, ok := desc.Upgrades[v]
		if !ok {
			continue
		}
		if err := runUpgrade(raw, upCtx); err != nil {
			return nil, fmt.Errorf("migrator: upgrade[%d]: %w", v, err)
		}
	}

	if stored == 0 && desc.SeedFn != nil {
		if err := desc.SeedFn(upCtx); err != nil {
			return nil, fmt.Errorf("migrator: seed: %w", err)
		}
	}

	snapJSON, err := json.Marshal(newSnapshot)
	if err != nil {
		return nil, fmt.Errorf("migrator: encode snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %[1]s (collection, version, appliedAt, fields) VALUES (?, ?, ?, ?)
ON CONFLICT(collection) DO UPDATE SET version=excluded.version, appliedAt=excluded.appliedAt, fields=excluded.fields`, MetaTableName),
		desc.Name, desc.Version, time.Now().UTC().Format(time.RFC3339Nano), string(snapJSON))
	if err != nil {
		return nil, fmt.Errorf("migrator: record version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("migrator: commit: %w", err)
	}
	committed = true

	return plan, nil
}

func runUpgrade(raw any, ctx *UpgradeContext) error {
	switch v := raw.(type) {
	case registry.UpgradeFn:
		return v(ctx)
	case func(any) error:
		return v(ctx)
	case registry.ConditionalUpgrade:
		if v.Condition != nil && !v.Condition() {
			return nil
		}
		return v.Migrate(ctx)
	default:
		return fmt.Errorf("migrator: unsupported upgrade value of type %T", raw)
	}
}

func columnName(path string) string {
	out := make([]byte, 0, len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, '_')
		} else {
			out = append(out, path[i])
		}
	}
	return string(out)
}

func quoteIdent(ident string) string {
	return `"` + ident + `"`
}
