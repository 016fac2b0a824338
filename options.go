package skibbadb

import (
	"github.com/pterm/pterm"

	"github.com/skibbadb/skibbadb/internal/migrator"
	"github.com/skibbadb/skibbadb/internal/plugin"
	"github.com/skibbadb/skibbadb/internal/registry"
	"github.com/skibbadb/skibbadb/internal/sqlutil"
	"github.com/skibbadb/skibbadb/internal/validatorapi"
)

// DriverKind selects the blocking or cooperative driver variant (§4.1, §4.10).
type DriverKind string

const (
	DriverBlocking    DriverKind = "blocking"
	DriverCooperative DriverKind = "cooperative"
)

// SQLiteOptions mirrors the pragma surface from §6.
type SQLiteOptions struct {
	JournalMode   string
	Synchronous   string
	BusyTimeoutMs int
	CacheSizeKB   int // 0 means auto-tune, see internal/sqlutil
	TempStore     string
	LockingMode   string
	AutoVacuum    string
	WALCheckpoint int
}

func (o SQLiteOptions) toPragmaOptions() sqlutil.PragmaOptions {
	return sqlutil.PragmaOptions{
		JournalMode:   o.JournalMode,
		Synchronous:   o.Synchronous,
		BusyTimeoutMs: o.BusyTimeoutMs,
		TempStore:     o.TempStore,
		LockingMode:   o.LockingMode,
		AutoVacuum:    o.AutoVacuum,
		WALCheckpoint: o.WALCheckpoint,
	}
}

// Config configures CreateDB (§6 "Configuration surface").
type Config struct {
	Path   string
	Memory bool
	Driver DriverKind
	SQLite SQLiteOptions

	// WatchExternalWrites enables an fsnotify watcher on the database file
	// so host applications can detect a second process touching it despite
	// the single-process advisory lock (file-backed databases only).
	WatchExternalWrites bool

	// Logger overrides the default pterm logger used for warnings (cache
	// auto-tune fallback, legacy constraints deprecation, lenient-mode
	// plugin failures).
	Logger *pterm.Logger

	// PluginPolicy selects strict vs. lenient plugin error handling
	// (default strict).
	PluginPolicy plugin.Policy
}

func (c Config) resolvedLogger() pterm.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return *pterm.DefaultLogger
}

// UpgradeFn evolves a collection from one version to the next under a
// transaction (§9 "Upgrade function").
type UpgradeFn = registry.UpgradeFn

// ConditionalUpgrade skips its Migrate when Condition returns false.
type ConditionalUpgrade = registry.ConditionalUpgrade

// ConstrainedFieldDef declares one document path promoted to a dedicated SQL
// column (§3 "Constrained field definition").
type ConstrainedFieldDef = registry.ConstrainedFieldDef

// LegacyConstraint is the deprecated pre-constrainedFields declaration form.
type LegacyConstraint = registry.LegacyConstraint

// IndexDef is an explicit named index beyond the ones derived automatically.
type IndexDef = registry.IndexDef

const (
	TypeText    = registry.TypeText
	TypeInteger = registry.TypeInteger
	TypeReal    = registry.TypeReal
	TypeBoolean = registry.TypeBoolean
	TypeBlob    = registry.TypeBlob
	TypeVector  = registry.TypeVector
)

const (
	FKCascade  = registry.FKCascade
	FKSetNull  = registry.FKSetNull
	FKRestrict = registry.FKRestrict
	FKNoAction = registry.FKNoAction
)

const (
	VectorFloat32 = registry.VectorFloat32
	VectorInt8    = registry.VectorInt8
)

const (
	PluginStrict  = plugin.PolicyStrict
	PluginLenient = plugin.PolicyLenient
)

// Hook carries the per-call context passed to every PluginHandler: which
// lifecycle event fired, which collection, the document it concerns (nil for
// hooks that don't have one, e.g. onBeforeQuery), and, for onError, the
// failure that triggered it (§4.9).
type Hook = plugin.Hook

// PluginHandler implements one lifecycle hook for a Plugin (§4.9).
type PluginHandler = plugin.Handler

// Plugin is a named, ordered set of lifecycle hook handlers, registered on a
// Database via Database.RegisterPlugin.
type Plugin = plugin.Plugin

// CollectionOptions configures Database.Collection beyond the bare validator
// (§3 "Collection descriptor", §6 "Collection options").
type CollectionOptions struct {
	PrimaryKey        string
	Version           int
	ConstrainedFields map[string]ConstrainedFieldDef
	LegacyConstraints map[string]LegacyConstraint
	Indexes           []IndexDef
	CompositeUniques  [][]string
	Upgrades          map[int]any
	Seed              func(ctx *UpgradeContext) error
}

// UpgradeContext is passed to a collection's upgrade/seed functions (§4.5):
// FromVersion/ToVersion identify the step being applied, and Tx/Exec/Query
// run statements against the same transaction the rest of the migration
// plan is applying in. Aliased to internal/migrator's type rather than
// wrapping it, since that's the concrete value the migrator actually hands
// to UpgradeFn and Seed at runtime.
type UpgradeContext = migrator.UpgradeContext

// Validator is the runtime schema capability documents are checked against
// (§9 "Dynamic runtime schema"). Re-exported so host applications never need
// to import internal/validatorapi directly.
type Validator = validatorapi.Validator

// CompileJSONSchema compiles a raw JSON Schema document into the default
// Validator implementation.
func CompileJSONSchema(url string, raw []byte) (Validator, error) {
	return validatorapi.CompileJSONSchema(url, raw)
}
