package skibbadb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/pterm/pterm"

	"github.com/skibbadb/skibbadb/internal/constraints"
	"github.com/skibbadb/skibbadb/internal/driverapi"
	"github.com/skibbadb/skibbadb/internal/migrator"
	"github.com/skibbadb/skibbadb/internal/plugin"
	"github.com/skibbadb/skibbadb/internal/registry"
	"github.com/skibbadb/skibbadb/internal/txn"
)

// Database is the root facade (§4.10): it owns the driver, the process-local
// registry, the migrator, and the plugin manager, and lazily initializes
// each collection's backing table on first use.
type Database struct {
	driver   driverapi.Driver
	registry *registry.Registry
	migrator *migrator.Migrator
	plugins  *plugin.Manager
	logger   pterm.Logger

	fileLock *flock.Flock
	watcher  *fsnotify.Watcher
	watchCh  chan string

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// deprecationAdapter lets *pterm.Logger satisfy registry.DeprecationLogger
// without registry importing pterm directly.
type deprecationAdapter struct{ logger pterm.Logger }

func (a deprecationAdapter) Warn(msg string) { a.logger.Warn(msg) }

// CreateDB opens (or creates) a database according to cfg (§4.10, §6).
// A database opened with an explicit Path takes an advisory single-process
// lock via github.com/gofrs/flock, the same "one OS process owns the file"
// guarantee the teacher's on-disk storage relies on, adapted here from a
// directory lock to a single lock file beside the database path. The default
// file used when Path is empty is opened without that lock.
func CreateDB(cfg Config) (*Database, error) {
	cfg = applyEnvOverrides(cfg)
	logger := cfg.resolvedLogger()

	if !cfg.Memory && cfg.Path != "" {
		fl := flock.New(cfg.Path + ".lock")
		locked, err := fl.TryLock()
		if err != nil {
			return nil, &DatabaseError{Op: "lock", Err: err}
		}
		if !locked {
			return nil, &DatabaseError{Op: "lock", Err: fmt.Errorf("database %q is already open in another process", cfg.Path)}
		}
		defer func() {
			// Released only on a failed CreateDB; a successful open keeps
			// the lock for Database.Close to release.
		}()
		db, err := createDBLocked(cfg, logger, fl)
		if err != nil {
			_ = fl.Unlock()
			return nil, err
		}
		return db, nil
	}

	return createDBLocked(cfg, logger, nil)
}

func createDBLocked(cfg Config, logger pterm.Logger, fileLock *flock.Flock) (*Database, error) {
	opts := driverapi.Options{
		Path:        cfg.Path,
		Memory:      cfg.Memory,
		Pragma:      cfg.SQLite.toPragmaOptions(),
		CacheSizeKB: cfg.SQLite.CacheSizeKB,
		Logger:      logger,
	}

	var drv driverapi.Driver
	var err error
	if cfg.Driver == DriverCooperative {
		drv, err = driverapi.OpenCooperative(opts)
	} else {
		drv, err = driverapi.OpenBlocking(opts)
	}
	if err != nil {
		return nil, wrapDBError("open", err)
	}

	db := &Database{
		driver:      drv,
		registry:    registry.New(deprecationAdapter{logger: logger}),
		migrator:    migrator.New(drv.DB(), logger),
		plugins:     plugin.New(cfg.PluginPolicy, logger),
		logger:      logger,
		fileLock:    fileLock,
		collections: make(map[string]*Collection),
	}

	if cfg.WatchExternalWrites && !cfg.Memory && cfg.Path != "" {
		if err := db.startWatcher(cfg.Path); err != nil {
			logger.Warn("skibbadb: failed to start external-write watcher", logger.Args("err", err))
		}
	}

	_ = db.plugins.ExecuteHook(context.Background(), "onDatabaseInit", &plugin.Hook{})
	return db, nil
}

func (db *Database) startWatcher(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return err
	}
	db.watcher = w
	db.watchCh = make(chan string, 16)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case db.watchCh <- ev.Name:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// WatchExternalWrites returns a channel that receives the path of each
// fsnotify event on the database file, whichever process caused it. It is
// populated only when Config.WatchExternalWrites was set on a database
// opened with an explicit Path, and is closed when the database closes;
// otherwise it is nil.
func (db *Database) WatchExternalWrites() <-chan string {
	return db.watchCh
}

// Collection creates or fetches the named collection, registering it with
// opts on first call and kicking off lazy initialization (constraint
// install, migration plan + apply, seed). Subsequent calls for the same
// name return the same handle; opts is only consulted the first time.
func (db *Database) Collection(name string, validator Validator, opts CollectionOptions) (*Collection, error) {
	db.mu.Lock()
	if existing, ok := db.collections[name]; ok {
		db.mu.Unlock()
		return existing, nil
	}
	db.mu.Unlock()

	desc, err := db.registry.Register(name, validator, registry.RegisterOptions{
		PrimaryKey:        opts.PrimaryKey,
		Version:           opts.Version,
		ConstrainedFields: opts.ConstrainedFields,
		LegacyConstraints: opts.LegacyConstraints,
		Indexes:           opts.Indexes,
		CompositeUniques:  opts.CompositeUniques,
		Upgrades:          opts.Upgrades,
		Seed:              adaptSeed(opts.Seed),
	})
	if err != nil {
		var dup *registry.DuplicateCollectionError
		if isDuplicateCollection(err, &dup) {
			db.mu.Lock()
			existing := db.collections[name]
			db.mu.Unlock()
			if existing != nil {
				return existing, nil
			}
		}
		return nil, wrapDBError("register collection", err)
	}

	col := newCollection(db, desc)

	db.mu.Lock()
	db.collections[name] = col
	db.mu.Unlock()

	_ = db.plugins.ExecuteHook(context.Background(), "onCollectionCreate", &plugin.Hook{Collection: name})

	go col.initialize()

	return col, nil
}

// RegisterPlugin adds p to the database's lifecycle hook manager, in
// registration order (§4.9). Fails if a plugin with the same name is already
// registered.
func (db *Database) RegisterPlugin(p *Plugin) error {
	if err := db.plugins.Register(p); err != nil {
		return wrapDBError("register plugin", err)
	}
	return nil
}

// UnregisterPlugin detaches a plugin by name; a no-op if it isn't registered.
func (db *Database) UnregisterPlugin(name string) {
	db.plugins.Unregister(name)
}

func isDuplicateCollection(err error, target **registry.DuplicateCollectionError) bool {
	if d, ok := err.(*registry.DuplicateCollectionError); ok {
		*target = d
		return true
	}
	return false
}

func adaptSeed(seed func(ctx *UpgradeContext) error) func(ctx any) error {
	if seed == nil {
		return nil
	}
	return func(ctx any) error {
		return seed(ctx.(*UpgradeContext))
	}
}

// Transaction runs fn within a single re-entrant transaction on the
// database's driver (§4.8).
func (db *Database) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return wrapDBError("transaction", db.driver.Transaction(ctx, func(ctx context.Context, _ txn.Conn) error {
		return fn(ctx)
	}))
}

// Query runs a raw read statement, bypassing the query builder.
func (db *Database) Query(ctx context.Context, sqlText string, args ...any) (*driverapi.Rows, error) {
	rows, err := db.driver.Query(ctx, sqlText, args...)
	return rows, wrapDBError("query", err)
}

// Exec runs a raw write statement, bypassing the query builder.
func (db *Database) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	res, err := db.driver.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, wrapDBError("exec", err)
	}
	if res == nil {
		return 0, nil
	}
	n, err := res.RowsAffected()
	return n, wrapDBError("exec", err)
}

// Close tears down the database: fires onDatabaseClose, closes the driver,
// stops the external-write watcher, clears the registry, and releases the
// single-process file lock. Idempotent.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	_ = db.plugins.ExecuteHook(context.Background(), "onDatabaseClose", &plugin.Hook{})

	if db.watcher != nil {
		_ = db.watcher.Close()
		close(db.watchCh)
	}

	err := db.driver.Close()
	db.registry.Clear()

	if db.fileLock != nil {
		_ = db.fileLock.Unlock()
	}

	return wrapDBError("close", err)
}

// installAndMigrate runs the constraint installer and migrator plan+apply
// for desc, in that order, matching §4.10's "constraint install → migrator
// plan + apply → seed" pipeline.
func (db *Database) installAndMigrate(ctx context.Context, desc *registry.CollectionDescriptor) error {
	plan, err := constraints.BuildPlan(desc)
	if err != nil {
		return err
	}
	if err := constraints.Install(ctx, sqlExecAdapter{db.driver}, plan); err != nil {
		return err
	}
	_, err = db.migrator.Initialize(ctx, desc)
	return err
}

type sqlExecAdapter struct{ d driverapi.Driver }

func (a sqlExecAdapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return a.d.Exec(ctx, query, args...)
}
