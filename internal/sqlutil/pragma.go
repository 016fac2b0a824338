// Package sqlutil builds the PRAGMA statements the driver applies at open
// time, including the cache-size auto-tune formula from §4.1. Kept separate
// from internal/driverapi so the formula is unit-testable without a live
// database.
package sqlutil

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	minCacheKB = 16 * 1024  // 16 MiB
	maxCacheKB = 256 * 1024 // 256 MiB

	lowMemThresholdKB = 160 * 1024 // 160 MiB
)

// PragmaOptions mirrors the sqlite config surface from §6.
type PragmaOptions struct {
	JournalMode   string // default "WAL"
	Synchronous   string // default "NORMAL"
	BusyTimeoutMs int    // default 5000
	CacheSizeKB   int    // 0 means auto-tune
	TempStore     string // default "MEMORY"
	LockingMode   string // default "NORMAL"
	AutoVacuum    string // default "NONE"
	WALCheckpoint int    // default 1000
}

// WithDefaults fills zero-valued fields with §6's documented defaults.
func (o PragmaOptions) WithDefaults() PragmaOptions {
	if o.JournalMode == "" {
		o.JournalMode = "WAL"
	}
	if o.Synchronous == "" {
		o.Synchronous = "NORMAL"
	}
	if o.BusyTimeoutMs == 0 {
		o.BusyTimeoutMs = 5000
	}
	if o.TempStore == "" {
		o.TempStore = "MEMORY"
	}
	if o.LockingMode == "" {
		o.LockingMode = "NORMAL"
	}
	if o.AutoVacuum == "" {
		o.AutoVacuum = "NONE"
	}
	if o.WALCheckpoint == 0 {
		o.WALCheckpoint = 1000
	}
	return o
}

// CacheSizeKB implements the §4.1 auto-tune formula exactly: base = 10% of
// free memory in KiB, scaled by the observed query count bucket, clamped to
// [16 MiB, 256 MiB]. If free memory can't be probed or is under the 160 MiB
// floor, the minimum is used and a single warning is logged.
func CacheSizeKB(queryCount int64, logger pterm.Logger) int {
	freeKB, err := freeMemoryKB()
	if err != nil || freeKB < lowMemThresholdKB {
		logger.Warn("skibbadb: cache auto-tune falling back to minimum cache size", logger.Args("freeKB", freeKB, "err", err))
		return minCacheKB
	}

	base := freeKB / 10
	scaled := scaleByQueryCount(base, queryCount)
	return clamp(scaled, minCacheKB, maxCacheKB)
}

func scaleByQueryCount(base, queryCount int64) int {
	var factor float64
	switch {
	case queryCount < 100:
		factor = 0.5
	case queryCount < 1000:
		factor = 1.0
	default:
		factor = 1.5
	}
	return int(float64(base) * factor)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func freeMemoryKB() (int64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("sqlutil: probe free memory: %w", err)
	}
	return int64(v.Available / 1024), nil
}

// PragmaStatements renders the ordered list of PRAGMA statements to run on a
// fresh connection. cacheSizeKB is the already-resolved value (from
// CacheSizeKB or an explicit CacheSizeKB override); the SQLite cache_size
// pragma takes a negative value to mean "KiB" rather than "pages".
func PragmaStatements(opts PragmaOptions, cacheSizeKB int) []string {
	opts = opts.WithDefaults()
	return []string{
		fmt.Sprintf("PRAGMA journal_mode = %s", opts.JournalMode),
		fmt.Sprintf("PRAGMA synchronous = %s", opts.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeoutMs),
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheSizeKB),
		fmt.Sprintf("PRAGMA temp_store = %s", opts.TempStore),
		fmt.Sprintf("PRAGMA locking_mode = %s", opts.LockingMode),
		fmt.Sprintf("PRAGMA auto_vacuum = %s", opts.AutoVacuum),
		fmt.Sprintf("PRAGMA wal_autocheckpoint = %d", opts.WALCheckpoint),
		"PRAGMA foreign_keys = ON",
	}
}

// Apply runs PragmaStatements in order against exec.
func Apply(ctx context.Context, exec Execer, opts PragmaOptions, cacheSizeKB int) error {
	for _, stmt := range PragmaStatements(opts, cacheSizeKB) {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlutil: apply %q: %w", stmt, err)
		}
	}
	return nil
}

// Execer returns this package's Result rather than sql.Result, so *sql.DB
// and *sql.Conn satisfy it only through an adapter (driverapi's
// sqlExecAdapter wraps *sql.DB).
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (Result, error)
}

// Result mirrors sql.Result's method set.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
