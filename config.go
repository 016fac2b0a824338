package skibbadb

import (
	"strings"

	"github.com/spf13/viper"
)

// newEnvViper builds the viper instance used to read process-environment
// overrides for CreateDB, the same SetEnvPrefix/AutomaticEnv/BindEnv shape
// as the teacher's internal/config singleton, scaled down to the handful of
// settings §2's ambient "Configuration" note calls out: SKIBBADB_CACHE_SIZE_KB
// and SKIBBADB_MIGRATE (the latter read directly by internal/migrator; it's
// bound here too so it shows up alongside the rest in one place).
func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SKIBBADB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("cache_size_kb", "SKIBBADB_CACHE_SIZE_KB")
	_ = v.BindEnv("migrate", "SKIBBADB_MIGRATE")
	return v
}

// applyEnvOverrides merges environment variables into cfg, env taking
// precedence over whatever the caller left unset. CacheSizeKB's zero value
// already means "auto-tune" (§4.1), so an explicit 0 from the caller and an
// unset field are indistinguishable — both yield to SKIBBADB_CACHE_SIZE_KB
// when it's present.
func applyEnvOverrides(cfg Config) Config {
	v := newEnvViper()
	if cfg.SQLite.CacheSizeKB == 0 {
		if n := v.GetInt("cache_size_kb"); n != 0 {
			cfg.SQLite.CacheSizeKB = n
		}
	}
	return cfg
}
