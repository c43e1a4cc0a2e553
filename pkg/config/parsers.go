package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const envPrefix = "IDTABLE_"

// ApplyEnv overrides cfg with every IDTABLE_* variable that is set. A
// value that does not parse is an error rather than silently ignored.
func ApplyEnv(cfg *Config) error {
	envs := map[string]string{}
	for _, name := range envNames {
		if v, ok := os.LookupEnv(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			envs[name] = strings.TrimSpace(v)
		}
	}
	if len(envs) == 0 {
		return nil
	}

	var errs []error
	str := func(name string, dst *string) {
		if v, ok := envs[name]; ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := envs[name]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := envs[name]; ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes":
				*dst = true
			case "0", "false", "no":
				*dst = false
			default:
				errs = append(errs, fmt.Errorf("%s%s: invalid boolean %q", envPrefix, name, v))
			}
		}
	}

	str("STORE_BACKEND", &cfg.Store.Backend)
	str("STORE_PEBBLE_PATH", &cfg.Store.Pebble.Path)
	if v, ok := envs["STORE_PEBBLE_CACHE_SIZE"]; ok {
		size, err := parseSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSTORE_PEBBLE_CACHE_SIZE: %w", envPrefix, err))
		} else {
			cfg.Store.Pebble.CacheSize = size
		}
	}
	str("STORE_REDIS_URL", &cfg.Store.Redis.URL)
	str("STORE_REDIS_ADDR", &cfg.Store.Redis.Addr)
	str("STORE_REDIS_PASSWORD", &cfg.Store.Redis.Password)
	integer("STORE_REDIS_DB", &cfg.Store.Redis.DB)
	str("STORE_TABLES_PREFIX", &cfg.Store.Tables.Prefix)

	// any source store variable implies a separate source store
	if hasAny(envs, "SOURCE_STORE_") {
		if cfg.SourceStore == nil {
			cfg.SourceStore = &StoreConfig{}
		}
		str("SOURCE_STORE_BACKEND", &cfg.SourceStore.Backend)
		str("SOURCE_STORE_PEBBLE_PATH", &cfg.SourceStore.Pebble.Path)
		str("SOURCE_STORE_REDIS_URL", &cfg.SourceStore.Redis.URL)
		str("SOURCE_STORE_REDIS_ADDR", &cfg.SourceStore.Redis.Addr)
		str("SOURCE_STORE_TABLES_PREFIX", &cfg.SourceStore.Tables.Prefix)
	}

	str("KEYS_SCHEME", &cfg.Keys.Scheme)
	if v, ok := envs["KEYS_VERSION"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sKEYS_VERSION: %w", envPrefix, err))
		} else {
			cfg.Keys.Version = f
		}
	}

	str("MIGRATION_KIND", &cfg.Migration.Kind)
	integer("MIGRATION_PAGE_SIZE", &cfg.Migration.PageSize)
	integer("MIGRATION_PARALLELISM", &cfg.Migration.Parallelism)
	integer("MIGRATION_START_PAGE", &cfg.Migration.StartPage)
	integer("MIGRATION_FINISH_PAGE", &cfg.Migration.FinishPage)
	boolean("MIGRATION_DELETE_STALE", &cfg.Migration.DeleteStale)
	if v, ok := envs["MIGRATION_RATE_LIMIT"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMIGRATION_RATE_LIMIT: %w", envPrefix, err))
		} else {
			cfg.Migration.RateLimit = f
		}
	}
	str("MIGRATION_SCHEDULE", &cfg.Migration.Schedule)
	if v, ok := envs["MIGRATION_TIMEOUT"]; ok {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMIGRATION_TIMEOUT: %w", envPrefix, err))
		} else {
			cfg.Migration.Timeout = d
		}
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("ADMIN_ADDRESS", &cfg.Admin.Address)

	return errors.Join(errs...)
}

var envNames = []string{
	"STORE_BACKEND",
	"STORE_PEBBLE_PATH",
	"STORE_PEBBLE_CACHE_SIZE",
	"STORE_REDIS_URL",
	"STORE_REDIS_ADDR",
	"STORE_REDIS_PASSWORD",
	"STORE_REDIS_DB",
	"STORE_TABLES_PREFIX",

	"SOURCE_STORE_BACKEND",
	"SOURCE_STORE_PEBBLE_PATH",
	"SOURCE_STORE_REDIS_URL",
	"SOURCE_STORE_REDIS_ADDR",
	"SOURCE_STORE_TABLES_PREFIX",

	"KEYS_SCHEME",
	"KEYS_VERSION",

	"MIGRATION_KIND",
	"MIGRATION_PAGE_SIZE",
	"MIGRATION_PARALLELISM",
	"MIGRATION_START_PAGE",
	"MIGRATION_FINISH_PAGE",
	"MIGRATION_DELETE_STALE",
	"MIGRATION_RATE_LIMIT",
	"MIGRATION_SCHEDULE",
	"MIGRATION_TIMEOUT",

	"LOG_LEVEL",
	"ADMIN_ADDRESS",
}

func hasAny(envs map[string]string, prefix string) bool {
	for k := range envs {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}
