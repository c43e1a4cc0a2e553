package config

import (
	"errors"
	"fmt"

	"github.com/adhocore/gronx"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/pagination"
)

// ErrInvalid marks configuration errors. They are not retryable.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate fails fast on values no run could succeed with. Call it after
// ApplyDefaults and before opening any store.
func (c *Config) Validate() error {
	if err := c.Store.validate("store"); err != nil {
		return err
	}
	if c.SourceStore != nil {
		if err := c.SourceStore.validate("source_store"); err != nil {
			return err
		}
	}

	if _, err := c.Scheme(); err != nil {
		return invalid("keys.scheme: %v", err)
	}
	if c.Keys.Version < 0 {
		return invalid("keys.version must not be negative")
	}

	m := c.Migration
	if _, err := migrations.Lookup(m.Kind, keys.NewPlain(), migrations.Options{}); err != nil {
		return invalid("migration.kind: %v", err)
	}
	if m.PageSize < 1 || m.PageSize > pagination.MaxPageSize {
		return invalid("migration.page_size %d outside 1..%d", m.PageSize, pagination.MaxPageSize)
	}
	if m.Parallelism < 1 {
		return invalid("migration.parallelism must be positive, got %d", m.Parallelism)
	}
	if m.StartPage < 0 || m.FinishPage < 0 {
		return invalid("migration page bounds must not be negative")
	}
	if m.FinishPage > 0 && m.FinishPage < m.StartPage {
		return invalid("migration.finish_page %d is before start_page %d", m.FinishPage, m.StartPage)
	}
	if m.RateLimit < 0 {
		return invalid("migration.rate_limit must not be negative")
	}
	if m.Schedule != "" && !gronx.IsValid(m.Schedule) {
		return invalid("migration.schedule: not a valid cron expression: %q", m.Schedule)
	}
	if m.DeleteStale && !c.InPlace() {
		logger.Warn("delete_stale_ignored", "reason", "source_store is set, stale rows are only deleted in place")
	}
	if _, ok := logger.LookupLevel(c.Logging.Level); !ok {
		return invalid("logging.level %q: want debug, info, warn or error", c.Logging.Level)
	}
	return nil
}

func (s StoreConfig) validate(section string) error {
	switch s.Backend {
	case BackendMemory:
	case BackendPebble:
		if s.Pebble.Path == "" {
			return invalid("%s.pebble.path is empty: set it in config or %sSTORE_PEBBLE_PATH", section, envPrefix)
		}
		if s.Pebble.CacheSize < 0 {
			return invalid("%s.pebble.cache_size must not be negative", section)
		}
	case BackendRedis:
		if s.Redis.URL == "" && s.Redis.Addr == "" {
			return invalid("%s.redis needs url or addr: set it in config or %sSTORE_REDIS_URL", section, envPrefix)
		}
	default:
		return invalid("%s.backend %q: want %s, %s or %s", section, s.Backend, BackendMemory, BackendPebble, BackendRedis)
	}
	for field, name := range map[string]string{"users": s.Tables.UsersName(), "roles": s.Tables.RolesName(), "index": s.Tables.IndexName()} {
		if name == "" {
			return invalid("%s.tables.%s is empty", section, field)
		}
	}
	return nil
}
