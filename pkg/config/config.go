package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/pagination"
)

// backends
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendRedis  = "redis"
)

const (
	DefaultConfigPath = "./config.yaml"

	defaultBackend     = BackendPebble
	defaultPebblePath  = "./.idtable"
	defaultCacheSize   = 64 << 20 // 64 MiB
	defaultUsersTable  = "AspNetUsers"
	defaultRolesTable  = "AspNetRoles"
	defaultIndexTable  = "AspNetIndex"
	defaultRedisPrefix = "idt:"
	defaultLogLevel    = "info"
)

// LoadConfigFile reads and parses a config file. A missing file yields an
// error satisfying errors.Is(err, fs.ErrNotExist).
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s: %w", path, err)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet && flagPath != "" {
		return flagPath
	}
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p
	}
	if flagPath != "" {
		return flagPath
	}
	return DefaultConfigPath
}

// Load reads the file at path, then layers environment overrides on top.
// Only an explicitly chosen file must exist.
func Load(path string, explicit bool) (*Config, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			cfg = &Config{}
		} else {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in every value left unset.
func (c *Config) ApplyDefaults() {
	c.Store.applyDefaults()
	if c.SourceStore != nil {
		c.SourceStore.applyDefaults()
	}
	if c.Keys.Scheme == "" {
		c.Keys.Scheme = keys.SchemeSHA256
	}
	if c.Migration.Kind == "" {
		c.Migration.Kind = migrations.KindUsers
	}
	if c.Migration.PageSize == 0 {
		c.Migration.PageSize = pagination.DefaultPageSize
	}
	if c.Migration.Parallelism == 0 {
		c.Migration.Parallelism = pagination.DefaultParallelism
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (s *StoreConfig) applyDefaults() {
	if s.Backend == "" {
		s.Backend = defaultBackend
	}
	if s.Backend == BackendPebble {
		if s.Pebble.Path == "" {
			s.Pebble.Path = defaultPebblePath
		}
		if s.Pebble.CacheSize == 0 {
			s.Pebble.CacheSize = defaultCacheSize
		}
	}
	if s.Backend == BackendRedis && s.Redis.Namespace == "" {
		s.Redis.Namespace = defaultRedisPrefix
	}
	if s.Tables.Users == "" {
		s.Tables.Users = defaultUsersTable
	}
	if s.Tables.Roles == "" {
		s.Tables.Roles = defaultRolesTable
	}
	if s.Tables.Index == "" {
		s.Tables.Index = defaultIndexTable
	}
}

// Source returns the store records are read from: SourceStore when set,
// otherwise Store itself.
func (c *Config) Source() StoreConfig {
	if c.SourceStore != nil {
		return *c.SourceStore
	}
	return c.Store
}

// InPlace reports whether the migration rewrites the store it reads.
func (c *Config) InPlace() bool { return c.SourceStore == nil }

// Scheme builds the configured key scheme.
func (c *Config) Scheme() (keys.Scheme, error) {
	var opts []keys.Option
	if c.Keys.Version != 0 {
		opts = append(opts, keys.WithKeyVersion(c.Keys.Version))
	}
	return keys.New(c.Keys.Scheme, opts...)
}
