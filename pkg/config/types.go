package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Store       StoreConfig     `yaml:"store"`
	SourceStore *StoreConfig    `yaml:"source_store"`
	Keys        KeysConfig      `yaml:"keys"`
	Migration   MigrationConfig `yaml:"migration"`
	Logging     LoggingConfig   `yaml:"logging"`
	Admin       AdminConfig     `yaml:"admin"`
}

// StoreConfig selects a table backend and names its tables.
type StoreConfig struct {
	Backend string       `yaml:"backend"` // memory | pebble | redis
	Pebble  PebbleConfig `yaml:"pebble"`
	Redis   RedisConfig  `yaml:"redis"`
	Tables  TablesConfig `yaml:"tables"`
}

type PebbleConfig struct {
	Path      string    `yaml:"path"`
	CacheSize SizeBytes `yaml:"cache_size"`
	NoSync    bool      `yaml:"no_sync"`
}

type RedisConfig struct {
	// URL takes precedence over Addr/Password/DB when set.
	URL       string `yaml:"url"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// TablesConfig holds the identity table names. Prefix is prepended to each.
type TablesConfig struct {
	Prefix string `yaml:"prefix"`
	Users  string `yaml:"users"`
	Roles  string `yaml:"roles"`
	Index  string `yaml:"index"`
}

func (t TablesConfig) UsersName() string { return t.Prefix + t.Users }
func (t TablesConfig) RolesName() string { return t.Prefix + t.Roles }
func (t TablesConfig) IndexName() string { return t.Prefix + t.Index }

// KeysConfig selects the key scheme records are migrated to.
type KeysConfig struct {
	Scheme string `yaml:"scheme"` // uri | sha1 | sha256
	// Version overrides the scheme's default KeyVersion when non-zero.
	Version float64 `yaml:"version"`
}

// MigrationConfig holds run parameters of the migrate command.
type MigrationConfig struct {
	Kind        string `yaml:"kind"`
	PageSize    int    `yaml:"page_size"`
	Parallelism int    `yaml:"parallelism"`
	StartPage   int    `yaml:"start_page"`
	FinishPage  int    `yaml:"finish_page"`
	DeleteStale bool   `yaml:"delete_stale"`
	// RateLimit caps records converted per second; 0 is unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	// Schedule is a cron expression; empty runs once.
	Schedule string `yaml:"schedule"`
	// Timeout bounds one run; zero is unbounded.
	Timeout Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AdminConfig enables the admin HTTP endpoints when Address is set.
type AdminConfig struct {
	Address string `yaml:"address"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
