// Package config loads NexusChat settings.
// Sources, highest precedence first:
//  1. command-line flags (applied by the caller)
//  2. NEXUS_* environment variables
//  3. the YAML file given by --config, or ~/.config/nexuschat/config.yaml
//  4. DefaultConfig
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Persistence backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// PersistenceConfig selects where the session state is mirrored
type PersistenceConfig struct {
	Backend    string        `yaml:"backend"`
	SQLitePath string        `yaml:"sqlite_path"`
	RedisAddr  string        `yaml:"redis_addr"`
	RedisDB    int           `yaml:"redis_db"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// Config holds application configuration
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // 0 = no client timeout
	StorageKey     string        `yaml:"storage_key"`
	SessionID      string        `yaml:"session_id"`

	Persistence PersistenceConfig `yaml:"persistence"`

	// RevisionGuard discards history fetches that raced with local changes
	RevisionGuard bool `yaml:"revision_guard"`

	LogDir   string `yaml:"log_dir"`
	Debug    bool   `yaml:"debug"`
	FeedAddr string `yaml:"feed_addr"` // empty = no websocket feed
	MockAddr string `yaml:"mock_addr"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:8000",
		StorageKey: "chat-storage",
		Persistence: PersistenceConfig{
			Backend:    BackendSQLite,
			SQLitePath: "nexuschat.db",
			RedisAddr:  "localhost:6379",
			SessionTTL: 24 * time.Hour,
		},
		RevisionGuard: true,
		LogDir:        "logs",
		MockAddr:      ":8000",
	}
}

// DefaultPath returns ~/.config/nexuschat/config.yaml, or "" if there is no home directory
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nexuschat", "config.yaml")
}

// Load reads the config file (a missing file means defaults) and applies
// environment overrides
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultPath()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
			}
		case explicit || !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies NEXUS_* environment variables
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("NEXUS_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("NEXUS_STATE_BACKEND"); v != "" {
		cfg.Persistence.Backend = v
	}
	if v := os.Getenv("NEXUS_SQLITE_PATH"); v != "" {
		cfg.Persistence.SQLitePath = v
	}
	if v := os.Getenv("NEXUS_REDIS_ADDR"); v != "" {
		cfg.Persistence.RedisAddr = v
	}
	if v := os.Getenv("NEXUS_SESSION_ID"); v != "" {
		cfg.SessionID = v
	}
	if v := os.Getenv("NEXUS_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("NEXUS_FEED_ADDR"); v != "" {
		cfg.FeedAddr = v
	}
	if v := os.Getenv("NEXUS_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid NEXUS_DEBUG %q: %w", v, err)
		}
		cfg.Debug = debug
	}
	return nil
}

// Validate checks the settings needed to start the client
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative")
	}
	if c.Persistence.SessionTTL < 0 {
		return fmt.Errorf("persistence.session_ttl cannot be negative")
	}
	switch c.Persistence.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Persistence.SQLitePath == "" {
			return fmt.Errorf("persistence.sqlite_path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Persistence.RedisAddr == "" {
			return fmt.Errorf("persistence.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown persistence backend: %s (memory|sqlite|redis)", c.Persistence.Backend)
	}
	return nil
}
