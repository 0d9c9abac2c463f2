package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.RevisionGuard)
	require.Equal(t, "chat-storage", cfg.StorageKey)
	require.Zero(t, cfg.RequestTimeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
base_url: http://rag.internal:9000
request_timeout: 30s
session_id: abc
revision_guard: false
persistence:
  backend: redis
  redis_addr: redis:6379
  redis_db: 2
  session_ttl: 2h
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://rag.internal:9000", cfg.BaseURL)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, "abc", cfg.SessionID)
	require.False(t, cfg.RevisionGuard)
	require.Equal(t, BackendRedis, cfg.Persistence.Backend)
	require.Equal(t, 2, cfg.Persistence.RedisDB)
	require.Equal(t, 2*time.Hour, cfg.Persistence.SessionTTL)
	// untouched keys keep their defaults
	require.Equal(t, "chat-storage", cfg.StorageKey)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "base_url: http://from-file\n")
	t.Setenv("NEXUS_BASE_URL", "http://from-env")
	t.Setenv("NEXUS_STATE_BACKEND", "memory")
	t.Setenv("NEXUS_SESSION_ID", "env-session")
	t.Setenv("NEXUS_FEED_ADDR", ":9090")
	t.Setenv("NEXUS_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://from-env", cfg.BaseURL)
	require.Equal(t, BackendMemory, cfg.Persistence.Backend)
	require.Equal(t, "env-session", cfg.SessionID)
	require.Equal(t, ":9090", cfg.FeedAddr)
	require.True(t, cfg.Debug)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicit path must exist")

	_, err = Load(writeConfig(t, "base_url: [unclosed\n"))
	require.Error(t, err)

	t.Setenv("NEXUS_DEBUG", "maybe")
	_, err = Load(writeConfig(t, ""))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Persistence.Backend = "etcd"
	require.ErrorContains(t, cfg.Validate(), "unknown persistence backend")

	cfg = DefaultConfig()
	cfg.BaseURL = "  "
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Persistence.Backend = BackendSQLite
	cfg.Persistence.SQLitePath = ""
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RequestTimeout = -time.Second
	require.Error(t, cfg.Validate())
}
