package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-bridge/workers"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("BRIDGE_CLAUDE_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8787", cfg.Listen)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 1, cfg.Consensus.MaxFaulty)
	assert.Equal(t, time.Hour, cfg.Memory.SessionTTL)
	assert.Equal(t, BackendRistretto, cfg.Memory.SessionBackend)
	assert.Equal(t, BackendChromem, cfg.Memory.SemanticBackend)
	assert.Equal(t, BackendSQLite, cfg.Memory.GraphBackend)
	assert.Equal(t, workers.DefaultRoles, cfg.Workers.Roles)
	assert.False(t, cfg.Claude.Active())
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
consensus:
  max_faulty: 2
memory:
  session_backend: memory
  session_ttl: 90s
workers:
  roles: [Research, Legal]
  per_role: 3
claude:
  enabled: true
`), 0o600))

	t.Setenv("BRIDGE_MEMORY_GRAPH_BACKEND", "memory")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 2, cfg.Consensus.MaxFaulty)
	assert.Equal(t, BackendMemory, cfg.Memory.SessionBackend)
	assert.Equal(t, 90*time.Second, cfg.Memory.SessionTTL)
	assert.Equal(t, BackendMemory, cfg.Memory.GraphBackend)
	assert.Equal(t, []string{"Research", "Legal"}, cfg.Workers.Roles)
	assert.Equal(t, 3, cfg.Workers.PerRole)
	assert.Equal(t, "sk-test", cfg.Claude.APIKey)
	assert.True(t, cfg.Claude.Active())
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("BRIDGE_MEMORY_SEMANTIC_BACKEND", "pinecone")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory.semantic_backend")

	t.Setenv("BRIDGE_MEMORY_SEMANTIC_BACKEND", "")
	t.Setenv("BRIDGE_LOG_LEVEL", "loud")
	_, err = Load("")
	require.Error(t, err)
}
