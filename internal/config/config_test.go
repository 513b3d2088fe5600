package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	sb, err := cfg.SandboxPolicy()
	require.NoError(t, err)
	assert.Equal(t, int64(256*units.MiB), sb.Memory)
	assert.Equal(t, int64(1_000_000_000), sb.NanoCPUs)
	assert.Equal(t, 30*time.Second, sb.Timeout)
	assert.Equal(t, 1<<20, cfg.OutputLimit())
	assert.Equal(t, int64(1<<20), cfg.UploadLimit())
	assert.Equal(t, defaultMaxConcurrent, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, time.Minute, cfg.Sandbox.ReapInterval)
	assert.Equal(t, 5*time.Minute, cfg.Sandbox.PullTimeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
logger:
  level: debug
  format: json
sandbox:
  memory: 128m
  cpus: 0.5
  timeout: 5s
  maxConcurrent: 3
languages:
  file: languages.yaml
  fallback: cpp
redis:
  addr: localhost:6379
rateLimit:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "cpp", cfg.Languages.Fallback)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Sandbox.MaxConcurrent)
	assert.False(t, cfg.RateLimit.Enabled)

	sb, err := cfg.SandboxPolicy()
	require.NoError(t, err)
	assert.Equal(t, int64(128*units.MiB), sb.Memory)
	assert.Equal(t, int64(500_000_000), sb.NanoCPUs)
	assert.Equal(t, 5*time.Second, sb.Timeout)
	assert.Equal(t, int64(100), sb.PidsLimit, "unset keys keep their defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RUNNER_ADDR", ":4000")
	t.Setenv("SANDBOX_MEMORY", "64m")
	t.Setenv("SANDBOX_TIMEOUT", "2s")
	t.Setenv("SANDBOX_MAX_CONCURRENT", "7")
	t.Setenv("DATABASE_URL", "postgres://localhost/aoc")

	cfg, err := Load(writeConfig(t, "server:\n  addr: 127.0.0.1:9000\n"))
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, "postgres://localhost/aoc", cfg.Database.URL)

	sb, err := cfg.SandboxPolicy()
	require.NoError(t, err)
	assert.Equal(t, int64(64*units.MiB), sb.Memory)
	assert.Equal(t, 2*time.Second, sb.Timeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"bad yaml":         "server: [",
		"zero concurrent":  "sandbox:\n  maxConcurrent: 0\n",
		"bad memory":       "sandbox:\n  memory: lots\n",
		"zero timeout":     "sandbox:\n  timeout: 0s\n",
		"bad body limit":   "server:\n  bodyLimit: huge\n",
		"bad rate":         "rateLimit:\n  enabled: true\n  rps: 0\n",
		"zero reap":        "sandbox:\n  reapInterval: 0s\n",
		"negative reap":    "sandbox:\n  reapInterval: -1m\n",
		"zero reap age":    "sandbox:\n  reapAge: 0s\n",
		"zero shutdown":    "server:\n  shutdownTimeout: 0s\n",
		"negative job ttl": "redis:\n  jobTTL: -1h\n",
		"zero pull":        "sandbox:\n  pullTimeout: 0s\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestBadEnvInt(t *testing.T) {
	t.Setenv("SANDBOX_MAX_CONCURRENT", "many")
	_, err := Load("")
	assert.Error(t, err)
}
