package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lithammer/dedent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(dedent.Dedent(content)), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"RENTALS_API_URL", "RENTALS_TIMEOUT", "RENTALS_REFRESH_MARGIN", "RENTALS_STORE",
		"RENTALS_DB_PATH", "RENTALS_TOKEN_KEY", "RENTALS_REDIS_ADDR", "RENTALS_REDIS_PASSWORD",
		"RENTALS_NAMESPACE", "RENTALS_CACHE_TTL", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
		api_url: https://api.example.com
		timeout: 5s
		refresh_margin: 1m
		store: Redis
		redis_addr: localhost:6379
		token_key: secret
		log_level: DEBUG
	`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.APIURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, time.Minute, cfg.RefreshMargin)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "default", cfg.Namespace)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
		api_url: https://api.example.com
		store: memory
	`)
	t.Setenv("RENTALS_API_URL", "http://localhost:8089")
	t.Setenv("RENTALS_TIMEOUT", "2s")
	t.Setenv("RENTALS_CACHE_TTL", "0s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8089", cfg.APIURL)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, time.Duration(0), cfg.CacheTTL)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RENTALS_API_URL", "http://localhost:8089")
	t.Setenv("RENTALS_TOKEN_KEY", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{"missing url", "store: memory\n", nil, "api_url is required"},
		{"bad url", "api_url: ftp://x\nstore: memory\n", nil, "api_url must be an http(s) URL"},
		{"sqlite without key", "api_url: http://x\nstore: sqlite\n", nil, "token_key is required for the sqlite store"},
		{"redis without addr", "api_url: http://x\nstore: redis\ntoken_key: k\n", nil, "redis_addr is required"},
		{"unknown store", "api_url: http://x\nstore: etcd\n", nil, `unsupported store "etcd"`},
		{"bad level", "api_url: http://x\nstore: memory\nlog_level: loud\n", nil, `unsupported log_level "loud"`},
		{"bad duration", "api_url: http://x\nstore: memory\n", map[string]string{"RENTALS_TIMEOUT": "soon"}, "RENTALS_TIMEOUT"},
		{"bad yaml", "api_url: [\n", nil, "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfigFailed)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
