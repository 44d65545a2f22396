package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "uploads", cfg.Storage.UploadDir)
	assert.Equal(t, int64(100<<20), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, 50, cfg.Limits.DefaultPageSize)
	assert.Equal(t, 100, cfg.Limits.MaxPageSize)
	assert.Equal(t, 100, cfg.Limits.DefaultSearchLimit)
	assert.Equal(t, 500, cfg.Limits.MaxSearchLimit)
	assert.Equal(t, 50, cfg.Daemon.MaxConcurrency)

	opts, err := cfg.CSV.ReaderOptions()
	require.NoError(t, err)
	assert.Equal(t, ',', opts.Comma)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CSVBROWSE_SERVER_ADDR", ":8080")
	t.Setenv("CSVBROWSE_STORAGE_UPLOAD_DIR", "/var/lib/csvbrowse")
	t.Setenv("CSVBROWSE_STORAGE_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("CSVBROWSE_LIMITS_MAX_PAGE_SIZE", "250")
	t.Setenv("CSVBROWSE_CACHE_TTL", "15m")
	t.Setenv("CSVBROWSE_CSV_LAZY_QUOTES", "true")
	t.Setenv("CSVBROWSE_DAEMON_IDLE_TIMEOUT", "1m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/csvbrowse", cfg.Storage.UploadDir)
	assert.Equal(t, int64(1<<20), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, 250, cfg.Limits.MaxPageSize)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.CSV.LazyQuotes)
	assert.Equal(t, time.Minute, cfg.Daemon.IdleTimeout)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "csvbrowse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "127.0.0.1:9000"
limits:
  default_page_size: 25
csv:
  comma: ";"
cache:
  capacity: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.Limits.DefaultPageSize)
	assert.Equal(t, uint64(10), cfg.Cache.Capacity)
	assert.Equal(t, 100, cfg.Limits.MaxPageSize, "unset keys keep their defaults")

	opts, err := cfg.CSV.ReaderOptions()
	require.NoError(t, err)
	assert.Equal(t, ';', opts.Comma)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty upload dir", func(c *Config) { c.Storage.UploadDir = "" }},
		{"zero upload limit", func(c *Config) { c.Storage.MaxUploadBytes = 0 }},
		{"default above max page size", func(c *Config) { c.Limits.DefaultPageSize = 500 }},
		{"zero search limit", func(c *Config) { c.Limits.DefaultSearchLimit = 0 }},
		{"multi-char comma", func(c *Config) { c.CSV.Comma = "||" }},
		{"quote comma", func(c *Config) { c.CSV.Comma = `"` }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
