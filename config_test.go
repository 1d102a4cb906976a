package zarrutils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.Format)
	assert.Equal(t, DefaultUnits, cfg.DefaultUnits)
	assert.True(t, cfg.Store.UseSSL)

	f, err := cfg.ZarrFormat()
	require.NoError(t, err)
	assert.Equal(t, FormatAuto, f)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zarr-utils.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
format: "3"
require_consolidated: true
default_units: nm
log_level: debug
store:
  region: eu-west-1
  endpoint: localhost:9000
  use_ssl: false
  cache_size: 64
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "3", cfg.Format)
	assert.True(t, cfg.RequireConsolidated)
	assert.Equal(t, "nm", cfg.DefaultUnits)
	assert.Equal(t, StoreOptions{
		Region:    "eu-west-1",
		Endpoint:  "localhost:9000",
		CacheSize: 64,
	}, cfg.StoreOptions())

	f, err := cfg.ZarrFormat()
	require.NoError(t, err)
	assert.Equal(t, FormatV3, f)

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv(EnvPrefix+"DEFAULT_UNITS", "um")
		t.Setenv(EnvPrefix+"USE_SSL", "true")
		t.Setenv(EnvPrefix+"CACHE_SIZE", "8")
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "um", cfg.DefaultUnits)
		assert.True(t, cfg.Store.UseSSL)
		assert.Equal(t, 8, cfg.Store.CacheSize)
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv(EnvPrefix+"FORMAT", "2")
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		cfg.AddFlags(fs)
		require.NoError(t, fs.Parse([]string{"--format", "auto", "--anonymous"}))
		assert.Equal(t, "auto", cfg.Format)
		assert.True(t, cfg.Store.Anonymous)
		assert.Equal(t, "nm", cfg.DefaultUnits)
	})

	t.Run("bad values", func(t *testing.T) {
		t.Setenv(EnvPrefix+"CACHE_SIZE", "lots")
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAWSRegionFallback(t *testing.T) {
	t.Setenv(EnvPrefix+"REGION", "")
	t.Setenv("AWS_REGION", "us-east-2")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "us-east-2", cfg.Store.Region)
}

func TestConfigLogger(t *testing.T) {
	cfg := DefaultConfig()
	buf := &bytes.Buffer{}
	log, err := cfg.NewLogger(buf)
	require.NoError(t, err)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	cfg.LogLevel = "loud"
	_, err = cfg.NewLogger(buf)
	assert.Error(t, err)
}
