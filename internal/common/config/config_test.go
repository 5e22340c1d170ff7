package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
scanner:
  store_dir: /tmp/out
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/out", cfg.Scanner.StoreDir)
	assert.Equal(t, "errors", cfg.Scanner.ErrorsDir)
	assert.Equal(t, ConcurrencyAuto, cfg.Scanner.Concurrency)
	assert.Equal(t, 2, cfg.Scanner.MaxRetries)
	assert.Equal(t, 25*time.Second, cfg.Scanner.SoftTimeout.ToDuration())
	assert.Equal(t, 65*time.Second, cfg.Scanner.HardTimeout.ToDuration())
	assert.Equal(t, "basic", cfg.Extraction.AdUnitDetail)
	assert.True(t, cfg.Log.Console.Enabled)
	assert.True(t, cfg.Preflight.SkipDNSFailedOrDefault())
	assert.False(t, cfg.Preflight.SkipSSLFailedOrDefault())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
scanner:
  store_dirr: typo
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store_dirr")
}

func TestLoadRejectsInvertedTimeouts(t *testing.T) {
	path := writeConfig(t, `
scanner:
  soft_timeout: 60s
  hard_timeout: 30s
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hard_timeout")
}

func TestLoadExtendedDurations(t *testing.T) {
	path := writeConfig(t, `
chrome:
  restart:
    after_time: 1d
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Chrome.Restart.AfterTime.ToDuration())
}

func TestResolveConcurrency(t *testing.T) {
	n, err := ResolveConcurrency("auto", 8)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	n, err = ResolveConcurrency("AUTO", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = ResolveConcurrency("12", 8)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = ResolveConcurrency("0", 8)
	assert.Error(t, err)

	_, err = ResolveConcurrency("lots", 8)
	assert.Error(t, err)
}

func TestValidateDetailModes(t *testing.T) {
	cfg := Default()
	cfg.Extraction.AdUnitDetail = "verbose"
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Extraction.ModuleDetail = "detailed"
	assert.Error(t, Validate(cfg))
}
