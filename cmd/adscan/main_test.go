package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adscan/adscan/internal/common/config"
)

func TestApplyFlagOverridesHeadless(t *testing.T) {
	// A config file turning headless off must survive a run with no
	// headless flags; the flag default is not an override.
	cfg := config.Default()
	cfg.Chrome.Headless = false

	f, fs, err := parseScanFlags(nil)
	require.NoError(t, err)
	applyFlagOverrides(cfg, f, fs)
	assert.False(t, cfg.Chrome.Headless)

	f, fs, err = parseScanFlags([]string{"--headless=true"})
	require.NoError(t, err)
	applyFlagOverrides(cfg, f, fs)
	assert.True(t, cfg.Chrome.Headless)

	cfg.Chrome.Headless = true
	f, fs, err = parseScanFlags([]string{"--no-headless"})
	require.NoError(t, err)
	applyFlagOverrides(cfg, f, fs)
	assert.False(t, cfg.Chrome.Headless)
}

func TestApplyFlagOverridesPreflightSkips(t *testing.T) {
	cfg := config.Default()
	cfg.Preflight.SkipDNSFailed = nil

	f, fs, err := parseScanFlags([]string{"--skipDNSFailed=false"})
	require.NoError(t, err)
	applyFlagOverrides(cfg, f, fs)
	require.NotNil(t, cfg.Preflight.SkipDNSFailed)
	assert.False(t, *cfg.Preflight.SkipDNSFailed)

	// Untouched flag leaves the config pointer alone.
	assert.Nil(t, cfg.Preflight.SkipSSLFailed)
}
