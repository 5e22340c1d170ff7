package preflight

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adscan/adscan/internal/common/configtypes"
	"github.com/adscan/adscan/pkg/types"
)

func boolPtr(b bool) *bool { return &b }

func testChecker(cfg configtypes.PreflightConfig) *Checker {
	cfg.DNSConcurrency = 4
	cfg.SSLConcurrency = 4
	return New(cfg, zap.NewNop())
}

func TestRunAllPass(t *testing.T) {
	c := testChecker(configtypes.PreflightConfig{CheckDNS: true, CheckSSL: true})
	c.lookup = func(ctx context.Context, host string) (bool, string) { return true, "" }
	c.dial = func(ctx context.Context, host string) (bool, string) { return true, "" }

	urls := []string{"https://a.com/x", "https://b.com/y"}
	results := c.Run(context.Background(), urls)

	require.Len(t, results, 2)
	for _, u := range urls {
		assert.True(t, results[u].PassedDNS, u)
		assert.True(t, results[u].PassedSSL, u)
		assert.Empty(t, results[u].SkipReason, u)
	}
}

func TestRunDNSFailureSkips(t *testing.T) {
	c := testChecker(configtypes.PreflightConfig{CheckDNS: true})
	c.lookup = func(ctx context.Context, host string) (bool, string) {
		return host != "dead.com", "no such host"
	}

	results := c.Run(context.Background(), []string{"https://dead.com/x", "https://live.com/y"})

	dead := results["https://dead.com/x"]
	assert.False(t, dead.PassedDNS)
	assert.Equal(t, types.CodeDNSResolutionFailed, dead.SkipReason)

	live := results["https://live.com/y"]
	assert.True(t, live.PassedDNS)
	assert.Empty(t, live.SkipReason)
}

func TestRunDNSFailureWarnsWhenSkipDisabled(t *testing.T) {
	c := testChecker(configtypes.PreflightConfig{
		CheckDNS:      true,
		SkipDNSFailed: boolPtr(false),
	})
	c.lookup = func(ctx context.Context, host string) (bool, string) { return false, "no such host" }

	results := c.Run(context.Background(), []string{"https://dead.com/"})
	r := results["https://dead.com/"]
	assert.Empty(t, r.SkipReason)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "DNS resolution failed")
}

func TestRunSSLFailureDefaultsToWarning(t *testing.T) {
	c := testChecker(configtypes.PreflightConfig{CheckDNS: true, CheckSSL: true})
	c.lookup = func(ctx context.Context, host string) (bool, string) { return true, "" }
	c.dial = func(ctx context.Context, host string) (bool, string) { return false, "certificate expired" }

	results := c.Run(context.Background(), []string{"https://expired.com/"})
	r := results["https://expired.com/"]
	assert.True(t, r.PassedDNS)
	assert.False(t, r.PassedSSL)
	assert.Empty(t, r.SkipReason) // skipSSLFailed defaults off
	require.Len(t, r.Warnings, 1)
}

func TestRunSSLFailureSkipsWhenEnabled(t *testing.T) {
	c := testChecker(configtypes.PreflightConfig{
		CheckDNS:      true,
		CheckSSL:      true,
		SkipSSLFailed: boolPtr(true),
	})
	c.lookup = func(ctx context.Context, host string) (bool, string) { return true, "" }
	c.dial = func(ctx context.Context, host string) (bool, string) { return false, "handshake failure" }

	results := c.Run(context.Background(), []string{"https://badssl.com/"})
	assert.Equal(t, types.CodeSSLValidationFailed, results["https://badssl.com/"].SkipReason)
}

func TestRunSharedHostCheckedOnce(t *testing.T) {
	var lookups atomic.Int32
	c := testChecker(configtypes.PreflightConfig{CheckDNS: true})
	c.lookup = func(ctx context.Context, host string) (bool, string) {
		lookups.Add(1)
		return true, ""
	}

	results := c.Run(context.Background(), []string{
		"https://same.com/a",
		"https://same.com/b",
		"https://same.com/c",
	})
	assert.Len(t, results, 3)
	assert.Equal(t, int32(1), lookups.Load())
}

func TestRunSSLSkippedForFailedDNS(t *testing.T) {
	var dials atomic.Int32
	c := testChecker(configtypes.PreflightConfig{CheckDNS: true, CheckSSL: true})
	c.lookup = func(ctx context.Context, host string) (bool, string) { return false, "no such host" }
	c.dial = func(ctx context.Context, host string) (bool, string) {
		dials.Add(1)
		return true, ""
	}

	c.Run(context.Background(), []string{"https://dead.com/"})
	assert.Equal(t, int32(0), dials.Load())
}

func TestRunChecksDisabled(t *testing.T) {
	c := testChecker(configtypes.PreflightConfig{})

	results := c.Run(context.Background(), []string{"https://a.com/"})
	r := results["https://a.com/"]
	assert.True(t, r.PassedDNS)
	assert.True(t, r.PassedSSL)
}
