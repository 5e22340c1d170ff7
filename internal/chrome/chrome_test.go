package chrome

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adscan/adscan/internal/common/configtypes"
	"github.com/adscan/adscan/pkg/types"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.PoolSize = "five"
	assert.Error(t, cfg.Validate())

	cfg.PoolSize = "0"
	assert.Error(t, cfg.Validate())

	cfg.PoolSize = "8"
	assert.NoError(t, cfg.Validate())

	cfg.RestartAfterCount = 0
	assert.Error(t, cfg.Validate())
}

func TestCalculatePoolSizeExplicit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = "7"
	assert.Equal(t, 7, cfg.CalculatePoolSize())
}

func TestCalculatePoolSizeAutoWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = "auto"
	size := cfg.CalculatePoolSize()
	assert.GreaterOrEqual(t, size, 2)
	assert.LessOrEqual(t, size, 50)
}

func TestNewConfigDefaultsBlockedTypes(t *testing.T) {
	cfg := NewConfig(configtypes.ScannerConfig{Concurrency: "auto"}, configtypes.ChromeConfig{})
	assert.Equal(t, defaultBlockedResourceTypes, cfg.BlockedResourceTypes)
	assert.Equal(t, "about:blank", cfg.WarmupURL)
}

func TestBlocklistResourceTypes(t *testing.T) {
	b := NewBlocklist([]string{"Image", "Font"}, nil, zap.NewNop())

	assert.True(t, b.IsBlocked("https://cdn.example.com/pic.png", network.ResourceTypeImage))
	assert.True(t, b.IsBlocked("https://cdn.example.com/f.woff2", network.ResourceTypeFont))
	assert.False(t, b.IsBlocked("https://cdn.example.com/prebid.js", network.ResourceTypeScript))
	assert.False(t, b.IsBlocked("https://example.com/", network.ResourceTypeDocument))
}

func TestBlocklistDataURLsPass(t *testing.T) {
	b := NewBlocklist([]string{"Image"}, nil, zap.NewNop())
	assert.False(t, b.IsBlocked("data:image/png;base64,AAAA", network.ResourceTypeImage))
}

func TestBlocklistURLPatterns(t *testing.T) {
	b := NewBlocklist(nil, []string{"*tracker.example.com*", "~^https://beacons\\."}, zap.NewNop())
	require.Equal(t, 2, b.PatternCount())

	assert.True(t, b.IsBlocked("https://tracker.example.com/px", network.ResourceTypeScript))
	assert.True(t, b.IsBlocked("https://beacons.other.com/b", network.ResourceTypeXHR))
	assert.False(t, b.IsBlocked("https://example.com/app.js", network.ResourceTypeScript))
}

func TestBlocklistInvalidPatternSkipped(t *testing.T) {
	b := NewBlocklist(nil, []string{"~[invalid", "*ok*"}, zap.NewNop())
	assert.Equal(t, 1, b.PatternCount())
}

func TestNilBlocklistBlocksNothing(t *testing.T) {
	var b *Blocklist
	assert.False(t, b.IsBlocked("https://x.com/a.png", network.ResourceTypeImage))
}

func TestClassifyTaskErrorSoftTimeout(t *testing.T) {
	res := classifyTaskError(ErrWaitTimeout, "https://slow.com/", &taskState{})
	require.Equal(t, types.TaskError, res.Kind)
	assert.Equal(t, types.CodeTimeout, res.Code)
	assert.Equal(t, types.CategoryTimeout, res.Detailed.Category)
	assert.Equal(t, "navigation", res.Detailed.SubCategory)
}

func TestClassifyTaskErrorHardTimeoutWins(t *testing.T) {
	state := &taskState{}
	state.hardTimedOut.Store(true)
	res := classifyTaskError(errors.New("context canceled"), "https://hung.com/", state)
	assert.Equal(t, types.CodeHardTimeout, res.Code)
	assert.Equal(t, types.CategoryTimeout, res.Detailed.Category)
	assert.Equal(t, "hard", res.Detailed.SubCategory)
}

func TestClassifyTaskErrorDetached(t *testing.T) {
	state := &taskState{}
	state.detached.Store(true)
	res := classifyTaskError(errors.New("context canceled"), "https://crash.com/", state)
	assert.Equal(t, types.CodePageDetached, res.Code)
	assert.Equal(t, types.CategoryBrowser, res.Detailed.Category)
	assert.Equal(t, "crash", res.Detailed.SubCategory)
}

func TestClassifyTaskErrorHTTPStatus(t *testing.T) {
	err := &HTTPStatusError{URL: "https://gone.com/", Status: 404}
	res := classifyTaskError(err, "https://gone.com/", &taskState{})
	assert.Equal(t, "HTTP_404", res.Code)
}

func TestClassifyTaskErrorExtractionPhase(t *testing.T) {
	err := &extractionError{cause: errors.New("Execution context was destroyed")}
	res := classifyTaskError(err, "https://x.com/", &taskState{})
	assert.Equal(t, types.PhaseExtraction, res.Detailed.Phase)
	assert.Equal(t, types.CodeDetachedFrame, res.Code)
}

func TestClassifyTaskErrorNavigationError(t *testing.T) {
	res := classifyTaskError(errors.New("net::ERR_NAME_NOT_RESOLVED"), "https://nx.invalid/", &taskState{})
	assert.Equal(t, types.CodeNameNotResolved, res.Code)
	assert.Equal(t, types.CategoryNetwork, res.Detailed.Category)
}

func TestBuildPayloadSplicesOptions(t *testing.T) {
	js := buildPayload(configtypes.ExtractionConfig{
		DiscoveryMode: true,
		AdUnitDetail:  "full",
		ModuleDetail:  "simple",
	})
	assert.False(t, strings.Contains(js, "__SCAN_OPTIONS__"))
	assert.Contains(t, js, `"discoveryMode":true`)
	assert.Contains(t, js, `"adUnitDetail":"full"`)
}

func TestHTTPStatusErrorMessage(t *testing.T) {
	err := &HTTPStatusError{URL: "https://a.com/", Status: 503}
	assert.Contains(t, err.Error(), "503")
}

func TestHardDeadlineFlagNotSetOnParentCancel(t *testing.T) {
	state := &taskState{}
	cancelled := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	stop := watchHardDeadline(ctx, state, func() { close(cancelled) })
	defer stop()

	cancel()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("tab was not torn down on parent cancellation")
	}
	assert.False(t, state.hardTimedOut.Load())
}

func TestHardDeadlineFlagSetOnExpiry(t *testing.T) {
	state := &taskState{}
	cancelled := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	stop := watchHardDeadline(ctx, state, func() { close(cancelled) })
	defer stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("tab was not torn down on deadline expiry")
	}
	assert.True(t, state.hardTimedOut.Load())
}

func deadTestPool(t *testing.T) *Pool {
	t.Helper()
	p := &Pool{
		config: DefaultConfig(),
		logger: zap.NewNop(),
		queue:  make(chan int),
		dead:   make(chan struct{}),
	}
	p.live.Store(1)
	p.dropFromRotation()
	return p
}

func TestPoolRunFailsFastWithEmptyRotation(t *testing.T) {
	p := deadTestPool(t)
	require.True(t, p.Dead())

	start := time.Now()
	res := p.Run(context.Background(), "https://x.com/", TaskOptions{})
	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, types.TaskError, res.Kind)
	assert.Equal(t, types.CodeBrowserCrashNoRetry, res.Code)
}

func TestPoolDeadExcludesDeliberateShutdown(t *testing.T) {
	p := &Pool{
		config: DefaultConfig(),
		logger: zap.NewNop(),
		queue:  make(chan int),
		dead:   make(chan struct{}),
	}
	p.live.Store(1)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Dead())
}

// recordingPool is a ScanPool stub standing in for the browser-per-task
// fallback.
type recordingPool struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingPool) Run(ctx context.Context, url string, opts TaskOptions) types.TaskResult {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return types.NewNoDataResult(url)
}

func (r *recordingPool) Stats() PoolStats               { return PoolStats{} }
func (r *recordingPool) Shutdown(context.Context) error { return nil }

func (r *recordingPool) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestFailoverPoolSwitchesWhenRotationDies(t *testing.T) {
	primary := deadTestPool(t)
	fallback := &recordingPool{}
	f := NewFailoverPool(primary, fallback, zap.NewNop())

	res := f.Run(context.Background(), "https://a.com/", TaskOptions{})
	assert.Equal(t, types.TaskNoData, res.Kind)

	res = f.Run(context.Background(), "https://b.com/", TaskOptions{})
	assert.Equal(t, types.TaskNoData, res.Kind)

	// Both tasks went to the fallback; the dead pool is never retried.
	assert.Equal(t, 2, fallback.callCount())
	assert.True(t, f.degraded.Load())
}
