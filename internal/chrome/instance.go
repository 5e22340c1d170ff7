package chrome

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// NewInstance launches a browser process and warms it up.
func NewInstance(id int, cfg *Config, logger *zap.Logger) (*Instance, error) {
	inst := &Instance{
		ID:        id,
		Status:    StatusStarting,
		config:    cfg,
		startTime: time.Now(),
	}

	if err := inst.createBrowser(); err != nil {
		inst.Status = StatusDead
		return nil, fmt.Errorf("failed to create browser %d: %w", id, err)
	}

	if err := inst.Warmup(); err != nil {
		logger.Warn("Browser warmup failed, continuing anyway",
			zap.Int("instance", id),
			zap.Error(err))
	}

	inst.Status = StatusReady
	logger.Debug("Browser instance ready", zap.Int("instance", id))
	return inst, nil
}

// createBrowser starts the Chrome process and opens the control connection.
func (i *Instance) createBrowser() error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", i.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(i.config.UserAgent),
	}

	i.allocCtx, i.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	i.browserCtx, i.browserCancel = chromedp.NewContext(i.allocCtx)

	// Force the browser process to actually start now, not on first task.
	ctx, cancel := context.WithTimeout(i.browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(ctx); err != nil {
		i.cleanup()
		return fmt.Errorf("browser failed to start: %w", err)
	}
	return nil
}

// Warmup primes the renderer with one cheap navigation so the first real
// task does not pay cold-start costs.
func (i *Instance) Warmup() error {
	if i.config.WarmupURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(i.browserCtx, i.config.WarmupTimeout)
	defer cancel()

	tabCtx, tabCancel := chromedp.NewContext(ctx)
	defer tabCancel()

	return chromedp.Run(tabCtx, chromedp.Navigate(i.config.WarmupURL))
}

// IsAlive checks whether the browser process still answers on the control
// connection.
func (i *Instance) IsAlive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.Status == StatusDead || i.browserCtx == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(i.browserCtx, 5*time.Second)
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))
	return err == nil
}

// ShouldRestart reports whether the instance hit its recycling policy.
func (i *Instance) ShouldRestart() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.config.RestartAfterCount > 0 && i.taskCount >= i.config.RestartAfterCount {
		return true
	}
	if i.config.RestartAfterTime > 0 && time.Since(i.startTime) >= i.config.RestartAfterTime {
		return true
	}
	return false
}

// Restart tears the browser process down and launches a fresh one.
func (i *Instance) Restart(logger *zap.Logger) error {
	i.mu.Lock()
	i.Status = StatusRestarting
	i.cleanup()
	i.mu.Unlock()

	logger.Info("Restarting browser instance",
		zap.Int("instance", i.ID),
		zap.Int("tasksServed", i.taskCount))

	if err := i.createBrowser(); err != nil {
		i.mu.Lock()
		i.Status = StatusDead
		i.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}

	if err := i.Warmup(); err != nil {
		logger.Warn("Browser warmup after restart failed",
			zap.Int("instance", i.ID),
			zap.Error(err))
	}

	i.mu.Lock()
	i.Status = StatusReady
	i.startTime = time.Now()
	i.taskCount = 0
	i.mu.Unlock()
	return nil
}

// Terminate shuts the browser process down for good.
func (i *Instance) Terminate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Status = StatusDead
	i.cleanup()
}

// cleanup releases contexts; callers hold i.mu or own the instance.
func (i *Instance) cleanup() {
	if i.browserCancel != nil {
		i.browserCancel()
		i.browserCancel = nil
	}
	if i.allocCancel != nil {
		i.allocCancel()
		i.allocCancel = nil
	}
	i.browserCtx = nil
	i.allocCtx = nil
}

// GetContext returns the browser-level context tabs are created from.
func (i *Instance) GetContext() context.Context {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.browserCtx
}

// RecordTask bumps the served-task counter used by the restart policy.
func (i *Instance) RecordTask() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.taskCount++
	i.lastUsedAt = time.Now()
}
