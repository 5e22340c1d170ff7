package chrome

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/adscan/adscan/internal/common/configtypes"
)

// Config holds browser pool and instance configuration.
type Config struct {
	PoolSize  string // "auto" or integer string
	Headless  bool
	UserAgent string

	WarmupURL       string
	WarmupTimeout   time.Duration
	ShutdownTimeout time.Duration

	// Restart policies
	RestartAfterCount int
	RestartAfterTime  time.Duration

	// Request blocking applied to every page
	BlockedResourceTypes []string
	BlockedPatterns      []string
}

// defaultBlockedResourceTypes lists resource types refused before fetch.
// Scripts, stylesheets, XHR and WebSocket stay enabled: ad-tech detection
// needs them.
var defaultBlockedResourceTypes = []string{
	"Image", "Font", "Media", "TextTrack", "EventSource", "Manifest", "Other",
}

// NewConfig builds a pool config from the scanner configuration sections.
func NewConfig(scanner configtypes.ScannerConfig, chromeCfg configtypes.ChromeConfig) *Config {
	blockedTypes := chromeCfg.BlockedResourceTypes
	if len(blockedTypes) == 0 {
		blockedTypes = defaultBlockedResourceTypes
	}

	warmupURL := chromeCfg.Warmup.URL
	if warmupURL == "" {
		warmupURL = "about:blank"
	}

	return &Config{
		PoolSize:             scanner.Concurrency,
		Headless:             chromeCfg.Headless,
		UserAgent:            scanner.UserAgent,
		WarmupURL:            warmupURL,
		WarmupTimeout:        chromeCfg.Warmup.Timeout.ToDuration(),
		ShutdownTimeout:      chromeCfg.ShutdownTimeout.ToDuration(),
		RestartAfterCount:    chromeCfg.Restart.AfterCount,
		RestartAfterTime:     chromeCfg.Restart.AfterTime.ToDuration(),
		BlockedResourceTypes: blockedTypes,
		BlockedPatterns:      chromeCfg.BlockedPatterns,
	}
}

// DefaultConfig is used in tests to avoid constructing full Config structs.
func DefaultConfig() *Config {
	return &Config{
		PoolSize:             "auto",
		Headless:             true,
		UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		WarmupURL:            "about:blank",
		WarmupTimeout:        10 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		RestartAfterCount:    100,
		RestartAfterTime:     60 * time.Minute,
		BlockedResourceTypes: defaultBlockedResourceTypes,
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.PoolSize != "auto" {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil {
			return fmt.Errorf("pool size must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("pool size must be positive")
		}
	}
	if c.RestartAfterCount <= 0 {
		return fmt.Errorf("restart after count must be positive")
	}
	if c.RestartAfterTime <= 0 {
		return fmt.Errorf("restart after time must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// CalculatePoolSize resolves "auto" against available system RAM.
func (c *Config) CalculatePoolSize() int {
	if c.PoolSize == "auto" {
		return c.calculateAutoPoolSize()
	}

	size, err := strconv.Atoi(c.PoolSize)
	if err != nil || size <= 0 {
		return c.calculateAutoPoolSize()
	}
	return size
}

// calculateAutoPoolSize sizes the pool as (total RAM - 2GB) / 500MB per
// browser, clamped to [2, 50].
func (c *Config) calculateAutoPoolSize() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64
	if err != nil {
		totalRAMBytes = 8 * 1024 * 1024 * 1024 // conservative 8GB fallback
	} else {
		totalRAMBytes = int64(v.Total)
	}

	reservedBytes := int64(2 * 1024 * 1024 * 1024)
	perInstanceBytes := int64(500 * 1024 * 1024)

	poolSize := int((totalRAMBytes - reservedBytes) / perInstanceBytes)
	if poolSize < 2 {
		poolSize = 2
	}
	if poolSize > 50 {
		poolSize = 50
	}
	return poolSize
}
