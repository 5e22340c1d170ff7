// Package config loads and validates the scanner configuration file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adscan/adscan/internal/common/configtypes"
	"github.com/adscan/adscan/internal/common/yamlutil"
	"github.com/adscan/adscan/pkg/types"
)

// Type aliases so callers can keep importing just this package.
type (
	ScanConfig      = configtypes.ScanConfig
	ScannerConfig   = configtypes.ScannerConfig
	PreflightConfig = configtypes.PreflightConfig
	ChromeConfig    = configtypes.ChromeConfig
	LogConfig       = configtypes.LogConfig
)

// ConcurrencyAuto sizes the browser pool from available system memory.
const ConcurrencyAuto = "auto"

// Load reads the configuration file, applies defaults and validates it.
func Load(path string) (*ScanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ScanConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration used when no config file is given.
func Default() *ScanConfig {
	cfg := &ScanConfig{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields.
func ApplyDefaults(cfg *ScanConfig) {
	s := &cfg.Scanner
	if s.StoreDir == "" {
		s.StoreDir = "store"
	}
	if s.ErrorsDir == "" {
		s.ErrorsDir = "errors"
	}
	if s.Concurrency == "" {
		s.Concurrency = ConcurrencyAuto
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 2
	}
	if s.SoftTimeout == 0 {
		s.SoftTimeout = types.Duration(25 * time.Second)
	}
	if s.HardTimeout == 0 {
		s.HardTimeout = types.Duration(65 * time.Second)
	}
	if s.SettleWait == 0 {
		s.SettleWait = types.Duration(6 * time.Second)
	}
	if s.InterBatchDelay == 0 {
		s.InterBatchDelay = types.Duration(5 * time.Second)
	}
	if s.UserAgent == "" {
		s.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}

	if cfg.Tracker.Path == "" {
		cfg.Tracker.Path = "data/url-tracker"
	}

	p := &cfg.Preflight
	if p.DNSConcurrency == 0 {
		p.DNSConcurrency = 20
	}
	if p.SSLConcurrency == 0 {
		p.SSLConcurrency = 10
	}
	if p.DNSTimeout == 0 {
		p.DNSTimeout = types.Duration(3 * time.Second)
	}
	if p.SSLTimeout == 0 {
		p.SSLTimeout = types.Duration(5 * time.Second)
	}

	c := &cfg.Chrome
	if c.Restart.AfterCount == 0 {
		c.Restart.AfterCount = 100
	}
	if c.Restart.AfterTime == 0 {
		c.Restart.AfterTime = types.Duration(time.Hour)
	}
	if c.Warmup.Timeout == 0 {
		c.Warmup.Timeout = types.Duration(10 * time.Second)
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = types.Duration(30 * time.Second)
	}

	e := &cfg.Extraction
	if e.AdUnitDetail == "" {
		e.AdUnitDetail = "basic"
	}
	if e.ModuleDetail == "" {
		e.ModuleDetail = "simple"
	}

	l := &cfg.Log
	if l.Level == "" {
		l.Level = configtypes.LogLevelInfo
	}
	if !l.Console.Enabled && !l.File.Enabled {
		l.Console.Enabled = true
	}
	if l.Console.Format == "" {
		l.Console.Format = configtypes.LogFormatConsole
	}
	if l.File.Format == "" {
		l.File.Format = configtypes.LogFormatText
	}

	m := &cfg.Metrics
	if m.Listen == "" {
		m.Listen = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
	if m.Namespace == "" {
		m.Namespace = "adscan"
	}
}

// Validate checks for configuration mistakes defaults cannot fix.
func Validate(cfg *ScanConfig) error {
	if _, err := ResolveConcurrency(cfg.Scanner.Concurrency, 0); err != nil {
		return err
	}

	if cfg.Scanner.HardTimeout <= cfg.Scanner.SoftTimeout {
		return fmt.Errorf("scanner.hard_timeout (%s) must be greater than scanner.soft_timeout (%s)",
			cfg.Scanner.HardTimeout, cfg.Scanner.SoftTimeout)
	}
	if cfg.Scanner.MaxRetries < 0 {
		return fmt.Errorf("scanner.max_retries must not be negative")
	}

	switch cfg.Extraction.AdUnitDetail {
	case "basic", "standard", "full":
	default:
		return fmt.Errorf("extraction.ad_unit_detail must be basic, standard or full, got %q",
			cfg.Extraction.AdUnitDetail)
	}
	switch cfg.Extraction.ModuleDetail {
	case "simple", "categorized":
	default:
		return fmt.Errorf("extraction.module_detail must be simple or categorized, got %q",
			cfg.Extraction.ModuleDetail)
	}

	switch cfg.Log.Level {
	case configtypes.LogLevelDebug, configtypes.LogLevelInfo,
		configtypes.LogLevelWarn, configtypes.LogLevelError:
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}

	return nil
}

// ResolveConcurrency parses the concurrency setting. "auto" resolves to
// autoValue (pass the memory-derived pool size); an explicit integer must
// be positive. autoValue 0 only checks syntax.
func ResolveConcurrency(setting string, autoValue int) (int, error) {
	if strings.EqualFold(setting, ConcurrencyAuto) {
		return autoValue, nil
	}
	n, err := strconv.Atoi(setting)
	if err != nil {
		return 0, fmt.Errorf("scanner.concurrency must be %q or a positive integer, got %q", ConcurrencyAuto, setting)
	}
	if n < 1 {
		return 0, fmt.Errorf("scanner.concurrency must be at least 1, got %d", n)
	}
	return n, nil
}
