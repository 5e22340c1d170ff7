package configtypes

import (
	"github.com/adscan/adscan/pkg/types"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// ScanConfig is the root configuration for the scanner.
type ScanConfig struct {
	Scanner    ScannerConfig    `yaml:"scanner"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Preflight  PreflightConfig  `yaml:"preflight"`
	Chrome     ChromeConfig     `yaml:"chrome"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Validator  ValidatorConfig  `yaml:"validator"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ScannerConfig controls the crawl pipeline itself.
type ScannerConfig struct {
	StoreDir        string         `yaml:"store_dir"`
	ErrorsDir       string         `yaml:"errors_dir"`
	Concurrency     string         `yaml:"concurrency"` // "auto" or integer string
	MaxRetries      int            `yaml:"max_retries"`
	SoftTimeout     types.Duration `yaml:"soft_timeout"`
	HardTimeout     types.Duration `yaml:"hard_timeout"`
	SettleWait      types.Duration `yaml:"settle_wait"`
	InterBatchDelay types.Duration `yaml:"inter_batch_delay"`
	UserAgent       string         `yaml:"user_agent"`
	RewriteInputTxt bool           `yaml:"rewrite_input_txt"`
}

// TrackerConfig locates the embedded URL-state database.
type TrackerConfig struct {
	Path string `yaml:"path"`
}

// PreflightConfig controls the out-of-browser DNS/TLS checks.
type PreflightConfig struct {
	CheckDNS       bool           `yaml:"check_dns"`
	CheckSSL       bool           `yaml:"check_ssl"`
	DNSConcurrency int            `yaml:"dns_concurrency"`
	SSLConcurrency int            `yaml:"ssl_concurrency"`
	DNSTimeout     types.Duration `yaml:"dns_timeout"`
	SSLTimeout     types.Duration `yaml:"ssl_timeout"`
	SkipDNSFailed  *bool          `yaml:"skip_dns_failed,omitempty"` // default true
	SkipSSLFailed  *bool          `yaml:"skip_ssl_failed,omitempty"` // default false
}

// ChromeConfig controls the browser pool.
type ChromeConfig struct {
	Headless             bool                `yaml:"headless"`
	Restart              ChromeRestartConfig `yaml:"restart"`
	Warmup               ChromeWarmupConfig  `yaml:"warmup"`
	ShutdownTimeout      types.Duration      `yaml:"shutdown_timeout"`
	BlockedResourceTypes []string            `yaml:"blocked_resource_types,omitempty"`
	BlockedPatterns      []string            `yaml:"blocked_patterns,omitempty"`
}

// ChromeRestartConfig bounds how long a browser instance is reused.
type ChromeRestartConfig struct {
	AfterCount int            `yaml:"after_count"`
	AfterTime  types.Duration `yaml:"after_time"`
}

// ChromeWarmupConfig is the post-launch readiness navigation.
type ChromeWarmupConfig struct {
	URL     string         `yaml:"url"`
	Timeout types.Duration `yaml:"timeout"`
}

// ExtractionConfig is forwarded verbatim to the in-page payload.
type ExtractionConfig struct {
	DiscoveryMode       bool   `yaml:"discovery_mode"`
	ExtractMetadata     bool   `yaml:"extract_metadata"`
	AdUnitDetail        string `yaml:"ad_unit_detail"`  // basic | standard | full
	ModuleDetail        string `yaml:"module_detail"`   // simple | categorized
	IdentityDetail      bool   `yaml:"identity_detail"`
	PrebidConfigDetail  bool   `yaml:"prebid_config_detail"`
	IdentityUsageDetail bool   `yaml:"identity_usage_detail"`
}

// ValidatorConfig controls the syntactic domain validator.
type ValidatorConfig struct {
	AllowIPLiterals bool     `yaml:"allow_ip_literals"`
	Blocklist       []string `yaml:"blocklist,omitempty"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig configures lumberjack log rotation.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxAge     int  `yaml:"max_age"`     // days
	MaxBackups int  `yaml:"max_backups"` // files
	Compress   bool `yaml:"compress"`
}

// SkipDNSFailedOrDefault returns skip_dns_failed with its default (true).
func (p *PreflightConfig) SkipDNSFailedOrDefault() bool {
	if p.SkipDNSFailed == nil {
		return true
	}
	return *p.SkipDNSFailed
}

// SkipSSLFailedOrDefault returns skip_ssl_failed with its default (false).
func (p *PreflightConfig) SkipSSLFailedOrDefault() bool {
	if p.SkipSSLFailed == nil {
		return false
	}
	return *p.SkipSSLFailed
}
