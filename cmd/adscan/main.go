package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adscan/adscan/internal/batch"
	"github.com/adscan/adscan/internal/chrome"
	"github.com/adscan/adscan/internal/common/config"
	"github.com/adscan/adscan/internal/common/logger"
	"github.com/adscan/adscan/internal/loader"
	"github.com/adscan/adscan/internal/metrics"
	"github.com/adscan/adscan/internal/pipeline"
	"github.com/adscan/adscan/internal/preflight"
	"github.com/adscan/adscan/internal/sink"
	"github.com/adscan/adscan/internal/tracker"
	"github.com/adscan/adscan/internal/validate"
	"github.com/adscan/adscan/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		os.Exit(runScan(os.Args[2:]))
	case "import":
		os.Exit(runImport(os.Args[2:]))
	case "stats":
		os.Exit(runStats(os.Args[2:]))
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: adscan <command> [flags]

Commands:
  scan    scan URLs for ad-tech libraries (adscan scan -h for flags)
  import  seed the tracker from existing result JSON files
  stats   print tracker statistics`)
}

// scanFlags holds every CLI override of the scan command.
type scanFlags struct {
	configPath string

	githubRepo    string
	numUrls       int
	rangeStr      string
	chunkSize     int
	puppeteerType string

	concurrency int
	headless    bool
	noHeadless  bool
	monitor     bool
	outputDir   string
	logDir      string

	skipProcessed      bool
	prefilterProcessed bool
	resetTracking      bool
	forceReprocess     bool

	preflightCheck bool
	skipDNSFailed  bool
	skipSSLFailed  bool

	discoveryMode   bool
	extractMetadata bool
	adUnitDetail    string
	moduleDetail    string

	batchMode   bool
	startURL    int
	totalURLs   int
	batchSize   int
	resumeBatch int
}

func parseScanFlags(args []string) (*scanFlags, *flag.FlagSet, error) {
	f := &scanFlags{}
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)

	fs.StringVar(&f.configPath, "c", "configs/adscan.yaml", "path to configuration file")

	fs.StringVar(&f.githubRepo, "githubRepo", "", "remote URL list (hosted-git blob URLs are rewritten to raw)")
	fs.IntVar(&f.numUrls, "numUrls", 0, "cap on the number of URLs loaded from the source")
	fs.StringVar(&f.rangeStr, "range", "", `1-based inclusive range "a-b" over the loaded list`)
	fs.IntVar(&f.chunkSize, "chunkSize", 0, "alias for --batchSize")
	fs.StringVar(&f.puppeteerType, "puppeteerType", "cluster", "browser mode: cluster (shared pool) or vanilla (browser per task)")

	fs.IntVar(&f.concurrency, "concurrency", 0, "parallel workers (0 = config/auto)")
	fs.BoolVar(&f.headless, "headless", true, "run browsers headless")
	fs.BoolVar(&f.noHeadless, "no-headless", false, "run browsers with a visible window")
	fs.BoolVar(&f.monitor, "monitor", false, "force-enable the metrics endpoint")
	fs.StringVar(&f.outputDir, "outputDir", "", "override the result store directory")
	fs.StringVar(&f.logDir, "logDir", "", "override the log file directory")

	fs.BoolVar(&f.skipProcessed, "skipProcessed", false, "skip URLs already processed per the tracker")
	fs.BoolVar(&f.prefilterProcessed, "prefilterProcessed", false, "alias for --skipProcessed")
	fs.BoolVar(&f.resetTracking, "resetTracking", false, "wipe the tracker store before scanning")
	fs.BoolVar(&f.forceReprocess, "forceReprocess", false, "reprocess URLs even when marked processed/permanent")

	fs.BoolVar(&f.preflightCheck, "preflightCheck", false, "run DNS/TLS preflight before the browser phase")
	fs.BoolVar(&f.skipDNSFailed, "skipDNSFailed", true, "skip URLs whose host fails DNS resolution")
	fs.BoolVar(&f.skipSSLFailed, "skipSSLFailed", false, "skip URLs whose host fails TLS validation")

	fs.BoolVar(&f.discoveryMode, "discoveryMode", false, "scan for unknown ad-tech globals")
	fs.BoolVar(&f.extractMetadata, "extractMetadata", false, "include extraction-side diagnostics in results")
	fs.StringVar(&f.adUnitDetail, "adUnitDetail", "", "ad unit detail: basic|standard|full")
	fs.StringVar(&f.moduleDetail, "moduleDetail", "", "module detail: simple|categorized")

	fs.BoolVar(&f.batchMode, "batchMode", false, "run as a resumable sequence of batches")
	fs.IntVar(&f.startURL, "startUrl", 1, "1-based index of the first URL in batch mode")
	fs.IntVar(&f.totalURLs, "totalUrls", 0, "number of URLs to cover in batch mode")
	fs.IntVar(&f.batchSize, "batchSize", 0, "URLs per batch in batch mode")
	fs.IntVar(&f.resumeBatch, "resumeBatch", 0, "1-based batch number to resume from")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs, nil
}

// runScan is the scan command. Exit code 0 means the run completed, even
// when individual URLs failed; 1 is reserved for setup failures.
func runScan(args []string) int {
	f, fs, err := parseScanFlags(args)
	if err != nil {
		return 1
	}

	bootLog, err := logger.NewDefault()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		return 1
	}

	cfg, err := loadConfig(f, bootLog.Logger)
	if err != nil {
		bootLog.Error("Failed to load configuration", zap.Error(err))
		return 1
	}
	applyFlagOverrides(cfg, f, fs)

	dynLog, err := logger.NewWithStartupOverride(cfg.Log)
	if err != nil {
		bootLog.Error("Failed to configure logger", zap.Error(err))
		return 1
	}
	// Tag every log line of this run so interleaved runs stay separable.
	runID := uuid.NewString()[:8]
	log := dynLog.Logger.With(zap.String("run", runID))
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Resolve the URL source: positional file or remote list.
	source := f.githubRepo
	if fs.NArg() > 0 {
		source = fs.Arg(0)
	}
	if source == "" {
		log.Error("No URL source given: pass an input file or --githubRepo")
		return 1
	}

	endHint := 0
	if f.rangeStr != "" {
		if _, end, hasEnd, rerr := loader.ParseRange(f.rangeStr); rerr == nil && hasEnd {
			endHint = end
		}
	}
	urls, err := loader.New(log).Load(source, loader.Options{NumUrls: f.numUrls, EndHint: endHint})
	if err != nil {
		log.Error("Failed to load URL source", zap.String("source", source), zap.Error(err))
		return 1
	}
	log.Info("Loaded URL list", zap.String("source", source), zap.Int("urls", len(urls)))

	track, err := tracker.Open(cfg.Tracker.Path, log)
	if err != nil {
		log.Error("Failed to open URL tracker", zap.Error(err))
		return 1
	}
	defer track.Close()

	if f.resetTracking {
		if err := track.Reset(); err != nil {
			log.Error("Failed to reset tracker", zap.Error(err))
			return 1
		}
		log.Info("Tracker store reset")
	}

	selected := loader.Select(urls, f.rangeStr, log)
	if len(selected) == 0 {
		log.Info("Range selects no URLs, nothing to do")
		return 0
	}

	skipProcessed := f.skipProcessed || f.prefilterProcessed
	// If everything in range is already processed, never start a browser.
	if skipProcessed && !f.forceReprocess {
		remaining, ferr := track.FilterUnprocessed(selected)
		if ferr != nil {
			log.Error("Tracker filter failed", zap.Error(ferr))
			return 1
		}
		if len(remaining) == 0 {
			log.Info("All URLs in range already processed",
				zap.Int("urls", len(selected)))
			printSummary(log, track, urls, &types.BatchStatistics{UrlsSkipped: len(selected)})
			return 0
		}
	}

	collector := setupMetrics(cfg, f, log)

	validator, err := validate.New(cfg.Validator.AllowIPLiterals, cfg.Validator.Blocklist)
	if err != nil {
		log.Error("Invalid validator blocklist", zap.Error(err))
		return 1
	}

	out, err := sink.New(cfg.Scanner.StoreDir, cfg.Scanner.ErrorsDir, log)
	if err != nil {
		log.Error("Failed to initialize results sink", zap.Error(err))
		return 1
	}

	var checker *preflight.Checker
	if f.preflightCheck {
		checker = preflight.New(cfg.Preflight, log)
	}

	chromeCfg := chrome.NewConfig(cfg.Scanner, cfg.Chrome)
	concurrency, err := config.ResolveConcurrency(cfg.Scanner.Concurrency, chromeCfg.CalculatePoolSize())
	if err != nil {
		log.Error("Invalid concurrency setting", zap.Error(err))
		return 1
	}

	runner, shutdown, err := buildRunner(f.puppeteerType, chromeCfg, concurrency, collector, log)
	if err != nil {
		log.Error("Failed to start browser pool", zap.Error(err))
		return 1
	}
	defer func() {
		dynLog.EnsureInfoLevelForShutdown()
		shutdownCtx, scancel := context.WithTimeout(context.Background(), chromeCfg.ShutdownTimeout)
		defer scancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("Browser pool shutdown incomplete", zap.Error(err))
		}
	}()

	dynLog.SwitchToConfiguredLevel()

	pipeCfg := pipeline.Config{
		Concurrency:      concurrency,
		MaxRetries:       cfg.Scanner.MaxRetries,
		TaskOptions:      buildTaskOptions(cfg, chromeCfg, log),
		SkipProcessed:    skipProcessed,
		ForceReprocess:   f.forceReprocess,
		PreflightEnabled: checker != nil,
		RetryPassEnabled: true,
	}
	if cfg.Scanner.RewriteInputTxt && isLocalTxt(source) {
		pipeCfg.RewriteInputPath = source
	}
	pipe := pipeline.New(pipeCfg, runner, track, validator, checker, out, collector, log)

	if f.batchMode {
		return runBatchMode(ctx, f, cfg, pipe, pipeCfg, runner, track, validator, checker, out, collector, urls, log)
	}

	result, err := pipe.Run(ctx, selected)
	if err != nil {
		log.Error("Scan run failed", zap.Error(err))
		return 1
	}
	printSummary(log, track, urls, &result.Statistics)
	return 0
}

// runBatchMode wraps the pipeline in the batch orchestrator. Concurrency
// can differ per batch during recovery, so a fresh pipeline is built per
// runRange call.
func runBatchMode(ctx context.Context, f *scanFlags, cfg *config.ScanConfig, _ *pipeline.Pipeline,
	pipeCfg pipeline.Config, runner pipeline.TaskRunner, track *tracker.Tracker,
	validator *validate.DomainValidator, checker *preflight.Checker, out *sink.Sink,
	collector *metrics.Collector, fullList []string, log *zap.Logger) int {

	totalURLs := f.totalURLs
	if totalURLs <= 0 {
		totalURLs = len(fullList) - f.startURL + 1
	}
	batchSize := f.batchSize
	if batchSize <= 0 {
		batchSize = f.chunkSize
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	runRange := func(ctx context.Context, urls []string, concurrency int) (*pipeline.Result, error) {
		rangeCfg := pipeCfg
		rangeCfg.Concurrency = concurrency
		p := pipeline.New(rangeCfg, runner, track, validator, checker, out, collector, log)
		return p.Run(ctx, urls)
	}

	orch := batch.New(batch.Config{
		StartURL:        f.startURL,
		TotalURLs:       totalURLs,
		BatchSize:       batchSize,
		ResumeBatch:     f.resumeBatch,
		Concurrency:     pipeCfg.Concurrency,
		InterBatchDelay: cfg.Scanner.InterBatchDelay.ToDuration(),
		ProgressDir:     ".",
		VerifySkipped:   true,
	}, runRange, track, collector, log)

	progress, err := orch.Run(ctx, fullList)
	if err != nil {
		log.Error("Batch run aborted", zap.Error(err))
		if progress != nil {
			fmt.Print(batch.Summary(progress))
		}
		return 1
	}
	fmt.Print(batch.Summary(progress))
	return 0
}

// buildRunner starts the requested browser mode. "vanilla" launches a
// browser per task; anything else gets the shared pool.
func buildRunner(mode string, chromeCfg *chrome.Config, concurrency int,
	collector *metrics.Collector, log *zap.Logger) (pipeline.TaskRunner, func(context.Context) error, error) {

	if strings.EqualFold(mode, "vanilla") {
		fb := chrome.NewFallbackPool(chromeCfg, concurrency, collector, log)
		return fb, fb.Shutdown, nil
	}

	// Pool size tracks worker concurrency so workers never queue on
	// browsers.
	poolCfg := *chromeCfg
	poolCfg.PoolSize = strconv.Itoa(concurrency)
	pool, err := chrome.NewPool(&poolCfg, collector, log)
	if err != nil {
		// Degrade to one browser per task rather than abort: slower, but
		// the run can still make progress on a struggling host.
		log.Warn("Shared browser pool failed to start, using browser-per-task mode",
			zap.Error(err))
		fb := chrome.NewFallbackPool(chromeCfg, concurrency, collector, log)
		return fb, fb.Shutdown, nil
	}

	// The failover wrapper keeps the run alive if the pool later loses
	// every browser to failed restarts.
	fb := chrome.NewFallbackPool(chromeCfg, concurrency, collector, log)
	failover := chrome.NewFailoverPool(pool, fb, log)
	return failover, failover.Shutdown, nil
}

func buildTaskOptions(cfg *config.ScanConfig, chromeCfg *chrome.Config, log *zap.Logger) chrome.TaskOptions {
	return chrome.TaskOptions{
		UserAgent:   cfg.Scanner.UserAgent,
		SoftTimeout: cfg.Scanner.SoftTimeout.ToDuration(),
		HardTimeout: cfg.Scanner.HardTimeout.ToDuration(),
		SettleWait:  cfg.Scanner.SettleWait.ToDuration(),
		Extraction:  cfg.Extraction,
		Blocklist:   chrome.NewBlocklist(chromeCfg.BlockedResourceTypes, chromeCfg.BlockedPatterns, log),
	}
}

func loadConfig(f *scanFlags, log *zap.Logger) (*config.ScanConfig, error) {
	if _, err := os.Stat(f.configPath); os.IsNotExist(err) {
		log.Info("No config file found, using defaults", zap.String("path", f.configPath))
		return config.Default(), nil
	}
	log.Info("Loading configuration", zap.String("path", f.configPath))
	return config.Load(f.configPath)
}

// applyFlagOverrides lets explicit CLI flags win over the config file.
func applyFlagOverrides(cfg *config.ScanConfig, f *scanFlags, fs *flag.FlagSet) {
	if f.concurrency > 0 {
		cfg.Scanner.Concurrency = strconv.Itoa(f.concurrency)
	}
	if f.outputDir != "" {
		cfg.Scanner.StoreDir = f.outputDir
	}
	if f.logDir != "" && cfg.Log.File.Enabled {
		cfg.Log.File.Path = f.logDir + "/adscan.log"
	}
	if f.discoveryMode {
		cfg.Extraction.DiscoveryMode = true
	}
	if f.extractMetadata {
		cfg.Extraction.ExtractMetadata = true
	}
	if f.adUnitDetail != "" {
		cfg.Extraction.AdUnitDetail = f.adUnitDetail
	}
	if f.moduleDetail != "" {
		cfg.Extraction.ModuleDetail = f.moduleDetail
	}

	seen := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { seen[fl.Name] = true })
	// Only an explicitly passed flag may override chrome.headless from the
	// config file; the flag default must not clobber it.
	if seen["headless"] || seen["no-headless"] {
		cfg.Chrome.Headless = f.headless && !f.noHeadless
	}
	if seen["skipDNSFailed"] {
		v := f.skipDNSFailed
		cfg.Preflight.SkipDNSFailed = &v
	}
	if seen["skipSSLFailed"] {
		v := f.skipSSLFailed
		cfg.Preflight.SkipSSLFailed = &v
	}
	if f.preflightCheck {
		cfg.Preflight.CheckDNS = true
		cfg.Preflight.CheckSSL = true
	}
	if f.monitor {
		cfg.Metrics.Enabled = true
	}
}

func setupMetrics(cfg *config.ScanConfig, f *scanFlags, log *zap.Logger) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	collector := metrics.NewCollector(cfg.Metrics.Namespace, log)
	metrics.StartServer(cfg.Metrics, collector, log)
	return collector
}

// printSummary is the end-of-run report with a suggested next range.
func printSummary(log *zap.Logger, track *tracker.Tracker, fullList []string, stats *types.BatchStatistics) {
	fmt.Printf("\nScan complete\n")
	fmt.Printf("  Processed:   %d\n", stats.UrlsProcessed)
	fmt.Printf("  Skipped:     %d\n", stats.UrlsSkipped)
	fmt.Printf("  Extracted:   %d\n", stats.SuccessfulExtractions)
	fmt.Printf("  No ad tech:  %d\n", stats.NoAdTech)
	fmt.Printf("  Errors:      %d\n", stats.Errors)

	suggestions, err := track.SuggestNextRanges(fullList, 1000, 1)
	if err != nil || len(suggestions) == 0 {
		return
	}
	s := suggestions[0]
	if s.UnprocessedCount > 0 {
		fmt.Printf("  Next range:  --range \"%d-%d\" (%d unprocessed)\n",
			s.Start, s.End, s.UnprocessedCount)
	}
}

// runImport seeds the tracker from previously written result files.
func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	configPath := fs.String("c", "configs/adscan.yaml", "path to configuration file")
	storeRoot := fs.String("storeRoot", "", "result store root to scan (defaults to the configured store dir)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	dynLog, err := logger.NewDefault()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		return 1
	}
	log := dynLog.Logger

	cfg, err := loadConfig(&scanFlags{configPath: *configPath}, log)
	if err != nil {
		log.Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	root := *storeRoot
	if root == "" {
		root = cfg.Scanner.StoreDir
	}

	track, err := tracker.Open(cfg.Tracker.Path, log)
	if err != nil {
		log.Error("Failed to open URL tracker", zap.Error(err))
		return 1
	}
	defer track.Close()

	imported, err := track.ImportExistingResults(root)
	if err != nil {
		log.Error("Import failed", zap.Error(err))
		return 1
	}
	fmt.Printf("Imported %d URLs from %s\n", imported, root)
	return 0
}

// runStats prints tracker statistics.
func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configPath := fs.String("c", "configs/adscan.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	dynLog, err := logger.NewDefault()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		return 1
	}
	log := dynLog.Logger

	cfg, err := loadConfig(&scanFlags{configPath: *configPath}, log)
	if err != nil {
		log.Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	track, err := tracker.Open(cfg.Tracker.Path, log)
	if err != nil {
		log.Error("Failed to open URL tracker", zap.Error(err))
		return 1
	}
	defer track.Close()

	stats, err := track.GetStats()
	if err != nil {
		log.Error("Failed to read tracker stats", zap.Error(err))
		return 1
	}

	total := 0
	for _, statuses := range []types.UrlStatus{
		types.StatusSuccess, types.StatusNoData,
		types.StatusErrorTransient, types.StatusErrorPermanent,
	} {
		fmt.Printf("  %-16s %d\n", string(statuses)+":", stats[statuses])
		total += stats[statuses]
	}
	fmt.Printf("  %-16s %d\n", "total:", total)
	return 0
}

func isLocalTxt(source string) bool {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return false
	}
	return strings.HasSuffix(source, ".txt")
}
