// Package pipeline runs one range of URLs through the full scan flow:
// tracker filter, domain validation, preflight, browser fan-out, retry
// pass, and result routing into the tracker and the sink.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adscan/adscan/internal/chrome"
	"github.com/adscan/adscan/internal/classify"
	"github.com/adscan/adscan/internal/metrics"
	"github.com/adscan/adscan/internal/preflight"
	"github.com/adscan/adscan/internal/sink"
	"github.com/adscan/adscan/internal/tracker"
	"github.com/adscan/adscan/internal/validate"
	"github.com/adscan/adscan/pkg/types"
)

// TaskRunner is the browser-side contract the pipeline fans out into.
// chrome.Pool and chrome.FallbackPool both satisfy it.
type TaskRunner interface {
	Run(ctx context.Context, url string, opts chrome.TaskOptions) types.TaskResult
}

// Config carries the per-run knobs of the pipeline.
type Config struct {
	Concurrency int
	MaxRetries  int

	TaskOptions chrome.TaskOptions

	SkipProcessed    bool
	ForceReprocess   bool
	PreflightEnabled bool
	RetryPassEnabled bool

	// RewriteInputPath, when set, points at the local .txt source that
	// should shed successfully processed lines after the run.
	RewriteInputPath string
}

// Pipeline wires the scan stages together. Construct with New; zero value
// is not usable.
type Pipeline struct {
	cfg       Config
	runner    TaskRunner
	track     *tracker.Tracker
	validator *validate.DomainValidator
	checker   *preflight.Checker
	out       *sink.Sink
	collector *metrics.Collector
	logger    *zap.Logger
}

// Result is the outcome of one pipeline run.
type Result struct {
	Statistics types.BatchStatistics
	Results    []types.TaskResult
	Skipped    []string // URLs filtered out as already processed
}

func New(cfg Config, runner TaskRunner, track *tracker.Tracker, validator *validate.DomainValidator,
	checker *preflight.Checker, out *sink.Sink, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Pipeline{
		cfg:       cfg,
		runner:    runner,
		track:     track,
		validator: validator,
		checker:   checker,
		out:       out,
		collector: collector,
		logger:    logger,
	}
}

// Run processes the given URLs and routes every outcome. The returned
// error covers infrastructure faults only; per-URL failures live in the
// result set.
func (p *Pipeline) Run(ctx context.Context, urls []string) (*Result, error) {
	res := &Result{}

	toScan := urls
	if p.cfg.SkipProcessed && !p.cfg.ForceReprocess {
		unprocessed, err := p.track.FilterUnprocessed(urls)
		if err != nil {
			return nil, fmt.Errorf("tracker filter failed: %w", err)
		}
		res.Skipped = diffSkipped(urls, unprocessed)
		toScan = unprocessed
		if len(res.Skipped) > 0 {
			p.logger.Info("Skipping already processed URLs",
				zap.Int("skipped", len(res.Skipped)),
				zap.Int("remaining", len(toScan)))
			for range res.Skipped {
				p.collector.RecordTask("skipped")
			}
		}
	}

	// Invalid domains never reach the browser.
	accepted, rejected := p.validator.Filter(toScan)
	for url, err := range rejected {
		det := types.DetailedError{
			Category:    types.CategoryNetwork,
			SubCategory: "validation",
			Phase:       types.PhasePreflight,
			Code:        types.CodeInvalidDomain,
			URL:         url,
			Timestamp:   time.Now().UTC(),
			Message:     err.Error(),
		}
		res.Results = append(res.Results, types.NewErrorResult(&det))
	}

	// Preflight trims hosts that cannot possibly render.
	if p.cfg.PreflightEnabled && p.checker != nil {
		accepted = p.runPreflight(ctx, accepted, res)
	}

	scanned := p.fanOut(ctx, accepted)
	if p.cfg.RetryPassEnabled {
		scanned = p.retryTimeouts(ctx, scanned)
	}
	res.Results = append(res.Results, scanned...)

	if err := p.routeResults(res); err != nil {
		return nil, err
	}

	res.Statistics = p.buildStatistics(res)
	return res, nil
}

// runPreflight drops skip-reason URLs into the result set and returns the
// survivors.
func (p *Pipeline) runPreflight(ctx context.Context, urls []string, res *Result) []string {
	checks := p.checker.Run(ctx, urls)
	keep := urls[:0]
	for _, url := range urls {
		check := checks[url]
		if check == nil || check.SkipReason == "" {
			keep = append(keep, url)
			continue
		}

		category, sub, checkName := types.CategoryNetwork, "dns", "dns"
		if check.SkipReason == types.CodeSSLValidationFailed {
			category, sub, checkName = types.CategorySSL, "certificate", "ssl"
		}
		p.collector.RecordPreflightFailure(checkName)

		det := types.DetailedError{
			Category:    category,
			SubCategory: sub,
			Phase:       types.PhasePreflight,
			Code:        check.SkipReason,
			URL:         url,
			Timestamp:   time.Now().UTC(),
			Message:     fmt.Sprintf("preflight %s check failed", checkName),
		}
		res.Results = append(res.Results, types.NewErrorResult(&det))
	}
	return keep
}

// fanOut runs the browser phase with bounded parallelism. Result order
// follows input order; collection order inside the pool is not stable.
func (p *Pipeline) fanOut(ctx context.Context, urls []string) []types.TaskResult {
	if len(urls) == 0 {
		return nil
	}

	results := make([]types.TaskResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			results[i] = p.runWithRetries(gctx, url, p.cfg.TaskOptions)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors, results carry failures
	return results
}

// runWithRetries executes one task with the per-URL retry ceiling.
// Permanent, crash-fatal and timeout errors are never retried inline:
// permanents cannot improve, crash codes must not hammer a sick browser,
// and timeouts belong to the relaxed retry pass.
func (p *Pipeline) runWithRetries(ctx context.Context, url string, opts chrome.TaskOptions) types.TaskResult {
	attempts := p.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var result types.TaskResult
	for attempt := 1; attempt <= attempts; attempt++ {
		result = p.runner.Run(ctx, url, opts)
		if result.Kind != types.TaskError {
			return result
		}
		if classify.IsPermanentCode(result.Code) ||
			classify.IsCrashFatal(result.Code) ||
			classify.IsTimeoutCode(result.Code) {
			return result
		}
		if attempt < attempts {
			p.logger.Debug("Retrying transient task failure",
				zap.String("url", url),
				zap.String("code", result.Code),
				zap.Int("attempt", attempt))
		}
	}

	det := types.DetailedError{
		Category:    types.CategoryOther,
		SubCategory: "retries",
		Phase:       types.PhaseNavigation,
		Code:        types.CodeMaxRetriesExceeded,
		URL:         url,
		Timestamp:   time.Now().UTC(),
		Message:     fmt.Sprintf("gave up after %d attempts, last error: %s", attempts, result.Message),
	}
	return types.NewErrorResult(&det)
}

// routeResults pushes every outcome into the tracker and the sink, and
// appends the successful extractions to the dated store file.
func (p *Pipeline) routeResults(res *Result) error {
	var successes []*types.PageData
	succeededURLs := make(map[string]bool)

	for _, r := range res.Results {
		if err := p.track.MarkResult(r); err != nil {
			p.logger.Warn("Tracker update failed",
				zap.String("url", r.URL),
				zap.Error(err))
		}

		switch r.Kind {
		case types.TaskSuccess:
			successes = append(successes, r.Data)
			succeededURLs[r.URL] = true
		case types.TaskNoData:
			succeededURLs[r.URL] = true
			if err := p.out.RecordResult(r); err != nil {
				p.logger.Warn("Sink write failed", zap.String("url", r.URL), zap.Error(err))
			}
		case types.TaskError:
			if err := p.out.RecordResult(r); err != nil {
				p.logger.Warn("Sink write failed", zap.String("url", r.URL), zap.Error(err))
			}
		}
	}

	if err := p.out.AppendPageData(successes); err != nil {
		return fmt.Errorf("failed to append results: %w", err)
	}

	if p.cfg.RewriteInputPath != "" {
		if err := p.out.RewriteInput(p.cfg.RewriteInputPath, succeededURLs); err != nil {
			p.logger.Warn("Input file rewrite failed",
				zap.String("file", p.cfg.RewriteInputPath),
				zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) buildStatistics(res *Result) types.BatchStatistics {
	stats := types.BatchStatistics{
		UrlsProcessed: len(res.Results),
		UrlsSkipped:   len(res.Skipped),
	}
	for _, r := range res.Results {
		switch r.Kind {
		case types.TaskSuccess:
			stats.SuccessfulExtractions++
		case types.TaskNoData:
			stats.NoAdTech++
		case types.TaskError:
			stats.Errors++
		}
	}
	return stats
}

// diffSkipped returns the URLs present in all but absent from kept,
// preserving input order.
func diffSkipped(all, kept []string) []string {
	keptSet := make(map[string]bool, len(kept))
	for _, u := range kept {
		keptSet[u] = true
	}
	var skipped []string
	for _, u := range all {
		if !keptSet[u] {
			skipped = append(skipped, u)
		}
	}
	return skipped
}
