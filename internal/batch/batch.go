// Package batch orchestrates long scans as a sequence of ranges with
// crash-safe progress persistence and per-batch failure recovery.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/adscan/adscan/internal/loader"
	"github.com/adscan/adscan/internal/metrics"
	"github.com/adscan/adscan/internal/pipeline"
	"github.com/adscan/adscan/internal/tracker"
	"github.com/adscan/adscan/pkg/types"
)

// RunRange executes one batch of URLs at the given concurrency. The batch
// orchestrator lowers concurrency when recovering a failed batch.
type RunRange func(ctx context.Context, urls []string, concurrency int) (*pipeline.Result, error)

// Config drives one batch-mode invocation.
type Config struct {
	StartURL    int // 1-based index into the full list
	TotalURLs   int
	BatchSize   int
	ResumeBatch int // 1-based batch number to resume from; <=1 starts fresh

	Concurrency     int
	InterBatchDelay time.Duration
	RecoveryWait    time.Duration
	BatchTimeout    time.Duration // wall-clock cap per batch attempt
	ProgressDir     string
	VerifySkipped   bool
}

// Orchestrator walks the batches, persisting progress after each one.
type Orchestrator struct {
	cfg       Config
	runRange  RunRange
	track     *tracker.Tracker
	collector *metrics.Collector
	logger    *zap.Logger

	// sleep is swappable so tests do not wait out the delays.
	sleep func(context.Context, time.Duration)
}

func New(cfg Config, runRange RunRange, track *tracker.Tracker, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if cfg.InterBatchDelay <= 0 {
		cfg.InterBatchDelay = 5 * time.Second
	}
	if cfg.RecoveryWait <= 0 {
		cfg.RecoveryWait = 10 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 30 * time.Minute
	}
	return &Orchestrator{
		cfg:       cfg,
		runRange:  runRange,
		track:     track,
		collector: collector,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// ProgressPath returns the progress file for this run's URL window.
func (o *Orchestrator) ProgressPath() string {
	name := fmt.Sprintf("batch-progress-%d-%d.json", o.cfg.StartURL, o.endURL())
	return filepath.Join(o.cfg.ProgressDir, name)
}

func (o *Orchestrator) endURL() int {
	return o.cfg.StartURL + o.cfg.TotalURLs - 1
}

// Run walks every batch in the window. A batch failure never aborts the
// remaining batches; it is recorded and the loop continues.
func (o *Orchestrator) Run(ctx context.Context, fullList []string) (*types.BatchProgress, error) {
	ranges := loader.SplitBatches(o.cfg.StartURL, o.cfg.TotalURLs, o.cfg.BatchSize)
	if len(ranges) == 0 {
		return nil, fmt.Errorf("empty batch window: start=%d total=%d size=%d",
			o.cfg.StartURL, o.cfg.TotalURLs, o.cfg.BatchSize)
	}

	progress, err := o.loadOrInitProgress()
	if err != nil {
		return nil, err
	}

	first := o.cfg.ResumeBatch
	if first < 1 {
		first = 1
	}
	if first > 1 {
		o.logger.Info("Resuming batch run",
			zap.Int("fromBatch", first),
			zap.Int("totalBatches", len(ranges)))
	}

	for num := first; num <= len(ranges); num++ {
		if ctx.Err() != nil {
			return progress, ctx.Err()
		}

		r := ranges[num-1]
		urls := sliceRange(fullList, r)
		o.logger.Info("Starting batch",
			zap.Int("batch", num),
			zap.Int("of", len(ranges)),
			zap.String("range", r.String()),
			zap.Int("urls", len(urls)))

		entry := o.runBatch(ctx, num, r, urls)
		if entry.FailedAt != nil {
			progress.FailedBatches = append(progress.FailedBatches, entry)
			o.collector.RecordBatch("failed")
		} else {
			progress.CompletedBatches = append(progress.CompletedBatches, entry)
		}

		if err := o.persistProgress(progress); err != nil {
			o.logger.Error("Failed to persist batch progress", zap.Error(err))
		}

		if num < len(ranges) {
			o.sleep(ctx, o.cfg.InterBatchDelay)
		}
	}

	return progress, nil
}

// runBatch runs one batch through the Running/Recovering state machine.
func (o *Orchestrator) runBatch(ctx context.Context, num int, r loader.Range, urls []string) types.BatchEntry {
	started := time.Now()
	entry := types.BatchEntry{BatchNumber: num, Range: r.String()}

	result, err := o.runAttempt(ctx, urls, o.cfg.Concurrency)
	if err != nil {
		// Recovering: halve concurrency, wait, retry the same batch once.
		halved := o.cfg.Concurrency / 2
		if halved < 1 {
			halved = 1
		}
		o.logger.Warn("Batch failed, recovering",
			zap.Int("batch", num),
			zap.Int("retryConcurrency", halved),
			zap.Error(err))
		o.sleep(ctx, o.cfg.RecoveryWait)

		result, err = o.runAttempt(ctx, urls, halved)
		if err == nil {
			o.collector.RecordBatch("recovered")
		}
	} else {
		o.collector.RecordBatch("succeeded")
	}

	entry.Duration = types.Duration(time.Since(started))
	now := time.Now().UTC()

	if err != nil {
		entry.FailedAt = &now
		entry.Error = err.Error()
		return entry
	}

	entry.CompletedAt = &now
	entry.Statistics = result.Statistics
	if o.cfg.VerifySkipped && len(result.Skipped) > 0 {
		verification, verr := o.track.VerifyUrls(result.Skipped)
		if verr != nil {
			o.logger.Warn("Skip verification failed", zap.Error(verr))
		} else {
			entry.Statistics.SkipVerification = verification
			if verification.MissingFromDb > 0 {
				o.logger.Warn("Skipped URLs missing from tracker",
					zap.Int("batch", num),
					zap.Int("missing", verification.MissingFromDb))
			}
		}
	}
	return entry
}

// runAttempt bounds one batch attempt by the wall-clock cap. Even a batch
// whose pipeline wedges on a dead browser pool ends here, and the run
// advances to the next batch.
func (o *Orchestrator) runAttempt(ctx context.Context, urls []string, concurrency int) (*pipeline.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.BatchTimeout)
	defer cancel()

	result, err := o.runRange(attemptCtx, urls, concurrency)
	if err == nil && attemptCtx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("batch exceeded wall-clock budget of %s", o.cfg.BatchTimeout)
	}
	return result, err
}

// loadOrInitProgress reuses the existing progress file on resume so earlier
// batch entries survive the restart.
func (o *Orchestrator) loadOrInitProgress() (*types.BatchProgress, error) {
	if o.cfg.ResumeBatch > 1 {
		raw, err := os.ReadFile(o.ProgressPath())
		if err == nil {
			progress := &types.BatchProgress{}
			if jerr := json.Unmarshal(raw, progress); jerr == nil {
				return progress, nil
			}
			o.logger.Warn("Progress file unreadable, starting a fresh record",
				zap.String("file", o.ProgressPath()))
		}
	}

	return &types.BatchProgress{
		StartUrl:  o.cfg.StartURL,
		EndUrl:    o.endURL(),
		BatchSize: o.cfg.BatchSize,
		StartTime: time.Now().UTC(),
	}, nil
}

// persistProgress writes the progress file atomically: a crash between
// batches leaves the previous consistent state on disk.
func (o *Orchestrator) persistProgress(progress *types.BatchProgress) error {
	if err := os.MkdirAll(o.cfg.ProgressDir, 0o755); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}

	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	path := o.ProgressPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}

// Summary renders the end-of-run report with copy-pasteable retry
// invocations for every failed batch.
func Summary(progress *types.BatchProgress) string {
	var b strings.Builder

	total := len(progress.CompletedBatches) + len(progress.FailedBatches)
	fmt.Fprintf(&b, "Batch run %d-%d: %d batches, %d completed, %d failed\n",
		progress.StartUrl, progress.EndUrl, total,
		len(progress.CompletedBatches), len(progress.FailedBatches))

	var processed, skipped, successes, errors, noData int
	for _, e := range progress.CompletedBatches {
		processed += e.Statistics.UrlsProcessed
		skipped += e.Statistics.UrlsSkipped
		successes += e.Statistics.SuccessfulExtractions
		errors += e.Statistics.Errors
		noData += e.Statistics.NoAdTech
	}
	fmt.Fprintf(&b, "Processed: %d  Skipped: %d  Extracted: %d  Errors: %d  No ad tech: %d\n",
		processed, skipped, successes, errors, noData)

	if len(progress.FailedBatches) > 0 {
		b.WriteString("\nFailed batches, retry with:\n")
		for _, e := range progress.FailedBatches {
			fmt.Fprintf(&b, "  adscan scan --range \"%s\"  # batch %d: %s\n",
				e.Range, e.BatchNumber, e.Error)
		}
	}
	return b.String()
}

// sliceRange cuts the 1-based inclusive range out of the full list.
func sliceRange(fullList []string, r loader.Range) []string {
	start, end := r.Start, r.End
	if start < 1 {
		start = 1
	}
	if end > len(fullList) {
		end = len(fullList)
	}
	if start > len(fullList) || end < start {
		return nil
	}
	return fullList[start-1 : end]
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
