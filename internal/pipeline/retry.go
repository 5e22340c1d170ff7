package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adscan/adscan/internal/chrome"
	"github.com/adscan/adscan/internal/classify"
	"github.com/adscan/adscan/pkg/types"
)

// retryPassMaxConcurrency caps the relaxed pass so slow sites get the
// bandwidth they timed out for the first time.
const retryPassMaxConcurrency = 3

// relaxedOptions doubles the navigation budget and triples the hard
// budget for the retry pass.
func relaxedOptions(base chrome.TaskOptions) chrome.TaskOptions {
	relaxed := base
	relaxed.SoftTimeout = base.SoftTimeout * 2
	relaxed.HardTimeout = base.HardTimeout * 3
	return relaxed
}

// retryTimeouts reruns the timeout-category failures of a batch once under
// relaxed settings. Each retried URL's new outcome replaces the original;
// every other result passes through untouched.
func (p *Pipeline) retryTimeouts(ctx context.Context, results []types.TaskResult) []types.TaskResult {
	var retryIdx []int
	for i, r := range results {
		if r.Kind == types.TaskError && classify.IsTimeoutCode(r.Code) {
			retryIdx = append(retryIdx, i)
		}
	}
	if len(retryIdx) == 0 {
		return results
	}

	concurrency := p.cfg.Concurrency
	if concurrency > retryPassMaxConcurrency {
		concurrency = retryPassMaxConcurrency
	}
	opts := relaxedOptions(p.cfg.TaskOptions)

	p.logger.Info("Running timeout retry pass",
		zap.Int("urls", len(retryIdx)),
		zap.Int("concurrency", concurrency),
		zap.Duration("softTimeout", opts.SoftTimeout))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, i := range retryIdx {
		i := i
		g.Go(func() error {
			results[i] = p.runner.Run(gctx, results[i].URL, opts)
			return nil
		})
	}
	_ = g.Wait()

	recovered := 0
	for _, i := range retryIdx {
		if results[i].Kind != types.TaskError {
			recovered++
		}
	}
	p.logger.Info("Timeout retry pass finished",
		zap.Int("retried", len(retryIdx)),
		zap.Int("recovered", recovered))
	return results
}
