package batch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adscan/adscan/internal/pipeline"
	"github.com/adscan/adscan/pkg/types"
)

type rangeCall struct {
	urls        []string
	concurrency int
}

// scriptedRunner records runRange calls and fails the batches its script
// names, once or persistently.
type scriptedRunner struct {
	mu        sync.Mutex
	calls     []rangeCall
	failFirst map[string]bool // key: first URL of the slice, fail one time
	failHard  map[string]bool // fail every time
}

func (s *scriptedRunner) run(ctx context.Context, urls []string, concurrency int) (*pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rangeCall{urls: urls, concurrency: concurrency})

	key := ""
	if len(urls) > 0 {
		key = urls[0]
	}
	if s.failHard[key] {
		return nil, errors.New("pool crashed")
	}
	if s.failFirst[key] {
		s.failFirst[key] = false
		return nil, errors.New("transient pool failure")
	}
	return &pipeline.Result{
		Statistics: types.BatchStatistics{UrlsProcessed: len(urls), SuccessfulExtractions: len(urls)},
	}, nil
}

func urlList(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = "https://site" + string(rune('a'+i)) + ".com/"
	}
	return urls
}

func newOrchestrator(t *testing.T, cfg Config, runner *scriptedRunner) *Orchestrator {
	t.Helper()
	if cfg.ProgressDir == "" {
		cfg.ProgressDir = t.TempDir()
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	o := New(cfg, runner.run, nil, nil, zap.NewNop())
	o.sleep = func(context.Context, time.Duration) {}
	return o
}

func TestRunAllBatchesSucceed(t *testing.T) {
	runner := &scriptedRunner{}
	o := newOrchestrator(t, Config{StartURL: 1, TotalURLs: 10, BatchSize: 4}, runner)

	progress, err := o.Run(context.Background(), urlList(10))
	require.NoError(t, err)

	require.Len(t, progress.CompletedBatches, 3) // 1-4, 5-8, 9-10
	assert.Empty(t, progress.FailedBatches)
	assert.Equal(t, "1-4", progress.CompletedBatches[0].Range)
	assert.Equal(t, "9-10", progress.CompletedBatches[2].Range)
	assert.Len(t, runner.calls[2].urls, 2)
}

func TestRunResumeSkipsCompletedBatches(t *testing.T) {
	runner := &scriptedRunner{}
	o := newOrchestrator(t, Config{StartURL: 1, TotalURLs: 10, BatchSize: 4, ResumeBatch: 2}, runner)

	urls := urlList(10)
	progress, err := o.Run(context.Background(), urls)
	require.NoError(t, err)

	// Batches 2 and 3 cover URLs 5..10; batch 1 is never re-run.
	require.Len(t, runner.calls, 2)
	assert.Equal(t, urls[4:8], runner.calls[0].urls)
	assert.Equal(t, urls[8:10], runner.calls[1].urls)
	require.Len(t, progress.CompletedBatches, 2)
	assert.Equal(t, 2, progress.CompletedBatches[0].BatchNumber)
}

func TestRecoveryHalvesConcurrencyAndRetriesOnce(t *testing.T) {
	urls := urlList(4)
	runner := &scriptedRunner{failFirst: map[string]bool{urls[0]: true}}
	o := newOrchestrator(t, Config{StartURL: 1, TotalURLs: 4, BatchSize: 4, Concurrency: 8}, runner)

	progress, err := o.Run(context.Background(), urls)
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, 8, runner.calls[0].concurrency)
	assert.Equal(t, 4, runner.calls[1].concurrency)
	require.Len(t, progress.CompletedBatches, 1)
	assert.Empty(t, progress.FailedBatches)
}

func TestPersistentFailureRecordedAndLoopContinues(t *testing.T) {
	urls := urlList(8)
	runner := &scriptedRunner{failHard: map[string]bool{urls[0]: true}}
	o := newOrchestrator(t, Config{StartURL: 1, TotalURLs: 8, BatchSize: 4}, runner)

	progress, err := o.Run(context.Background(), urls)
	require.NoError(t, err)

	require.Len(t, progress.FailedBatches, 1)
	assert.Equal(t, 1, progress.FailedBatches[0].BatchNumber)
	assert.Contains(t, progress.FailedBatches[0].Error, "pool crashed")
	require.Len(t, progress.CompletedBatches, 1)
	assert.Equal(t, 2, progress.CompletedBatches[0].BatchNumber)
}

func TestProgressFilePersistedAfterEveryBatch(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{}
	o := newOrchestrator(t, Config{StartURL: 1, TotalURLs: 6, BatchSize: 3, ProgressDir: dir}, runner)

	_, err := o.Run(context.Background(), urlList(6))
	require.NoError(t, err)

	path := filepath.Join(dir, "batch-progress-1-6.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	progress := &types.BatchProgress{}
	require.NoError(t, json.Unmarshal(raw, progress))
	assert.Equal(t, 1, progress.StartUrl)
	assert.Equal(t, 6, progress.EndUrl)
	assert.Len(t, progress.CompletedBatches, 2)
}

func TestWallClockGuardAdvancesPastWedgedBatch(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	// A runner that never returns on its own, like a pipeline stuck on a
	// browser pool with no survivors. Only the attempt deadline frees it.
	run := func(ctx context.Context, urls []string, concurrency int) (*pipeline.Result, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	o := New(Config{
		StartURL:     1,
		TotalURLs:    4,
		BatchSize:    2,
		Concurrency:  4,
		BatchTimeout: 25 * time.Millisecond,
		ProgressDir:  t.TempDir(),
	}, run, nil, nil, zap.NewNop())
	o.sleep = func(context.Context, time.Duration) {}

	progress, err := o.Run(context.Background(), urlList(4))
	require.NoError(t, err)

	require.Len(t, progress.FailedBatches, 2)
	assert.Empty(t, progress.CompletedBatches)

	// Two bounded attempts per batch, then the loop moved on.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, calls)
}

func TestSummaryListsFailedBatchRetries(t *testing.T) {
	now := time.Now()
	progress := &types.BatchProgress{
		StartUrl: 1,
		EndUrl:   100,
		CompletedBatches: []types.BatchEntry{
			{BatchNumber: 1, Range: "1-50", CompletedAt: &now,
				Statistics: types.BatchStatistics{UrlsProcessed: 50, SuccessfulExtractions: 30, Errors: 10, NoAdTech: 10}},
		},
		FailedBatches: []types.BatchEntry{
			{BatchNumber: 2, Range: "51-100", FailedAt: &now, Error: "pool crashed"},
		},
	}

	out := Summary(progress)
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, `--range "51-100"`)
	assert.Contains(t, out, "pool crashed")
	assert.Contains(t, out, "Extracted: 30")
}
