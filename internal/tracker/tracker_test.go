package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adscan/adscan/pkg/types"
)

func openTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func errorResult(url, code string) types.TaskResult {
	return types.TaskResult{Kind: types.TaskError, URL: url, Code: code}
}

func TestMarkSuccessIsProcessed(t *testing.T) {
	tr := openTestTracker(t)

	done, err := tr.IsProcessed("https://example.com")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://example.com"}))

	done, err = tr.IsProcessed("https://example.com")
	require.NoError(t, err)
	assert.True(t, done)

	// Canonical equivalence: same URL in another spelling.
	done, err = tr.IsProcessed("HTTPS://EXAMPLE.COM/")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestTransientErrorIsRetryable(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(errorResult("https://slow.com", types.CodeTimeout)))

	done, err := tr.IsProcessed("https://slow.com")
	require.NoError(t, err)
	assert.False(t, done)

	unprocessed, err := tr.FilterUnprocessed([]string{"https://slow.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://slow.com"}, unprocessed)
}

func TestPermanentErrorSticks(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(errorResult("https://dead.com", types.CodeDNSResolutionFailed)))

	done, err := tr.IsProcessed("https://dead.com")
	require.NoError(t, err)
	assert.True(t, done)

	// A later transient error must not downgrade it.
	require.NoError(t, tr.MarkResult(errorResult("https://dead.com", types.CodeTimeout)))
	done, err = tr.IsProcessed("https://dead.com")
	require.NoError(t, err)
	assert.True(t, done)

	// A forced success replaces it.
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://dead.com"}))
	stats, err := tr.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats[types.StatusSuccess])
	assert.Equal(t, 0, stats[types.StatusErrorPermanent])
}

func TestSuccessErasesTransient(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(errorResult("https://flaky.com", types.CodeConnReset)))
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://flaky.com"}))

	stats, err := tr.GetStats()
	require.NoError(t, err)
	assert.Equal(t, map[types.UrlStatus]int{types.StatusSuccess: 1}, stats)
}

func TestSuccessIsFinal(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://done.com"}))
	require.NoError(t, tr.MarkResult(errorResult("https://done.com", types.CodeTimeout)))
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskNoData, URL: "https://done.com"}))

	stats, err := tr.GetStats()
	require.NoError(t, err)
	assert.Equal(t, map[types.UrlStatus]int{types.StatusSuccess: 1}, stats)
}

func TestFilterUnprocessedPreservesOrder(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskNoData, URL: "https://b.com"}))

	unprocessed, err := tr.FilterUnprocessed([]string{"https://a.com", "https://b.com", "https://c.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.com", "https://c.com"}, unprocessed)
}

func TestFilterUnprocessedMixedStatuses(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://done.com"}))
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskNoData, URL: "https://empty.com"}))
	transient := types.DetailedError{
		Category: types.CategoryTimeout,
		Code:     types.CodeTimeout,
		URL:      "https://retry.com",
	}
	require.NoError(t, tr.MarkResult(types.NewErrorResult(&transient)))

	// One pass over the store: terminal states drop out, a transient error
	// stays in, and an uncanonicalizable URL passes through untouched for
	// the validator to reject.
	unprocessed, err := tr.FilterUnprocessed([]string{
		"https://done.com", "https://retry.com", "://bad url", "https://empty.com", "https://fresh.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://retry.com", "://bad url", "https://fresh.com"}, unprocessed)
}

func TestAnalyzeRange(t *testing.T) {
	tr := openTestTracker(t)
	list := []string{"https://a.com", "https://b.com", "https://c.com", "https://d.com"}

	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://a.com"}))
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://b.com"}))

	analysis, err := tr.AnalyzeRange(1, 4, list)
	require.NoError(t, err)
	assert.Equal(t, 4, analysis.TotalInRange)
	assert.Equal(t, 2, analysis.ProcessedCount)
	assert.Equal(t, 2, analysis.UnprocessedCount)
	assert.InDelta(t, 50.0, analysis.ProcessedPercentage, 0.001)
	assert.False(t, analysis.IsFullyProcessed)

	analysis, err = tr.AnalyzeRange(1, 2, list)
	require.NoError(t, err)
	assert.True(t, analysis.IsFullyProcessed)
}

func TestSuggestNextRanges(t *testing.T) {
	tr := openTestTracker(t)
	list := []string{
		"https://a.com", "https://b.com", // window 1-2: fully processed
		"https://c.com", "https://d.com", // window 3-4: half processed
		"https://e.com", "https://f.com", // window 5-6: untouched
	}
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://a.com"}))
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://b.com"}))
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://c.com"}))

	suggestions, err := tr.SuggestNextRanges(list, 2, 5)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, 5, suggestions[0].Start)
	assert.Equal(t, 6, suggestions[0].End)
	assert.Equal(t, 2, suggestions[0].UnprocessedCount)
	assert.Equal(t, 3, suggestions[1].Start)
	assert.Equal(t, 1, suggestions[1].UnprocessedCount)
}

func TestVerifyUrls(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://known.com"}))

	v, err := tr.VerifyUrls([]string{"https://known.com", "https://unknown.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, v.FoundInDb)
	assert.Equal(t, 1, v.MissingFromDb)
	assert.Equal(t, []string{"https://unknown.com"}, v.MissingUrls)
}

func TestReset(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://a.com"}))
	require.NoError(t, tr.Reset())

	done, err := tr.IsProcessed("https://a.com")
	require.NoError(t, err)
	assert.False(t, done)

	stats, err := tr.GetStats()
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestAttemptsIncrement(t *testing.T) {
	tr := openTestTracker(t)

	require.NoError(t, tr.MarkResult(errorResult("https://flaky.com", types.CodeTimeout)))
	require.NoError(t, tr.MarkResult(errorResult("https://flaky.com", types.CodeTimeout)))
	require.NoError(t, tr.MarkResult(types.TaskResult{Kind: types.TaskSuccess, URL: "https://flaky.com"}))

	var record UrlRecord
	require.NoError(t, tr.store.Get("https://flaky.com", &record))
	assert.Equal(t, uint(3), record.Attempts)
	assert.Equal(t, types.StatusSuccess, record.Status)
}

func TestImportExistingResultsRoundTrip(t *testing.T) {
	tr := openTestTracker(t)

	storeRoot := t.TempDir()
	monthDir := filepath.Join(storeRoot, "Jan-2026")
	require.NoError(t, os.MkdirAll(monthDir, 0o755))

	entries := []types.PageData{
		{URL: "https://a.com", Date: "2026-01-05", Libraries: []string{"prebid.js"}},
		{URL: "https://b.com", Date: "2026-01-05", Libraries: []string{"googletag"}},
	}
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(monthDir, "2026-01-05.json"), data, 0o644))

	// A broken file is skipped, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(monthDir, "broken.json"), []byte("{not json"), 0o644))

	imported, err := tr.ImportExistingResults(storeRoot)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	stats, err := tr.GetStats()
	require.NoError(t, err)
	assert.Equal(t, map[types.UrlStatus]int{types.StatusSuccess: 2}, stats)
}
