// Package tracker owns the persistent URL-state store. It is the single
// writer: all other components go through its operations, keyed on the
// canonical URL form.
package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/adscan/adscan/internal/classify"
	"github.com/adscan/adscan/internal/common/urlutil"
	"github.com/adscan/adscan/pkg/types"
)

// UrlRecord is the stored state of one canonical URL.
type UrlRecord struct {
	URL         string          `json:"url"`
	Status      types.UrlStatus `json:"status"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	Attempts    uint            `json:"attempts"`
	FirstSeen   time.Time       `json:"firstSeen"`
	LastAttempt time.Time       `json:"lastAttempt"`
}

// processed reports whether this record counts as done for skip purposes.
func (r *UrlRecord) processed() bool {
	switch r.Status {
	case types.StatusSuccess, types.StatusNoData, types.StatusErrorPermanent:
		return true
	}
	return false
}

// RangeAnalysis summarizes tracker coverage of a 1-based range slice.
type RangeAnalysis struct {
	TotalInRange        int     `json:"totalInRange"`
	ProcessedCount      int     `json:"processedCount"`
	UnprocessedCount    int     `json:"unprocessedCount"`
	ProcessedPercentage float64 `json:"processedPercentage"`
	IsFullyProcessed    bool    `json:"isFullyProcessed"`
}

// RangeSuggestion is a candidate window for the next run.
type RangeSuggestion struct {
	Start            int     `json:"start"`
	End              int     `json:"end"`
	UnprocessedCount int     `json:"unprocessedCount"`
	UnprocessedShare float64 `json:"unprocessedShare"`
}

// Tracker is the persistent URL dedup store, backed by an embedded
// badgerhold database. Safe for concurrent use.
type Tracker struct {
	store  *badgerhold.Store
	logger *zap.Logger
}

// Open opens (or creates) the tracker store at path.
func Open(path string, logger *zap.Logger) (*Tracker, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tracker directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(path).
		WithLogger(nil).
		WithNumVersionsToKeep(1)

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker store at %s: %w", path, err)
	}

	return &Tracker{store: store, logger: logger}, nil
}

func (t *Tracker) Close() error {
	return t.store.Close()
}

// IsProcessed reports whether the URL is terminally done: success, no_data
// or a permanent error.
func (t *Tracker) IsProcessed(rawURL string) (bool, error) {
	key, err := urlutil.Canonicalize(rawURL)
	if err != nil {
		return false, err
	}

	var record UrlRecord
	err = t.store.Get(key, &record)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tracker read for %s: %w", key, err)
	}
	return record.processed(), nil
}

// FilterUnprocessed returns the subset of urls not yet terminally
// processed, preserving input order. URLs that fail canonicalization pass
// through so the validator can reject them with a proper reason. All
// lookups share one read transaction so a large range sees a consistent
// snapshot.
func (t *Tracker) FilterUnprocessed(urls []string) ([]string, error) {
	var out []string
	err := t.store.Badger().View(func(tx *badger.Txn) error {
		for _, u := range urls {
			key, cerr := urlutil.Canonicalize(u)
			if cerr != nil {
				out = append(out, u)
				continue
			}

			var record UrlRecord
			gerr := t.store.TxGet(tx, key, &record)
			if gerr == badgerhold.ErrNotFound {
				out = append(out, u)
				continue
			}
			if gerr != nil {
				return fmt.Errorf("tracker read for %s: %w", key, gerr)
			}
			if !record.processed() {
				out = append(out, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkResult records the terminal outcome of one task.
//
// Status rules: success and no_data are written at most once and erase a
// prior transient error. A permanent error is sticky: later errors do not
// downgrade it, only a forced success/no_data (or Reset) replaces it.
// Transient errors never overwrite a terminal state.
func (t *Tracker) MarkResult(result types.TaskResult) error {
	key, err := urlutil.Canonicalize(result.URL)
	if err != nil {
		return fmt.Errorf("cannot track unparseable URL %q: %w", result.URL, err)
	}

	status, code := statusFor(result)

	now := time.Now().UTC()
	record := UrlRecord{URL: key, FirstSeen: now}

	err = t.store.Get(key, &record)
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("tracker read for %s: %w", key, err)
	}

	if !transitionAllowed(record.Status, status) {
		t.logger.Debug("Tracker keeping existing terminal state",
			zap.String("url", key),
			zap.String("existing", string(record.Status)),
			zap.String("ignored", string(status)))
		return nil
	}

	record.Status = status
	record.ErrorCode = code
	record.Attempts++
	record.LastAttempt = now

	if err := t.store.Upsert(key, record); err != nil {
		return fmt.Errorf("tracker write for %s: %w", key, err)
	}
	return nil
}

// transitionAllowed encodes the status lattice: terminal success/no_data
// beat everything, permanent errors beat transient ones.
func transitionAllowed(existing, next types.UrlStatus) bool {
	switch existing {
	case "":
		return true
	case types.StatusSuccess, types.StatusNoData:
		return false
	case types.StatusErrorPermanent:
		return next == types.StatusSuccess || next == types.StatusNoData
	default: // error_transient
		return true
	}
}

func statusFor(result types.TaskResult) (types.UrlStatus, string) {
	switch result.Kind {
	case types.TaskSuccess:
		return types.StatusSuccess, ""
	case types.TaskNoData:
		return types.StatusNoData, ""
	default:
		if classify.IsPermanentCode(result.Code) {
			return types.StatusErrorPermanent, result.Code
		}
		return types.StatusErrorTransient, result.Code
	}
}

// GetStats returns record counts per status.
func (t *Tracker) GetStats() (map[types.UrlStatus]int, error) {
	stats := make(map[types.UrlStatus]int)
	err := t.store.ForEach(badgerhold.Where("URL").Ne(""), func(record *UrlRecord) error {
		stats[record.Status]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tracker stats scan: %w", err)
	}
	return stats, nil
}

// AnalyzeRange reports processed coverage of positions [start, end] of
// fullList (1-based inclusive, clamped to list bounds).
func (t *Tracker) AnalyzeRange(start, end int, fullList []string) (*RangeAnalysis, error) {
	if start < 1 {
		start = 1
	}
	if end > len(fullList) {
		end = len(fullList)
	}

	analysis := &RangeAnalysis{}
	if start > end {
		analysis.IsFullyProcessed = true
		return analysis, nil
	}

	for _, u := range fullList[start-1 : end] {
		analysis.TotalInRange++
		done, err := t.IsProcessed(u)
		if err != nil {
			return nil, err
		}
		if done {
			analysis.ProcessedCount++
		} else {
			analysis.UnprocessedCount++
		}
	}

	analysis.ProcessedPercentage = float64(analysis.ProcessedCount) / float64(analysis.TotalInRange) * 100
	analysis.IsFullyProcessed = analysis.UnprocessedCount == 0
	return analysis, nil
}

// SuggestNextRanges scans fullList in windows of windowSize and returns the
// k windows with the most unprocessed URLs, best first.
func (t *Tracker) SuggestNextRanges(fullList []string, windowSize, k int) ([]RangeSuggestion, error) {
	if windowSize <= 0 || k <= 0 || len(fullList) == 0 {
		return nil, nil
	}

	var suggestions []RangeSuggestion
	for start := 1; start <= len(fullList); start += windowSize {
		end := start + windowSize - 1
		if end > len(fullList) {
			end = len(fullList)
		}

		unprocessed := 0
		for _, u := range fullList[start-1 : end] {
			done, err := t.IsProcessed(u)
			if err != nil {
				return nil, err
			}
			if !done {
				unprocessed++
			}
		}
		if unprocessed == 0 {
			continue
		}

		total := end - start + 1
		suggestions = append(suggestions, RangeSuggestion{
			Start:            start,
			End:              end,
			UnprocessedCount: unprocessed,
			UnprocessedShare: float64(unprocessed) / float64(total),
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].UnprocessedShare > suggestions[j].UnprocessedShare
	})
	if len(suggestions) > k {
		suggestions = suggestions[:k]
	}
	return suggestions, nil
}

// maxMissingReported bounds the missing-URL sample in VerifyUrls output.
const maxMissingReported = 20

// VerifyUrls cross-checks a batch's skip claims: every URL the pipeline
// skipped as processed should have a tracker record.
func (t *Tracker) VerifyUrls(urls []string) (*types.SkipVerification, error) {
	v := &types.SkipVerification{}
	for _, u := range urls {
		key, err := urlutil.Canonicalize(u)
		if err != nil {
			continue
		}

		var record UrlRecord
		err = t.store.Get(key, &record)
		switch {
		case err == badgerhold.ErrNotFound:
			v.MissingFromDb++
			if len(v.MissingUrls) < maxMissingReported {
				v.MissingUrls = append(v.MissingUrls, key)
			}
		case err != nil:
			return nil, fmt.Errorf("tracker read for %s: %w", key, err)
		default:
			v.FoundInDb++
		}
	}
	return v, nil
}

// Reset deletes all records.
func (t *Tracker) Reset() error {
	err := t.store.DeleteMatching(&UrlRecord{}, badgerhold.Where("URL").Ne(""))
	if err != nil {
		return fmt.Errorf("tracker reset: %w", err)
	}
	t.logger.Info("Tracker store reset")
	return nil
}

// ImportExistingResults seeds the tracker by scanning PageData JSON files
// under storeRoot and marking each URL as success. Returns the number of
// URLs imported.
func (t *Tracker) ImportExistingResults(storeRoot string) (int, error) {
	imported := 0

	err := filepath.WalkDir(storeRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		urls, err := readPageDataURLs(path)
		if err != nil {
			t.logger.Warn("Skipping unreadable results file",
				zap.String("file", path), zap.Error(err))
			return nil
		}

		for _, u := range urls {
			res := types.TaskResult{Kind: types.TaskSuccess, URL: u}
			if err := t.MarkResult(res); err != nil {
				t.logger.Warn("Failed to import URL",
					zap.String("url", u), zap.Error(err))
				continue
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return imported, fmt.Errorf("import scan of %s: %w", storeRoot, err)
	}

	t.logger.Info("Imported existing results into tracker",
		zap.String("store", storeRoot), zap.Int("urls", imported))
	return imported, nil
}
