package loader

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Range is a 1-based inclusive slice of the URL sequence.
type Range struct {
	Start int
	End   int
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Len returns the number of positions covered.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// ParseRange parses "a-b", "a-" and "-b" range strings. hasEnd is false
// for the open form "a-"; a missing start means 1.
func ParseRange(s string) (start, end int, hasEnd bool, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, fmt.Errorf("range %q must have the form a-b, a- or -b", s)
	}

	start = 1
	if parts[0] != "" {
		start, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, false, fmt.Errorf("invalid range start %q: %w", parts[0], err)
		}
	}

	if parts[1] != "" {
		end, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, false, fmt.Errorf("invalid range end %q: %w", parts[1], err)
		}
		hasEnd = true
	}

	return start, end, hasEnd, nil
}

// Select applies a 1-based inclusive range over urls.
//
// Degenerate inputs degrade rather than fail: an unparseable range passes
// the sequence through unchanged, a start beyond the list selects nothing,
// and an inverted range (start > end) runs to the end of the list. Each
// case logs a warning.
func Select(urls []string, rangeStr string, logger *zap.Logger) []string {
	if rangeStr == "" {
		return urls
	}

	start, end, hasEnd, err := ParseRange(rangeStr)
	if err != nil {
		logger.Warn("Ignoring invalid range", zap.String("range", rangeStr), zap.Error(err))
		return urls
	}

	n := len(urls)
	if start < 1 {
		logger.Warn("Range start below 1, clamping", zap.String("range", rangeStr))
		start = 1
	}
	if start > n {
		logger.Warn("Range start beyond list, selecting nothing",
			zap.String("range", rangeStr), zap.Int("list_size", n))
		return nil
	}
	if hasEnd && end < start {
		logger.Warn("Range start after end, running to end of list",
			zap.String("range", rangeStr))
		hasEnd = false
	}
	if !hasEnd || end > n {
		end = n
	}

	return urls[start-1 : end]
}

// SplitBatches carves the absolute positions [startURL, startURL+totalURLs-1]
// into consecutive batches of batchSize (last one may be shorter).
func SplitBatches(startURL, totalURLs, batchSize int) []Range {
	if totalURLs <= 0 || batchSize <= 0 {
		return nil
	}

	var batches []Range
	for offset := 0; offset < totalURLs; offset += batchSize {
		end := offset + batchSize
		if end > totalURLs {
			end = totalURLs
		}
		batches = append(batches, Range{
			Start: startURL + offset,
			End:   startURL + end - 1,
		})
	}
	return batches
}
