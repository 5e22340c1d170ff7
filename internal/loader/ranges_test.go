package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSelect(t *testing.T) {
	logger := zap.NewNop()
	urls := []string{"a", "b", "c", "d"}

	tests := []struct {
		name  string
		r     string
		want  []string
	}{
		{"empty range passes through", "", urls},
		{"closed range", "1-3", []string{"a", "b", "c"}},
		{"open end", "3-", []string{"c", "d"}},
		{"open start", "-2", []string{"a", "b"}},
		{"end beyond list clamps", "2-100", []string{"b", "c", "d"}},
		{"start beyond list selects nothing", "5-8", nil},
		{"inverted runs to end", "3-1", []string{"c", "d"}},
		{"zero start clamps", "0-2", []string{"a", "b"}},
		{"invalid passes through", "abc-def", urls},
		{"single position", "2-2", []string{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(urls, tt.r, logger))
		})
	}
}

func TestSelectEmptyList(t *testing.T) {
	logger := zap.NewNop()
	assert.Empty(t, Select(nil, "1000000-", logger))
	assert.Empty(t, Select(nil, "-5", logger))
	assert.Empty(t, Select(nil, "0-0", logger))
}

func TestSelectDeterministic(t *testing.T) {
	logger := zap.NewNop()
	urls := []string{"a", "b", "c", "d", "e"}
	first := Select(urls, "2-4", logger)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Select(urls, "2-4", logger))
	}
}

func TestParseRange(t *testing.T) {
	start, end, hasEnd, err := ParseRange("5-10")
	assert.NoError(t, err)
	assert.Equal(t, 5, start)
	assert.Equal(t, 10, end)
	assert.True(t, hasEnd)

	start, _, hasEnd, err = ParseRange("7-")
	assert.NoError(t, err)
	assert.Equal(t, 7, start)
	assert.False(t, hasEnd)

	start, end, hasEnd, err = ParseRange("-3")
	assert.NoError(t, err)
	assert.Equal(t, 1, start)
	assert.Equal(t, 3, end)
	assert.True(t, hasEnd)

	_, _, _, err = ParseRange("nope")
	assert.Error(t, err)
}

func TestSplitBatches(t *testing.T) {
	batches := SplitBatches(1, 10, 4)
	assert.Equal(t, []Range{{1, 4}, {5, 8}, {9, 10}}, batches)

	batches = SplitBatches(101, 6, 3)
	assert.Equal(t, []Range{{101, 103}, {104, 106}}, batches)

	assert.Nil(t, SplitBatches(1, 0, 4))
	assert.Nil(t, SplitBatches(1, 10, 0))
}

func TestRangeLen(t *testing.T) {
	assert.Equal(t, 4, Range{1, 4}.Len())
	assert.Equal(t, 1, Range{7, 7}.Len())
	assert.Equal(t, 0, Range{5, 3}.Len())
}
