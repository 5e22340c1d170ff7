package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileClassification(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		kind    Kind
	}{
		{"exact", "doubleclick.net", KindExact},
		{"wildcard", "*doubleclick.net*", KindWildcard},
		{"wildcard middle", "ads*.example.com", KindWildcard},
		{"regexp", "~^https://ads\\.", KindRegexp},
		{"regexp ci", "~*tracking|analytics", KindRegexp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, p.Kind)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("")
	assert.Error(t, err)

	_, err = Compile("~[invalid")
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		want    bool
	}{
		{"exact match", "example.com", "example.com", true},
		{"exact case-insensitive", "example.com", "EXAMPLE.COM", true},
		{"exact no substring", "example.com", "www.example.com", false},
		{"wildcard substring", "*analytics.com*", "https://www.google-analytics.com/ga.js", true},
		{"wildcard miss", "*analytics.com*", "https://example.com/", false},
		{"wildcard suffix", "*.pdf", "document.pdf", true},
		{"wildcard multi", "*/ads/*", "https://example.com/ads/banner.js", true},
		{"catch-all", "*", "anything", true},
		{"regexp case-sensitive", "~^Ads", "ads.example.com", false},
		{"regexp ci", "~*^ads", "ADS.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.input))
		})
	}
}

func TestMatchWildcardOrdering(t *testing.T) {
	assert.True(t, MatchWildcard("a-b-c", "a*b*c"))
	assert.False(t, MatchWildcard("a-c-b", "a*b*c"))
}

func TestNilPattern(t *testing.T) {
	var p *Pattern
	assert.False(t, p.Match("anything"))
}
