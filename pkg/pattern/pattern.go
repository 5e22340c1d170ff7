// Package pattern provides the unified pattern matching used by blocklists
// and the domain validator.
//
// Pattern forms:
//
//   - Exact (no prefix): case-insensitive exact match
//     "doubleclick.net" matches "DoubleClick.net"
//
//   - Wildcard (*): case-insensitive, * matches any run of characters
//     "*google-analytics.com*" matches any URL containing the domain
//
//   - Regexp (~): case-sensitive regular expression
//     "~^https?://ads\\." matches "https://ads.example.com/x"
//
//   - Regexp (~*): case-insensitive regular expression
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the matching strategy of a compiled pattern.
type Kind int

const (
	KindExact Kind = iota
	KindWildcard
	KindRegexp
)

// Pattern is a compiled pattern ready for matching.
type Pattern struct {
	Original        string // the pattern string as given
	Kind            Kind
	CaseInsensitive bool // only meaningful for ~* regexps

	clean string         // pattern with any ~ / ~* prefix removed
	re    *regexp.Regexp // nil unless Kind == KindRegexp
}

// detect classifies a pattern string and strips regexp prefixes.
func detect(p string) (Kind, string, bool) {
	switch {
	case strings.HasPrefix(p, "~*"):
		return KindRegexp, p[2:], true
	case strings.HasPrefix(p, "~"):
		return KindRegexp, p[1:], false
	case strings.Contains(p, "*"):
		return KindWildcard, p, false
	default:
		return KindExact, p, false
	}
}

// Compile pre-compiles a pattern. Call once at configuration load; Match
// is then allocation-free for exact and wildcard patterns.
func Compile(p string) (*Pattern, error) {
	if p == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	kind, clean, ci := detect(p)
	compiled := &Pattern{
		Original:        p,
		Kind:            kind,
		CaseInsensitive: ci,
		clean:           clean,
	}

	if kind == KindRegexp {
		expr := clean
		if ci {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern %q: %w", p, err)
		}
		compiled.re = re
	}

	return compiled, nil
}

// Match reports whether input matches the pattern.
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}

	switch p.Kind {
	case KindRegexp:
		return p.re != nil && p.re.MatchString(input)
	case KindWildcard:
		return MatchWildcard(strings.ToLower(input), strings.ToLower(p.clean))
	case KindExact:
		return strings.EqualFold(input, p.clean)
	default:
		return false
	}
}

// MatchWildcard matches text against a pattern where * matches any run of
// characters (including none). Multiple wildcards are supported; matching
// is case-sensitive at this level, callers normalize case.
func MatchWildcard(text, pat string) bool {
	if !strings.Contains(pat, "*") {
		return text == pat
	}

	segments := strings.Split(pat, "*")

	// Anchor the first and last segments.
	first, last := segments[0], segments[len(segments)-1]
	if !strings.HasPrefix(text, first) || !strings.HasSuffix(text[len(first):], last) {
		return false
	}
	text = text[len(first) : len(text)-len(last)]

	// Remaining segments must appear in order.
	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(text, seg)
		if idx < 0 {
			return false
		}
		text = text[idx+len(seg):]
	}
	return true
}
