package chrome

import (
	"strings"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/adscan/adscan/pkg/pattern"
)

// Blocklist decides which network requests a page task aborts before they
// leave the browser. Blocking is by resource type first, then by URL
// pattern. Ad-serving and analytics hosts are deliberately NOT blocked:
// the whole point of the scan is to watch them load.
type Blocklist struct {
	blockedTypes map[network.ResourceType]bool
	patterns     []*pattern.Pattern
	logger       *zap.Logger
}

// NewBlocklist compiles the configured resource types and URL patterns.
// Invalid patterns are logged and skipped rather than failing startup.
func NewBlocklist(resourceTypes []string, urlPatterns []string, logger *zap.Logger) *Blocklist {
	b := &Blocklist{
		blockedTypes: make(map[network.ResourceType]bool, len(resourceTypes)),
		logger:       logger,
	}

	for _, rt := range resourceTypes {
		b.blockedTypes[network.ResourceType(rt)] = true
	}

	for _, p := range urlPatterns {
		compiled, err := pattern.Compile(p)
		if err != nil {
			logger.Warn("Skipping invalid blocklist pattern",
				zap.String("pattern", p),
				zap.Error(err))
			continue
		}
		b.patterns = append(b.patterns, compiled)
	}

	return b
}

// IsBlocked reports whether a paused request should be failed.
func (b *Blocklist) IsBlocked(url string, resourceType network.ResourceType) bool {
	if b == nil {
		return false
	}

	if b.blockedTypes[resourceType] {
		// data: URLs for fonts/images are already in memory, aborting
		// them buys nothing and spams the log.
		if strings.HasPrefix(url, "data:") {
			return false
		}
		return true
	}

	for _, p := range b.patterns {
		if p.Match(url) {
			return true
		}
	}
	return false
}

// PatternCount returns the number of compiled URL patterns.
func (b *Blocklist) PatternCount() int {
	if b == nil {
		return 0
	}
	return len(b.patterns)
}
