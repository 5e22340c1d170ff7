// Package validate performs cheap syntactic URL rejection ahead of the
// DNS/TLS preflight, so obviously hopeless candidates never cost a lookup.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/adscan/adscan/internal/common/urlutil"
	"github.com/adscan/adscan/pkg/pattern"
)

// reservedTLDs are special-use top-level domains that can never resolve
// on the public internet (RFC 2606, RFC 6762).
var reservedTLDs = map[string]struct{}{
	"test":      {},
	"example":   {},
	"invalid":   {},
	"localhost": {},
	"local":     {},
	"internal":  {},
}

// DomainValidator rejects malformed or clearly non-crawlable URLs.
type DomainValidator struct {
	allowIPLiterals bool
	blocklist       []*pattern.Pattern
}

// New compiles the blocklist patterns and returns a validator.
func New(allowIPLiterals bool, blocklist []string) (*DomainValidator, error) {
	v := &DomainValidator{allowIPLiterals: allowIPLiterals}
	for _, raw := range blocklist {
		p, err := pattern.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("blocklist entry %q: %w", raw, err)
		}
		v.blocklist = append(v.blocklist, p)
	}
	return v, nil
}

// Check returns nil if the URL is worth sending to preflight, or an error
// describing why it was rejected.
func (v *DomainValidator) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL has no host")
	}

	host := strings.ToLower(urlutil.ExtractHostname(parsed.Host))

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		if !v.allowIPLiterals {
			return fmt.Errorf("IP literal host %q not allowed", host)
		}
	} else {
		labels := strings.Split(strings.TrimSuffix(host, "."), ".")
		if len(labels) < 2 {
			return fmt.Errorf("host %q has fewer than 2 labels", host)
		}
		for _, label := range labels {
			if label == "" {
				return fmt.Errorf("host %q has an empty label", host)
			}
		}
		tld := labels[len(labels)-1]
		if _, reserved := reservedTLDs[tld]; reserved {
			return fmt.Errorf("reserved TLD .%s", tld)
		}
	}

	for _, p := range v.blocklist {
		if p.Match(host) || p.Match(rawURL) {
			return fmt.Errorf("URL matches blocklist pattern %q", p.Original)
		}
	}

	return nil
}

// Filter splits urls into accepted and rejected (with reasons), preserving
// input order.
func (v *DomainValidator) Filter(urls []string) (accepted []string, rejected map[string]error) {
	rejected = make(map[string]error)
	for _, u := range urls {
		if err := v.Check(u); err != nil {
			rejected[u] = err
			continue
		}
		accepted = append(accepted, u)
	}
	return accepted, rejected
}
