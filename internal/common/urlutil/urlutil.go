package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize normalizes a URL for dedup and tracker keys: lowercases
// scheme and host, strips default ports, drops the fragment, and removes
// a trailing slash when the path is just "/".
func Canonicalize(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("URL %q has no scheme or host", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	switch {
	case parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80"):
		parsed.Host = strings.TrimSuffix(parsed.Host, ":80")
	case parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443"):
		parsed.Host = strings.TrimSuffix(parsed.Host, ":443")
	}

	parsed.Fragment = ""

	if parsed.Path == "/" && parsed.RawQuery == "" {
		parsed.Path = ""
	}

	return parsed.String(), nil
}

// ExtractHost extracts and lowercases the host (possibly with port) from a
// URL string. Returns empty string if the URL is invalid or has no host.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// ExtractHostname strips the port from a host string. Input is a host
// (NOT a full URL), e.g. "example.com:8080". Bracketed IPv6 literals keep
// their brackets; bare IPv6 addresses are returned unchanged.
func ExtractHostname(host string) string {
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx != -1 {
			return host[:idx+1]
		}
		return host
	}
	// Strip a port only when there is exactly one colon, so bare IPv6
	// addresses like ::1 pass through.
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}
