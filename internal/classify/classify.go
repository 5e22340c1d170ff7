// Package classify maps raw browser and network errors onto the finite
// error taxonomy. Classification is a pure function of the raw message,
// so identical failures always land in the same category file.
package classify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adscan/adscan/pkg/types"
)

var certCodeRe = regexp.MustCompile(`net::(ERR_CERT_[A-Z_]+)`)

// matcher maps a raw-message predicate to a taxonomy entry. First match wins.
type matcher struct {
	match       func(msg string) bool
	category    string
	subCategory string
	code        string
}

func contains(substrings ...string) func(string) bool {
	return func(msg string) bool {
		for _, s := range substrings {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

var matchers = []matcher{
	{contains("net::ERR_NAME_NOT_RESOLVED"), types.CategoryNetwork, "dns", types.CodeNameNotResolved},
	{contains("net::ERR_CERT_"), types.CategorySSL, "certificate", ""}, // code extracted from message
	{contains("net::ERR_SSL_", "SSL_ERROR"), types.CategorySSL, "protocol", types.CodeSSLValidationFailed},
	{contains("Requesting main frame too early"), types.CategoryBrowser, "main_frame", types.CodeMainFrameError},
	{contains("Navigation timeout", "navigation timeout"), types.CategoryTimeout, "navigation", types.CodeTimeout},
	{contains("context deadline exceeded", "Timeout", "timeout"), types.CategoryTimeout, "operation", types.CodeTimeout},
	{contains("Protocol error", "protocol error"), types.CategoryBrowser, "protocol", types.CodeProtocolError},
	{contains("Session closed", "Target closed", "target closed", "session closed"), types.CategoryBrowser, "session", types.CodeSessionClosed},
	{contains("Execution context was destroyed"), types.CategoryExtraction, "frame", types.CodeDetachedFrame},
	{contains("detached from the page", "page has been closed"), types.CategoryExtraction, "frame", types.CodePageDetached},
	{contains("net::ERR_CONNECTION_REFUSED", "ECONNREFUSED"), types.CategoryNetwork, "connection", types.CodeConnRefused},
	{contains("net::ERR_CONNECTION_RESET", "ECONNRESET"), types.CategoryNetwork, "connection", types.CodeConnReset},
	{contains("net::ERR_CONNECTION_TIMED_OUT", "net::ERR_TIMED_OUT", "ETIMEDOUT"), types.CategoryNetwork, "connection", types.CodeConnTimedOut},
}

// Classify converts a raw error message into a DetailedError. phase records
// where in the task lifecycle the error surfaced.
func Classify(rawMsg, url string, phase string) types.DetailedError {
	for _, m := range matchers {
		if !m.match(rawMsg) {
			continue
		}
		code := m.code
		if code == "" {
			// ssl/certificate entries carry the concrete Chrome code.
			code = types.CodeSSLValidationFailed
			if groups := certCodeRe.FindStringSubmatch(rawMsg); groups != nil {
				code = groups[1]
			}
		}
		return detailed(m.category, m.subCategory, phase, code, url, rawMsg)
	}

	return detailed(types.CategoryOther, "unknown", phase, types.CodeUnknownProcessing, url, rawMsg)
}

// ClassifyHTTPStatus handles navigations that completed with a bad response.
// Status >= 400 is always an error regardless of what the page body said,
// and every status lands under content/http so all HTTP_<code> failures
// collect in one file. Auth walls classified from error text still route
// to access.
func ClassifyHTTPStatus(status int, url string) types.DetailedError {
	return detailed(types.CategoryContent, "http", types.PhaseNavigation,
		fmt.Sprintf("HTTP_%d", status), url,
		fmt.Sprintf("navigation returned HTTP status %d", status))
}

// ClassifyError is Classify over a Go error.
func ClassifyError(err error, url string, phase string) types.DetailedError {
	if err == nil {
		return detailed(types.CategoryOther, "unknown", phase, types.CodeUnknownProcessing, url, "nil error")
	}
	return Classify(err.Error(), url, phase)
}

// IsPermanentCode reports whether the error code sticks in the tracker:
// retrying will not help without a forced reprocess.
func IsPermanentCode(code string) bool {
	switch code {
	case types.CodeDNSResolutionFailed,
		types.CodeSSLValidationFailed,
		types.CodeNameNotResolved,
		types.CodeInvalidDomain:
		return true
	}
	if strings.HasPrefix(code, "CERT_") || strings.HasPrefix(code, "ERR_CERT_") {
		return true
	}
	// Both 4xx and 5xx pages are treated as properties of the site.
	if strings.HasPrefix(code, "HTTP_") {
		return true
	}
	return false
}

// IsTimeoutCode reports whether a code belongs to the timeout category,
// which drives the relaxed retry pass.
func IsTimeoutCode(code string) bool {
	switch code {
	case types.CodeTimeout, types.CodeHardTimeout, types.CodeConnTimedOut:
		return true
	}
	return false
}

// IsCrashFatal reports whether the code marks a browser fault that must not
// be retried within the same run.
func IsCrashFatal(code string) bool {
	switch code {
	case types.CodeBrowserCrashNoRetry,
		types.CodeMainFrameError,
		types.CodeSessionClosed:
		return true
	}
	return false
}

func detailed(category, sub, phase, code, url, msg string) types.DetailedError {
	return types.DetailedError{
		Category:    category,
		SubCategory: sub,
		Phase:       phase,
		Code:        code,
		URL:         url,
		Timestamp:   time.Now().UTC(),
		Message:     msg,
	}
}
