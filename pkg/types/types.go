package types

import (
	"time"
)

// UrlStatus is the terminal tracking state of a URL in the tracker store.
type UrlStatus string

const (
	StatusSuccess        UrlStatus = "success"
	StatusNoData         UrlStatus = "no_data"
	StatusErrorTransient UrlStatus = "error_transient"
	StatusErrorPermanent UrlStatus = "error_permanent"
)

// Error categories for DetailedError.Category
const (
	CategoryNetwork    = "network"
	CategorySSL        = "ssl"
	CategoryTimeout    = "timeout"
	CategoryAccess     = "access"
	CategoryContent    = "content"
	CategoryBrowser    = "browser"
	CategoryExtraction = "extraction"
	CategoryOther      = "other"
)

// Processing phases for DetailedError.Phase
const (
	PhasePreflight  = "preflight"
	PhaseNavigation = "navigation"
	PhaseSettle     = "settle"
	PhaseExtraction = "extraction"
	PhaseTeardown   = "teardown"
)

// Stable error codes routed through the tracker and the error sink.
const (
	CodeDNSResolutionFailed  = "DNS_RESOLUTION_FAILED"
	CodeSSLValidationFailed  = "SSL_VALIDATION_FAILED"
	CodeNameNotResolved      = "NAME_NOT_RESOLVED"
	CodeTimeout              = "TIMEOUT"
	CodeHardTimeout          = "HARD_TIMEOUT"
	CodeProtocolError        = "PROTOCOL_ERROR"
	CodeSessionClosed        = "SESSION_CLOSED"
	CodeDetachedFrame        = "DETACHED_FRAME"
	CodePageDetached         = "PAGE_DETACHED"
	CodeConnRefused          = "ECONNREFUSED"
	CodeConnReset            = "ECONNRESET"
	CodeConnTimedOut         = "ETIMEDOUT"
	CodeBrowserCrashNoRetry  = "BROWSER_CRASH_NO_RETRY"
	CodeMainFrameError       = "PUPPETEER_MAIN_FRAME_ERROR"
	CodeMaxRetriesExceeded   = "MAX_RETRIES_EXCEEDED"
	CodeInvalidDomain        = "INVALID_DOMAIN"
	CodeUnknownProcessing    = "UNKNOWN_PROCESSING_ERROR"
	CodeURLSourceUnavailable = "URL_SOURCE_UNAVAILABLE"
)

// PrebidInstance describes a single Prebid.js binding found on a page.
// Modules preserve the order reported by the page.
type PrebidInstance struct {
	GlobalVarName string   `json:"globalVarName"`
	Version       string   `json:"version"`
	Modules       []string `json:"modules"`
}

// CMPInfo captures consent-management state observed on the page.
type CMPInfo struct {
	Name          string `json:"name,omitempty"`
	Version       string `json:"version,omitempty"`
	TCFVersion    string `json:"tcfVersion,omitempty"`
	GDPRApplies   *bool  `json:"gdprApplies,omitempty"`
	CCPAApplies   *bool  `json:"ccpaApplies,omitempty"`
	ConsentString string `json:"consentString,omitempty"`
}

// ToolMetadata carries extraction-side diagnostics, not page content.
type ToolMetadata struct {
	// PrebidInitStates maps a Prebid global name to "complete", "partial"
	// or "queue" depending on how far its initialization had progressed.
	PrebidInitStates map[string]string `json:"prebidInitStates,omitempty"`
}

// PageData is the structured record extracted from one page.
// URL is canonical; Date is the extraction day (YYYY-MM-DD).
type PageData struct {
	URL               string           `json:"url"`
	Date              string           `json:"date"`
	Libraries         []string         `json:"libraries"`
	PrebidInstances   []PrebidInstance `json:"prebidInstances,omitempty"`
	IdentitySolutions []string         `json:"identitySolutions,omitempty"`
	CDPPlatforms      []string         `json:"cdpPlatforms,omitempty"`
	CMPInfo           *CMPInfo         `json:"cmpInfo,omitempty"`
	UnknownAdTech     []string         `json:"unknownAdTech,omitempty"`
	ToolMetadata      *ToolMetadata    `json:"toolMetadata,omitempty"`
}

// HasAdTech reports whether the page yielded any ad-tech signal.
// This is the success/no_data boundary: a result is a success iff at
// least one library or Prebid instance was found.
func (p *PageData) HasAdTech() bool {
	return len(p.Libraries) > 0 || len(p.PrebidInstances) > 0
}

// DetailedError is the classified form of a raw task failure.
type DetailedError struct {
	Category    string    `json:"category"`
	SubCategory string    `json:"subCategory"`
	Phase       string    `json:"phase"`
	Code        string    `json:"code"`
	URL         string    `json:"url"`
	Timestamp   time.Time `json:"timestamp"`
	Message     string    `json:"message"`
}

// TaskResultKind discriminates the TaskResult union.
type TaskResultKind int

const (
	// TaskSuccess carries extracted PageData with ad tech present.
	TaskSuccess TaskResultKind = iota
	// TaskNoData means the page rendered but exposed no ad tech.
	TaskNoData
	// TaskError means the task failed; Code/Detailed describe how.
	TaskError
)

// String returns the string representation of TaskResultKind.
func (k TaskResultKind) String() string {
	switch k {
	case TaskSuccess:
		return "success"
	case TaskNoData:
		return "no_data"
	case TaskError:
		return "error"
	default:
		return "unknown"
	}
}

// TaskResult is the outcome of one page task. Exactly one of the
// constructors below produces it; consumers switch on Kind.
type TaskResult struct {
	Kind     TaskResultKind
	URL      string
	Data     *PageData      // set when Kind == TaskSuccess
	Code     string         // set when Kind == TaskError
	Message  string         // set when Kind == TaskError
	Detailed *DetailedError // set when Kind == TaskError, nil for pre-classified skips
}

// NewSuccessResult builds a success result around extracted page data.
func NewSuccessResult(data *PageData) TaskResult {
	return TaskResult{Kind: TaskSuccess, URL: data.URL, Data: data}
}

// NewNoDataResult builds a no-ad-tech result for a URL.
func NewNoDataResult(url string) TaskResult {
	return TaskResult{Kind: TaskNoData, URL: url}
}

// NewErrorResult builds an error result from a classified failure.
func NewErrorResult(detailed *DetailedError) TaskResult {
	return TaskResult{
		Kind:     TaskError,
		URL:      detailed.URL,
		Code:     detailed.Code,
		Message:  detailed.Message,
		Detailed: detailed,
	}
}

// PreflightResult records the outcome of the DNS/TLS checks for one URL.
type PreflightResult struct {
	URL        string   `json:"url"`
	PassedDNS  bool     `json:"passedDNS"`
	PassedSSL  bool     `json:"passedSSL"`
	SkipReason string   `json:"skipReason,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// BatchStatistics summarizes one batch of the orchestrator.
type BatchStatistics struct {
	UrlsProcessed         int               `json:"urlsProcessed"`
	UrlsSkipped           int               `json:"urlsSkipped"`
	SuccessfulExtractions int               `json:"successfulExtractions"`
	Errors                int               `json:"errors"`
	NoAdTech              int               `json:"noAdTech"`
	SkipVerification      *SkipVerification `json:"skipVerification,omitempty"`
}

// SkipVerification cross-checks skip claims against the tracker store.
type SkipVerification struct {
	FoundInDb     int      `json:"foundInDb"`
	MissingFromDb int      `json:"missingFromDb"`
	MissingUrls   []string `json:"missingUrls,omitempty"`
}

// BatchEntry records one completed or failed batch.
type BatchEntry struct {
	BatchNumber int             `json:"batchNumber"`
	Range       string          `json:"range"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	FailedAt    *time.Time      `json:"failedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	Duration    Duration        `json:"duration"`
	Statistics  BatchStatistics `json:"statistics"`
}

// BatchProgress is the persisted state of a batch-mode run. It survives
// process crashes so an interrupted run resumes at the next batch.
type BatchProgress struct {
	StartUrl         int          `json:"startUrl"`
	EndUrl           int          `json:"endUrl"`
	BatchSize        int          `json:"batchSize"`
	StartTime        time.Time    `json:"startTime"`
	CompletedBatches []BatchEntry `json:"completedBatches"`
	FailedBatches    []BatchEntry `json:"failedBatches"`
}
