// Package sink persists scan output: successful PageData into dated JSON
// array files and failures into categorized error files.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adscan/adscan/pkg/types"
)

// Error file names by failure category. CategoryNetwork maps to the
// navigation file because network failures surface during navigation.
var categoryFiles = map[string]string{
	types.CategoryNetwork:    "navigation_errors.txt",
	types.CategorySSL:        "ssl_errors.txt",
	types.CategoryTimeout:    "timeout_errors.txt",
	types.CategoryAccess:     "access_errors.txt",
	types.CategoryContent:    "content_errors.txt",
	types.CategoryBrowser:    "browser_errors.txt",
	types.CategoryExtraction: "extraction_errors.txt",
}

const fallbackErrorFile = "error_processing.txt"
const noPrebidFile = "no_prebid.txt"

// fileHeaders are written once when a file is first created.
var fileHeaders = map[string]string{
	"navigation_errors.txt": "# URLs that failed during navigation (DNS, connection, network)",
	"ssl_errors.txt":        "# URLs that failed TLS certificate validation",
	"timeout_errors.txt":    "# URLs that exceeded navigation or task timeouts",
	"access_errors.txt":     "# URLs that refused access (401/403/429, bot walls)",
	"content_errors.txt":    "# URLs that returned error content (HTTP 4xx/5xx)",
	"browser_errors.txt":    "# URLs that triggered browser-level faults",
	"extraction_errors.txt": "# URLs where the in-page extraction failed",
	fallbackErrorFile:       "# URLs that failed with unclassified errors",
	noPrebidFile:            "# URLs scanned successfully but with no ad tech detected",
}

// Sink owns the dated store file and the error directory. One instance per
// process; appends are serialized internally.
type Sink struct {
	storeDir  string
	errorsDir string
	logger    *zap.Logger

	storeMu sync.Mutex // dated-file read-concat-rewrite
	errMu   sync.Mutex // error-file line appends
	now     func() time.Time
}

// New creates the store and errors directories and seeds the error file
// headers for files that do not exist yet.
func New(storeDir, errorsDir string, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := os.MkdirAll(errorsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create errors directory: %w", err)
	}

	s := &Sink{
		storeDir:  storeDir,
		errorsDir: errorsDir,
		logger:    logger,
		now:       time.Now,
	}

	for name, header := range fileHeaders {
		path := filepath.Join(errorsDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(header+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", name, err)
		}
	}
	return s, nil
}

// DatedFilePath returns the store file for a given day.
func (s *Sink) DatedFilePath(t time.Time) string {
	return filepath.Join(s.storeDir, t.Format("Jan-2006"), t.Format("2006-01-02")+".json")
}

// AppendPageData merges a batch of results into today's store file. The
// file stays a single valid JSON array across appends. An empty batch is
// a no-op and leaves the file untouched.
func (s *Sink) AppendPageData(batch []*types.PageData) error {
	if len(batch) == 0 {
		return nil
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	path := s.DatedFilePath(s.now())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dated directory: %w", err)
	}

	var existing []json.RawMessage
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &existing); err != nil {
			s.logger.Warn("Existing store file is not a JSON array, overwriting",
				zap.String("file", path),
				zap.Error(err))
			existing = nil
		}
	}

	for _, pd := range batch {
		encoded, err := json.Marshal(pd)
		if err != nil {
			return fmt.Errorf("failed to encode page data for %s: %w", pd.URL, err)
		}
		existing = append(existing, encoded)
	}

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}
	return atomicWrite(path, out)
}

// WriteError appends one classified failure to its category file.
func (s *Sink) WriteError(det *types.DetailedError) error {
	name, ok := categoryFiles[det.Category]
	if !ok {
		name = fallbackErrorFile
	}

	line := fmt.Sprintf("[%s] | Category: %s/%s | Phase: %s | Code: %s | URL: %s | Message: %s",
		det.Timestamp.UTC().Format(time.RFC3339),
		det.Category, det.SubCategory,
		det.Phase, det.Code, det.URL,
		sanitizeMessage(det.Message))
	return s.appendLine(name, line)
}

// WriteNoData appends a bare URL to the no-ad-tech file.
func (s *Sink) WriteNoData(url string) error {
	return s.appendLine(noPrebidFile, url)
}

// RecordResult routes one non-success task result to the right file.
// Success results are batched through AppendPageData instead.
func (s *Sink) RecordResult(result types.TaskResult) error {
	switch result.Kind {
	case types.TaskNoData:
		return s.WriteNoData(result.URL)
	case types.TaskError:
		det := result.Detailed
		if det == nil {
			det = &types.DetailedError{
				Category:  types.CategoryOther,
				Phase:     types.PhaseNavigation,
				Code:      result.Code,
				URL:       result.URL,
				Timestamp: s.now().UTC(),
				Message:   result.Message,
			}
		}
		return s.WriteError(det)
	}
	return nil
}

// RewriteInput rewrites a local .txt source file, dropping the lines whose
// URL was successfully processed this run. Lines outside the processed set
// (comments, out-of-range URLs, blanks) are preserved verbatim.
func (s *Sink) RewriteInput(path string, succeeded map[string]bool) error {
	if len(succeeded) == 0 {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read input file for rewrite: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	kept := make([]string, 0, len(lines))
	removed := 0
	for _, line := range lines {
		url := strings.TrimSpace(line)
		if url != "" && !strings.HasPrefix(url, "http") {
			url = "https://" + url
		}
		if succeeded[url] {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		return nil
	}

	s.logger.Info("Rewriting input file",
		zap.String("file", path),
		zap.Int("removed", removed))
	return atomicWrite(path, []byte(strings.Join(kept, "\n")))
}

func (s *Sink) appendLine(name, line string) error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	path := filepath.Join(s.errorsDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	return nil
}

// sanitizeMessage keeps error lines single-line and bounded.
func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

// atomicWrite replaces path via a temp file and rename so readers never
// observe a half-written file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
