// Package loader reads URL lists from local files or remote repository
// files and normalizes them into an ordered candidate sequence.
package loader

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ErrSourceUnavailable marks a URL source that could not be fetched or read.
// Callers treat this as fatal for the run.
var ErrSourceUnavailable = errors.New("URL source unavailable")

var (
	// Scheme-less hostnames in .txt lists get promoted to https://.
	hostnameRe = regexp.MustCompile(`^([a-z0-9-_]+\.)+[a-z]{2,}$`)

	// URL extraction from JSON string leaves and raw-text fallback.
	urlRe = regexp.MustCompile(`https?://[^\s"]+`)
)

const fetchTimeout = 30 * time.Second

// Options tune a single Load call.
type Options struct {
	// NumUrls caps the returned sequence. 0 means no cap.
	NumUrls int
	// EndHint lets loading stop early once this many candidates have been
	// accumulated (set when a range is known up front). 0 means no hint.
	EndHint int
}

// Loader reads and normalizes URL lists.
type Loader struct {
	client *fasthttp.Client
	logger *zap.Logger
}

func New(logger *zap.Logger) *Loader {
	return &Loader{
		client: &fasthttp.Client{
			ReadTimeout:  fetchTimeout,
			WriteTimeout: fetchTimeout,
		},
		logger: logger,
	}
}

// Load reads the source (local path or http(s) URL) and returns the ordered,
// order-preserving-deduplicated candidate URLs.
func (l *Loader) Load(source string, opts Options) ([]string, error) {
	var (
		data []byte
		name string
		err  error
	)

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		fetchURL := RewriteBlobURL(source)
		if fetchURL != source {
			l.logger.Info("Rewrote blob URL to raw form",
				zap.String("original", source),
				zap.String("raw", fetchURL))
		}
		data, err = l.fetch(fetchURL)
		name = fetchURL
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		name = source
	}
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(name, ".gz") {
		data, err = gunzip(data)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress %s: %v", ErrSourceUnavailable, name, err)
		}
		name = strings.TrimSuffix(name, ".gz")
	}

	urls := l.parse(name, data, opts.EndHint)
	urls = dedupe(urls)

	if opts.NumUrls > 0 && len(urls) > opts.NumUrls {
		urls = urls[:opts.NumUrls]
	}

	if len(urls) == 0 {
		l.logger.Warn("No URLs extracted from source", zap.String("source", source))
	} else {
		l.logger.Info("Loaded URL list",
			zap.String("source", source),
			zap.Int("count", len(urls)))
	}
	return urls, nil
}

// RewriteBlobURL rewrites a hosted-git /blob/ page URL to its raw-content
// equivalent. Non-blob URLs pass through unchanged.
func RewriteBlobURL(rawURL string) string {
	if !strings.Contains(rawURL, "/blob/") {
		return rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if strings.EqualFold(parsed.Host, "github.com") {
		// github.com/<owner>/<repo>/blob/<ref>/<path> serves HTML;
		// raw.githubusercontent.com/<owner>/<repo>/<ref>/<path> serves content.
		parsed.Host = "raw.githubusercontent.com"
		parsed.Path = strings.Replace(parsed.Path, "/blob/", "/", 1)
		return parsed.String()
	}

	// GitLab-style hosts serve raw content at /raw/ in place of /blob/.
	parsed.Path = strings.Replace(parsed.Path, "/blob/", "/raw/", 1)
	return parsed.String()
}

func (l *Loader) fetch(fetchURL string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fetchURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := l.client.DoRedirects(req, resp, 5); err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrSourceUnavailable, fetchURL, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: fetch %s: HTTP %d", ErrSourceUnavailable, fetchURL, status)
	}

	body, err := resp.BodyUncompressed()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrSourceUnavailable, fetchURL, err)
	}
	return append([]byte(nil), body...), nil
}

func (l *Loader) parse(name string, data []byte, endHint int) []string {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		return parseCSV(data, endHint)
	case ".json":
		return l.parseJSON(data, endHint)
	default:
		return parseTxt(data, endHint)
	}
}

// parseTxt reads one URL per line. Scheme-less hostnames are promoted to
// https:// form; anything else without a scheme is dropped.
func parseTxt(data []byte, endHint int) []string {
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "http://"), strings.HasPrefix(line, "https://"):
			urls = append(urls, line)
		case hostnameRe.MatchString(strings.ToLower(line)):
			urls = append(urls, "https://"+line)
		}
		if endHint > 0 && len(urls) >= endHint {
			break
		}
	}
	return urls
}

// parseCSV takes the first column of each row and accepts only entries
// that already carry an http(s) scheme.
func parseCSV(data []byte, endHint int) []string {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var urls []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if len(record) == 0 {
			continue
		}
		candidate := strings.TrimSpace(record[0])
		if strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://") {
			urls = append(urls, candidate)
		}
		if endHint > 0 && len(urls) >= endHint {
			break
		}
	}
	return urls
}

// parseJSON collects every URL found in string leaves of the document. If
// the document is not valid JSON, falls back to a regex scan of the raw text.
func (l *Loader) parseJSON(data []byte, endHint int) []string {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		l.logger.Warn("JSON source did not parse, falling back to raw text scan",
			zap.Error(err))
		return capSlice(urlRe.FindAllString(string(data), -1), endHint)
	}

	var urls []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		if endHint > 0 && len(urls) >= endHint {
			return
		}
		switch t := v.(type) {
		case string:
			urls = append(urls, urlRe.FindAllString(t, -1)...)
		case []interface{}:
			for _, item := range t {
				walk(item)
			}
		case map[string]interface{}:
			// Sorted keys keep extraction order deterministic across runs.
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		}
	}
	walk(doc)
	return capSlice(urls, endHint)
}

func capSlice(urls []string, endHint int) []string {
	if endHint > 0 && len(urls) > endHint {
		return urls[:endHint]
	}
	return urls
}

// dedupe removes duplicates while preserving first-seen order.
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func gunzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
