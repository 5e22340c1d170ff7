package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/adscan/adscan/internal/classify"
	"github.com/adscan/adscan/pkg/types"
)

// stealthScript hides the obvious automation tells before any page script
// runs. Prebid wrappers do not care, but bot walls do.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => false });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
`

// taskState tracks per-task mutable state shared between event listeners
// and the main task goroutine.
type taskState struct {
	mu              sync.Mutex
	mainStatus      int
	mainStatusText  string
	frameID         cdp.FrameID
	loaderID        cdp.LoaderID
	fetchInFlight   atomic.Int32
	detached        atomic.Bool
	hardTimedOut    atomic.Bool
	navigationStart time.Time
}

// ScanPage opens a tab on browserCtx, navigates to url, waits for the page
// to settle, runs the extraction payload and classifies whatever happens
// on the way. It never panics and always returns within roughly the hard
// timeout.
func ScanPage(parent context.Context, browserCtx context.Context, url string, opts TaskOptions, logger *zap.Logger) types.TaskResult {
	if browserCtx == nil {
		det := classify.Classify("browser instance has no context", url, types.PhaseNavigation)
		return types.NewErrorResult(&det)
	}

	state := &taskState{navigationStart: time.Now()}

	// The hard deadline covers the whole task including teardown.
	hardCtx, hardCancel := context.WithTimeout(parent, opts.HardTimeout)
	defer hardCancel()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	stop := watchHardDeadline(hardCtx, state, tabCancel)
	defer stop()

	probeStop := startCrashProbe(tabCtx, state, tabCancel)
	defer probeStop()

	setupListeners(tabCtx, state, opts, logger)

	err := runScan(tabCtx, state, url, opts, logger)
	if err == nil {
		data, extractErr := runExtraction(tabCtx, url, opts)
		if extractErr != nil {
			err = extractErr
		} else {
			drainFetchHandlers(state)
			if data.HasAdTech() {
				return types.NewSuccessResult(data)
			}
			return types.NewNoDataResult(url)
		}
	}

	drainFetchHandlers(state)
	return classifyTaskError(err, url, state)
}

// watchHardDeadline tears the tab down when the hard deadline fires.
// AfterFunc avoids a watcher goroutine per task. The timeout flag is set
// only for a real deadline expiry; a cancelled parent (shutdown, signal)
// still kills the tab but classifies as whatever error the cancellation
// produced.
func watchHardDeadline(hardCtx context.Context, state *taskState, tabCancel context.CancelFunc) (stop func() bool) {
	return context.AfterFunc(hardCtx, func() {
		if hardCtx.Err() == context.DeadlineExceeded {
			state.hardTimedOut.Store(true)
		}
		tabCancel()
	})
}

// runScan performs navigation and the settle wait. Extraction is separate
// so its failures classify under the extraction phase.
func runScan(tabCtx context.Context, state *taskState, url string, opts TaskOptions, logger *zap.Logger) error {
	err := chromedp.Run(tabCtx,
		fetch.Enable(),
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		emulation.SetUserAgentOverride(opts.UserAgent),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return navigateAndWait(ctx, state, url, opts.SoftTimeout)
		}),
	)
	if err != nil {
		return err
	}

	// Short-circuit on error statuses before burning the settle wait.
	state.mu.Lock()
	status := state.mainStatus
	state.mu.Unlock()
	if status >= 400 {
		return &HTTPStatusError{URL: url, Status: status}
	}

	// Settle: header bidding fires after load, give the auction time to
	// run before reading its state.
	select {
	case <-time.After(opts.SettleWait):
	case <-tabCtx.Done():
		return tabCtx.Err()
	}
	return nil
}

// navigateAndWait starts the navigation and blocks until the networkIdle
// lifecycle event for this navigation's frame and loader, or the soft
// timeout.
func navigateAndWait(ctx context.Context, state *taskState, url string, softTimeout time.Duration) error {
	waitCh := make(chan struct{}, 1)
	var waitOnce sync.Once

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			state.mu.Lock()
			match := e.FrameID == state.frameID && e.LoaderID == state.loaderID
			state.mu.Unlock()
			if match {
				waitOnce.Do(func() { waitCh <- struct{}{} })
			}
		}
	})

	frameID, loaderID, errText, _, err := page.Navigate(url).Do(ctx)
	if err != nil {
		return err
	}
	if errText != "" {
		return errors.New(errText)
	}

	state.mu.Lock()
	state.frameID = frameID
	state.loaderID = loaderID
	state.mu.Unlock()

	select {
	case <-waitCh:
		return nil
	case <-time.After(softTimeout):
		return ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runExtraction evaluates the in-page payload and decodes its result.
func runExtraction(tabCtx context.Context, url string, opts TaskOptions) (*types.PageData, error) {
	var raw json.RawMessage
	err := chromedp.Run(tabCtx,
		chromedp.Evaluate(buildPayload(opts.Extraction), &raw,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true).WithReturnByValue(true)
			}),
	)
	if err != nil {
		return nil, &extractionError{cause: err}
	}

	data := &types.PageData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, &extractionError{cause: err}
	}
	data.URL = url
	data.Date = time.Now().Format("2006-01-02")
	return data, nil
}

// extractionError tags failures that happened after a successful render so
// classification lands in the extraction phase.
type extractionError struct {
	cause error
}

func (e *extractionError) Error() string { return e.cause.Error() }
func (e *extractionError) Unwrap() error { return e.cause }

// setupListeners wires the request-blocking and response-capture handlers.
func setupListeners(tabCtx context.Context, state *taskState, opts TaskOptions, logger *zap.Logger) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			state.fetchInFlight.Add(1)
			go func() {
				defer state.fetchInFlight.Add(-1)
				handlePausedRequest(tabCtx, e, opts.Blocklist)
			}()

		case *network.EventResponseReceived:
			if e.Type != network.ResourceTypeDocument || e.Response == nil {
				return
			}
			state.mu.Lock()
			// Only the first document response is the main frame; later
			// document responses come from iframes.
			if state.mainStatus == 0 {
				state.mainStatus = int(e.Response.Status)
				state.mainStatusText = e.Response.StatusText
			}
			state.mu.Unlock()
		}
	})
}

// handlePausedRequest continues or fails one intercepted request. Uses its
// own short deadline so a dying tab cannot wedge the handler goroutine.
func handlePausedRequest(tabCtx context.Context, e *fetch.EventRequestPaused, blocklist *Blocklist) {
	cmdCtx, cancel := context.WithTimeout(tabCtx, 2*time.Second)
	defer cancel()

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(cmdCtx, c.Target)

	if blocklist.IsBlocked(e.Request.URL, e.ResourceType) {
		_ = fetch.FailRequest(e.RequestID, network.ErrorReasonAborted).Do(execCtx)
		return
	}
	_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
}

// startCrashProbe watches for the renderer dying underneath the task. A
// crashed tab stops answering trivial evaluations; three consecutive
// failures mark the page detached and cancel the tab.
func startCrashProbe(tabCtx context.Context, state *taskState, tabCancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		failures := 0
		for {
			select {
			case <-done:
				return
			case <-tabCtx.Done():
				return
			case <-ticker.C:
				if probeOnce(tabCtx) {
					failures = 0
					continue
				}
				failures++
				if failures >= 3 {
					state.detached.Store(true)
					tabCancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// probeOnce evaluates a constant in the page. Transient failures while a
// navigation swaps execution contexts are expected and count as alive.
func probeOnce(tabCtx context.Context) bool {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return false
	}

	cmdCtx, cancel := context.WithTimeout(tabCtx, time.Second)
	defer cancel()
	execCtx := cdp.WithExecutor(cmdCtx, c.Target)

	_, exc, err := runtime.Evaluate("1").Do(execCtx)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Cannot find context") ||
			strings.Contains(msg, "Execution context was destroyed") ||
			strings.Contains(msg, "context deadline exceeded") {
			return true
		}
		return false
	}
	return exc == nil
}

// drainFetchHandlers waits briefly for in-flight interception goroutines
// so tab teardown does not race their CDP calls.
func drainFetchHandlers(state *taskState) {
	deadline := time.Now().Add(2 * time.Second)
	for state.fetchInFlight.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// classifyTaskError turns a raw task failure into a classified result,
// giving the timeout and detach flags priority over whatever error text
// the cancellation produced.
func classifyTaskError(err error, url string, state *taskState) types.TaskResult {
	var det types.DetailedError

	switch {
	case state.hardTimedOut.Load():
		det = types.DetailedError{
			Category:    types.CategoryTimeout,
			SubCategory: "hard",
			Phase:       types.PhaseNavigation,
			Code:        types.CodeHardTimeout,
			URL:         url,
			Timestamp:   time.Now(),
			Message:     ErrHardTimeout.Error(),
		}
	case state.detached.Load():
		det = types.DetailedError{
			Category:    types.CategoryBrowser,
			SubCategory: "crash",
			Phase:       types.PhaseNavigation,
			Code:        types.CodePageDetached,
			URL:         url,
			Timestamp:   time.Now(),
			Message:     ErrPageDetached.Error(),
		}
	case errors.Is(err, ErrWaitTimeout):
		det = types.DetailedError{
			Category:    types.CategoryTimeout,
			SubCategory: "navigation",
			Phase:       types.PhaseNavigation,
			Code:        types.CodeTimeout,
			URL:         url,
			Timestamp:   time.Now(),
			Message:     "page did not reach network idle within soft timeout",
		}
	default:
		var httpErr *HTTPStatusError
		var extErr *extractionError
		switch {
		case errors.As(err, &httpErr):
			det = classify.ClassifyHTTPStatus(httpErr.Status, url)
		case errors.As(err, &extErr):
			det = classify.Classify(extErr.Error(), url, types.PhaseExtraction)
		default:
			det = classify.Classify(err.Error(), url, types.PhaseNavigation)
		}
	}

	return types.NewErrorResult(&det)
}
