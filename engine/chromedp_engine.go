package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"golang.org/x/sync/semaphore"

	"github.com/use-agent/pagefetch/models"
)

// ChromedpOptions configures the chromedp engine's browser.
type ChromedpOptions struct {
	Headless   bool
	NoSandbox  bool
	BrowserBin string
	Proxy      string
	MaxPages   int
}

// ChromedpEngine drives Chrome through chromedp. Every fetch runs in its own
// browser context so cookies and cache never leak between fetches.
type ChromedpEngine struct {
	opts ChromedpOptions
	sem  *semaphore.Weighted

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpEngine returns an engine whose browser starts on first use.
func NewChromedpEngine(opts ChromedpOptions) *ChromedpEngine {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	return &ChromedpEngine{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxPages)),
	}
}

func (e *ChromedpEngine) Name() string { return "chromedp" }

// start launches the browser once and returns the root browser context.
func (e *ChromedpEngine) start() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx != nil {
		return e.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.opts.Headless),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
	)
	if e.opts.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if e.opts.BrowserBin != "" {
		opts = append(opts, chromedp.ExecPath(e.opts.BrowserBin))
	}
	if e.opts.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(e.opts.Proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp: launch browser: %w", err)
	}

	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	slog.Info("chromedp browser started", "headless", e.opts.Headless, "max_pages", e.opts.MaxPages)
	return browserCtx, nil
}

// Close shuts the browser down. The engine may be restarted by a later Fetch.
func (e *ChromedpEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCancel != nil {
		e.browserCancel()
		e.allocCancel()
	}
	e.browserCtx, e.browserCancel, e.allocCancel = nil, nil, nil
}

func (e *ChromedpEngine) Fetch(ctx context.Context, req *models.FetchRequest) (*models.CapturedResponse, error) {
	if err := Prepare(req, false); err != nil {
		return nil, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, models.NetworkError("timed out waiting for a free page", err)
	}
	defer e.sem.Release(1)

	browserCtx, err := e.start()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "browser unavailable", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	defer cancelTab()
	// The tab follows the caller's cancellation without tearing down the
	// shared browser.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	capture := NewCapture(req.URL)
	icpt := NewInterceptor(req)
	loaded := make(chan struct{})
	var loadOnce sync.Once
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go e.handlePaused(tabCtx, icpt, capture, ev)
		case *page.EventLoadEventFired:
			loadOnce.Do(func() { close(loaded) })
		}
	})

	// Status and headers come from the Fetch response stage, so no Network
	// domain listener runs next to the interception.
	setup := chromedp.Tasks{
		emulation.SetUserAgentOverride(req.UserAgent),
		emulation.SetScriptExecutionDisabled(false),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}),
	}
	if req.Stealth {
		setup = append(setup, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx)
			return err
		}))
	}
	if err := chromedp.Run(tabCtx, setup); err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to prepare page", err)
	}

	start := time.Now()
	timeout := ResourceTimeout(req.ResourceTimeoutSec)
	if err := navigate(tabCtx, req.URL, timeout); err != nil {
		return nil, models.NetworkError("navigation to target URL failed", err)
	}
	// A slow sub-resource only delays the load event; it never fails the fetch.
	if err := waitLoaded(ctx, loaded, timeout); err != nil {
		slog.Debug("load event did not fire in time, proceeding with current DOM", "url", req.URL, "error", err)
	}
	elapsed := time.Since(start)
	slog.Info("navigation completed", "engine", e.Name(), "url", req.URL, "elapsed_ms", elapsed.Milliseconds())

	if err := Settle(ctx, SettleDelay(req.SettleDelayMs)); err != nil {
		return nil, models.NetworkError("canceled while settling", err)
	}

	var cookie, html string
	err = chromedp.Run(tabCtx,
		chromedp.Evaluate(`document.cookie`, &cookie),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to read page", err)
	}

	headers, status := capture.Snapshot()
	return &models.CapturedResponse{
		Header:  headers,
		Code:    status,
		Cookie:  cookie,
		Body:    html,
		Elapsed: elapsed,
	}, nil
}

// navigate issues Page.navigate for the top-level document only. Unlike
// chromedp.Navigate it does not wait for the load event, so only a failed
// document load is an error.
func navigate(tabCtx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := tabCtx, context.CancelFunc(func() {})
	if timeout > 0 {
		navCtx, cancel = context.WithTimeout(tabCtx, timeout)
	}
	defer cancel()
	return chromedp.Run(navCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}
		return nil
	}))
}

// waitLoaded waits for the load event, at most timeout when it is positive.
func waitLoaded(ctx context.Context, loaded <-chan struct{}, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-loaded:
		return nil
	case <-expired:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handlePaused resolves one intercepted request at either stage. It must run
// off the event goroutine since it issues CDP commands.
func (e *ChromedpEngine) handlePaused(tabCtx context.Context, icpt *Interceptor, capture *Capture, ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(tabCtx, c.Target)

	if ev.ResponseStatusCode != 0 || ev.ResponseErrorReason != "" {
		if ev.ResponseStatusCode != 0 {
			capture.Record(ev.Request.URL, int(ev.ResponseStatusCode), fetchHeaders(ev.ResponseHeaders))
		}
		if err := fetch.ContinueRequest(ev.RequestID).Do(ctx); err != nil {
			slog.Debug("continue response failed", "url", ev.Request.URL, "error", err)
		}
		return
	}

	if icpt.Block(string(ev.ResourceType)) {
		_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
		return
	}

	headers := make(map[string]string, len(ev.Request.Headers))
	for k, v := range ev.Request.Headers {
		headers[k] = fmt.Sprint(v)
	}
	// The main frame's id is the target id.
	navigation := ev.ResourceType == network.ResourceTypeDocument && ev.FrameID == cdp.FrameID(c.Target.TargetID)
	rw := icpt.Rewrite(navigation, headers)

	entries := make([]*fetch.HeaderEntry, 0, len(rw.Headers))
	for _, h := range rw.Headers {
		entries = append(entries, &fetch.HeaderEntry{Name: h.Name, Value: h.Value})
	}
	cont := fetch.ContinueRequest(ev.RequestID).WithHeaders(entries).WithInterceptResponse(true)
	if rw.Method != "" {
		cont = cont.WithMethod(rw.Method).WithPostData(base64.StdEncoding.EncodeToString(rw.PostData))
	}
	if err := cont.Do(ctx); err != nil {
		slog.Debug("continue request failed", "url", ev.Request.URL, "error", err)
	}
}

// fetchHeaders flattens response-stage headers; repeated names are joined
// with a newline.
func fetchHeaders(hs []*fetch.HeaderEntry) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		if prev, ok := out[h.Name]; ok {
			out[h.Name] = prev + "\n" + h.Value
			continue
		}
		out[h.Name] = h.Value
	}
	return out
}
