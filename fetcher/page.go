package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/pagefetch/engine"
	"github.com/use-agent/pagefetch/models"
)

// Fetch loads req.URL in a fresh incognito page and captures the matching
// response, the cookies and the rendered document.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Validate               – defaults applied, usage errors never touch the network
//  2. Acquire slot           – bounded by MaxPages
//  3. Incognito page         – isolated cookies/cache, closed on return
//  4. Page setup             – UA, scripts on, optional stealth
//  5. Interception           – cookie, POST, image blocking, response capture
//  6. Navigate + WaitLoad    – bounded by the per-resource timeout
//  7. Settle                 – grace window for late scripts and XHRs
//  8. Extract                – document.cookie and serialized DOM
func (f *Fetcher) Fetch(ctx context.Context, req *models.FetchRequest) (*models.CapturedResponse, error) {
	// ── 1. Validate ──────────────────────────────────────────────────
	if err := engine.Prepare(req, false); err != nil {
		return nil, err
	}

	// ── 2. Acquire a page slot ───────────────────────────────────────
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, categorizeError(err, "timed out waiting for a free page")
	}
	defer f.sem.Release(1)
	f.activePages.Add(1)
	defer f.activePages.Add(-1)

	// ── 3. Incognito context + page ──────────────────────────────────
	incognito, err := f.browser.Incognito()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to create browser context", err)
	}
	defer func() {
		if closeErr := incognito.Close(); closeErr != nil {
			slog.Warn("cleanup: failed to dispose browser context", "error", closeErr)
		}
	}()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	// CRITICAL DEFER: leave the page blank before the context is disposed.
	// Uses the ORIGINAL page reference so cleanup works after ctx expires.
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Debug("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		_ = page.Close()
	}()

	// ── 4. Page setup ────────────────────────────────────────────────
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: req.UserAgent}); err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to set user agent", err)
	}
	_ = proto.EmulationSetScriptExecutionDisabled{Value: false}.Call(page)
	if req.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	// ── 5. Mount interception BEFORE navigation ──────────────────────
	// The same Fetch-domain loop blocks images, forces the cookie, issues
	// the POST and records the matching response.
	icpt := engine.NewInterceptor(req)
	capture := engine.NewCapture(req.URL)
	stopHijack, err := setupHijack(page, icpt, capture)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to enable request interception", err)
	}
	defer stopHijack()

	p := page.Context(ctx)

	// ── 6. Navigate ──────────────────────────────────────────────────
	start := time.Now()
	navPage, cancelNav := p, context.CancelFunc(func() {})
	if d := engine.ResourceTimeout(req.ResourceTimeoutSec); d > 0 {
		var navCtx context.Context
		navCtx, cancelNav = context.WithTimeout(ctx, d)
		navPage = page.Context(navCtx)
	}
	if navErr := navPage.Navigate(req.URL); navErr != nil {
		cancelNav()
		return nil, categorizeError(navErr, "navigation to target URL failed")
	}
	if loadErr := navPage.WaitLoad(); loadErr != nil {
		slog.Debug("load event did not fire in time, proceeding with current DOM", "url", req.URL, "error", loadErr)
	}
	cancelNav()
	elapsed := time.Since(start)
	slog.Info("navigation completed", "engine", "rod", "url", req.URL, "elapsed_ms", elapsed.Milliseconds())

	// ── 7. Settle ────────────────────────────────────────────────────
	if err := engine.Settle(ctx, engine.SettleDelay(req.SettleDelayMs)); err != nil {
		return nil, categorizeError(err, "canceled while settling")
	}

	// ── 8. Extract ───────────────────────────────────────────────────
	cookie := evalStringOrEmpty(p, `() => document.cookie`)
	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to extract page HTML", htmlErr)
	}

	headers, status := capture.Snapshot()
	return &models.CapturedResponse{
		Header:  headers,
		Code:    status,
		Cookie:  cookie,
		Body:    rawHTML,
		Elapsed: elapsed,
	}, nil
}

// evalStringOrEmpty evaluates a JS function and returns its string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// categorizeError wraps navigation failures into typed FetchErrors. Timeouts
// and cancellations of the top-level load count as network failures.
func categorizeError(err error, msg string) *models.FetchError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NetworkError(msg+": timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NetworkError("request canceled", err)
	default:
		return models.NetworkError(msg, err)
	}
}
