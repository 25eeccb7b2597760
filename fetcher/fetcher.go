package fetcher

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"golang.org/x/sync/semaphore"

	"github.com/use-agent/pagefetch/config"
	"github.com/use-agent/pagefetch/models"
)

// Fetcher manages the browser lifecycle and bounds the number of open pages.
// It is safe for concurrent use: every fetch gets its own incognito browser
// context, so cookies and cache never cross fetches.
type Fetcher struct {
	browser     *rod.Browser
	sem         *semaphore.Weighted
	browserCfg  config.BrowserConfig
	activePages atomic.Int32
	startTime   time.Time
}

// New launches a browser and returns a Fetcher bound to it.
func New(browserCfg config.BrowserConfig) (*Fetcher, error) {
	if browserCfg.MaxPages <= 0 {
		browserCfg.MaxPages = 1
	}

	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	// ── Launch flags ─────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("blink-settings"), "imagesEnabled=false")
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewFetchError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Debug("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewFetchError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	return &Fetcher{
		browser:    browser,
		sem:        semaphore.NewWeighted(int64(browserCfg.MaxPages)),
		browserCfg: browserCfg,
		startTime:  time.Now(),
	}, nil
}

// Stats returns a snapshot of the page limiter.
func (f *Fetcher) Stats() models.PoolStats {
	return models.PoolStats{
		MaxPages:    f.browserCfg.MaxPages,
		ActivePages: int(f.activePages.Load()),
	}
}

// Uptime reports how long the browser has been running.
func (f *Fetcher) Uptime() time.Duration {
	return time.Since(f.startTime)
}

// Close kills the browser process.
// Call this on shutdown to prevent zombie Chrome processes.
func (f *Fetcher) Close() {
	slog.Debug("fetcher shutting down: closing browser")
	if err := f.browser.Close(); err != nil {
		slog.Warn("failed to close browser", "error", err)
	}
}
