package fetcher

import (
	"sync"

	"github.com/use-agent/pagefetch/config"
	"github.com/use-agent/pagefetch/engine"
	"github.com/use-agent/pagefetch/models"
)

// Backends registers the rod, chromedp and http engines and owns the
// browsers they start. Browsers launch on first use, so a process that only
// ever asks for "http" never starts Chrome.
type Backends struct {
	cfg config.BrowserConfig

	mu  sync.Mutex
	rod *Fetcher
	cdp *engine.ChromedpEngine
}

// RegisterBackends registers every engine with the engine package.
func RegisterBackends(cfg config.BrowserConfig) *Backends {
	b := &Backends{cfg: cfg}

	engine.Register("rod", func() (engine.Engine, error) {
		f, err := b.rodFetcher()
		if err != nil {
			return nil, err
		}
		return engine.NewRodEngine(f.Fetch), nil
	})
	engine.Register("chromedp", func() (engine.Engine, error) {
		return b.chromedp(), nil
	})
	engine.Register("http", func() (engine.Engine, error) {
		return engine.NewHTTPEngine(cfg.DefaultProxy), nil
	})
	return b
}

func (b *Backends) rodFetcher() (*Fetcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rod == nil {
		f, err := New(b.cfg)
		if err != nil {
			return nil, err
		}
		b.rod = f
	}
	return b.rod, nil
}

func (b *Backends) chromedp() *engine.ChromedpEngine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cdp == nil {
		b.cdp = engine.NewChromedpEngine(engine.ChromedpOptions{
			Headless:   b.cfg.Headless,
			NoSandbox:  b.cfg.NoSandbox,
			BrowserBin: b.cfg.BrowserBin,
			Proxy:      b.cfg.DefaultProxy,
			MaxPages:   b.cfg.MaxPages,
		})
	}
	return b.cdp
}

// Stats reports the rod page limiter, or the configured capacity with no
// active pages when the rod browser has not started.
func (b *Backends) Stats() models.PoolStats {
	b.mu.Lock()
	f := b.rod
	b.mu.Unlock()
	if f == nil {
		return models.PoolStats{MaxPages: b.cfg.MaxPages}
	}
	return f.Stats()
}

// Close shuts down every browser that was started.
func (b *Backends) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rod != nil {
		b.rod.Close()
		b.rod = nil
	}
	if b.cdp != nil {
		b.cdp.Close()
		b.cdp = nil
	}
}
