package fetcher

import (
	"testing"

	"github.com/use-agent/pagefetch/config"
	"github.com/use-agent/pagefetch/engine"
)

func TestRegisterBackends(t *testing.T) {
	b := RegisterBackends(config.BrowserConfig{Headless: true, MaxPages: 3})
	defer b.Close()

	names := engine.Names()
	for _, want := range []string{"chromedp", "http", "rod"} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Errorf("engine %q not registered: %v", want, names)
		}
	}

	// Neither constructor launches a browser.
	for _, name := range []string{"http", "chromedp"} {
		e, err := engine.New(name)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if e.Name() != name {
			t.Errorf("New(%q).Name() = %q", name, e.Name())
		}
	}

	if s := b.Stats(); s.MaxPages != 3 || s.ActivePages != 0 {
		t.Errorf("stats before launch = %+v", s)
	}
	if b.rod != nil {
		t.Error("rod browser started without a rod fetch")
	}
}
