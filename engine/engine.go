package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/use-agent/pagefetch/models"
)

// Engine is the interface that all fetch backends must implement.
type Engine interface {
	// Name returns the engine identifier (e.g. "rod", "chromedp", "http").
	Name() string

	// Fetch performs one navigation and returns the capture.
	Fetch(ctx context.Context, req *models.FetchRequest) (*models.CapturedResponse, error)
}

// Constructor builds a named engine.
type Constructor func() (Engine, error)

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{}
)

// Register registers a named engine constructor. Name is lower-cased.
// Registering the same name again replaces the previous constructor.
func Register(name string, ctor Constructor) {
	if name == "" || ctor == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

// New constructs the engine registered under name. An empty name selects
// "rod".
func New(name string) (Engine, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "rod"
	}

	mu.RLock()
	ctor, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, models.UsageError("engine %q not registered: available engines=%v", name, Names())
	}

	e, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("construct engine %q: %w", name, err)
	}
	if e == nil {
		return nil, fmt.Errorf("engine %q: constructor returned nil", name)
	}
	return e, nil
}

// Names returns the registered engine names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Prepare applies request defaults and validates req for an engine. Browser
// engines route through the browser's launch-time proxy, so a per-request
// proxy is rejected for them instead of being silently ignored.
func Prepare(req *models.FetchRequest, perRequestProxy bool) error {
	req.Defaults()
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Proxy != "" && !perRequestProxy {
		return models.UsageError("per-request proxy is only supported by the http engine")
	}
	return nil
}
