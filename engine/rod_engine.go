package engine

import (
	"context"
	"fmt"

	"github.com/use-agent/pagefetch/models"
)

// RodFetchFunc is the callback type that wraps fetcher.Fetcher.Fetch.
// It is injected from main to avoid a circular import (engine/ -> fetcher/).
type RodFetchFunc func(ctx context.Context, req *models.FetchRequest) (*models.CapturedResponse, error)

// RodEngine is the go-rod browser engine. It delegates to the fetcher
// package through a callback.
type RodEngine struct {
	fetchFunc RodFetchFunc
}

// NewRodEngine creates a RodEngine around fetchFunc.
func NewRodEngine(fetchFunc RodFetchFunc) *RodEngine {
	return &RodEngine{fetchFunc: fetchFunc}
}

func (e *RodEngine) Name() string { return "rod" }

func (e *RodEngine) Fetch(ctx context.Context, req *models.FetchRequest) (*models.CapturedResponse, error) {
	if e.fetchFunc == nil {
		return nil, fmt.Errorf("%s: fetchFunc not configured", e.Name())
	}

	// Clone the request so the callee cannot mutate the caller's copy.
	r := *req
	return e.fetchFunc(ctx, &r)
}
