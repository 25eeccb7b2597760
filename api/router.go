package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pagefetch/api/handler"
	"github.com/use-agent/pagefetch/api/middleware"
	"github.com/use-agent/pagefetch/config"
	"github.com/use-agent/pagefetch/engine"
)

// Options wires the router's collaborators.
type Options struct {
	Config    *config.Config
	Fetch     handler.FetchDeps
	Stats     handler.StatsProvider
	Engines   func() []string
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// The returned RateLimiter must be stopped on shutdown.
//
// Middleware chain:
//
//	Global:  Recovery → RequestID → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(opts Options) (*gin.Engine, *middleware.RateLimiter) {
	cfg := opts.Config
	gin.SetMode(cfg.Server.Mode)

	if opts.Engines == nil {
		opts.Engines = engine.Names
	}
	if opts.Fetch.Config.Engine == "" {
		opts.Fetch.Config = cfg.Fetch
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(opts.Stats, opts.Engines, opts.StartTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	protected.Use(limiter.Middleware())

	protected.POST("/fetch", handler.Fetch(opts.Fetch))

	return r, limiter
}
