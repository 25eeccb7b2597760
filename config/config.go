package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/pagefetch/useragent"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Fetch     FetchConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the browser instance shared by all fetches.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages bounds the number of pages open at the same time.
	MaxPages int // default: 4

	// DefaultProxy is the proxy URL for all browser traffic.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path. When empty, the rod
	// launcher looks one up (and downloads one if none is installed).
	BrowserBin string
}

// FetchConfig holds the defaults applied to every fetch.
type FetchConfig struct {
	// Engine is the default backend: "rod", "chromedp" or "http".
	Engine string // default: "rod"

	// UserAgent is the default UA (literal or preset name).
	UserAgent string

	// SettleDelay is the default post-navigation grace window.
	SettleDelay time.Duration // default: 100ms

	// ResourceTimeout is the default per-resource timeout.
	ResourceTimeout time.Duration // default: 3s

	// MaxTimeout caps the whole fetch in server mode.
	MaxTimeout time.Duration // default: 60s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CacheConfig controls the fetch response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000

	// Path, when set, persists the cache in a SQLite database at that
	// location instead of process memory.
	Path string

	// TTL is how long an entry is kept at all. Entries older than the
	// request's max_age_ms are not served but still feed change diffs.
	TTL time.Duration // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("PAGEFETCH_HOST", "0.0.0.0"),
			Port: envIntOr("PAGEFETCH_PORT", 8080),
			Mode: envOr("PAGEFETCH_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("PAGEFETCH_HEADLESS", true),
			MaxPages:     envIntOr("PAGEFETCH_MAX_PAGES", 4),
			DefaultProxy: os.Getenv("PAGEFETCH_PROXY"),
			NoSandbox:    envBoolOr("PAGEFETCH_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("PAGEFETCH_BROWSER_BIN"),
		},
		Fetch: FetchConfig{
			Engine:          strings.ToLower(envOr("PAGEFETCH_ENGINE", "rod")),
			UserAgent:       envOr("PAGEFETCH_USER_AGENT", useragent.Default),
			SettleDelay:     envDurationOr("PAGEFETCH_SETTLE_DELAY", 100*time.Millisecond),
			ResourceTimeout: envDurationOr("PAGEFETCH_RESOURCE_TIMEOUT", 3*time.Second),
			MaxTimeout:      envDurationOr("PAGEFETCH_MAX_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PAGEFETCH_AUTH_ENABLED", false),
			APIKeys: envSliceOr("PAGEFETCH_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PAGEFETCH_RATE_RPS", 5.0),
			Burst:             envIntOr("PAGEFETCH_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("PAGEFETCH_CACHE_MAX_ENTRIES", 1000),
			Path:       os.Getenv("PAGEFETCH_CACHE_PATH"),
			TTL:        envDurationOr("PAGEFETCH_CACHE_TTL", time.Hour),
		},
		Log: LogConfig{
			Level:  envOr("PAGEFETCH_LOG_LEVEL", "info"),
			Format: envOr("PAGEFETCH_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
