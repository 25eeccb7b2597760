package models

import "time"

// CapturedResponse is the result of one Fetch. The JSON keys are part of the
// CLI contract and must not change.
type CapturedResponse struct {
	// Header holds the headers of the response whose URL equals the
	// requested URL. Duplicate names keep the last value reported.
	Header map[string]string `json:"Header"`

	// Code is that response's status code.
	Code int `json:"Code"`

	// Cookie is the raw document.cookie string at capture time.
	Cookie string `json:"Cookie"`

	// Body is the rendered document (or its converted form).
	Body string `json:"Body"`

	// Elapsed is the navigation time. Informational only.
	Elapsed time.Duration `json:"-"`
}

// FetchAPIResponse is the response for POST /api/v1/fetch.
type FetchAPIResponse struct {
	// Success indicates whether the fetch completed without errors.
	Success bool `json:"success"`

	// Result is the capture. Nil when Success is false.
	Result *CapturedResponse `json:"result,omitempty"`

	// Fingerprint lets callers compare captures without diffing bodies.
	Fingerprint *FingerprintInfo `json:"fingerprint,omitempty"`

	// EngineUsed is the backend that produced the result.
	EngineUsed string `json:"engine_used,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus is "hit", "miss" or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Diff is set when diff_previous was requested and a previous capture
	// existed.
	Diff *DiffInfo `json:"diff,omitempty"`

	// RequestID echoes the X-Request-ID of the call.
	RequestID string `json:"request_id,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// FingerprintInfo carries hex-encoded 64-bit SimHash values.
type FingerprintInfo struct {
	// Body is computed from the visible text of the body.
	Body string `json:"body"`

	// DOM is computed from the sequence of tag names.
	DOM string `json:"dom"`
}

// DiffInfo compares a capture with the previous one for the same request.
type DiffInfo struct {
	PreviousAt   time.Time `json:"previous_at"`
	BodyDistance int       `json:"body_distance"`
	DOMDistance  int       `json:"dom_distance"`
	Changed      bool      `json:"changed"`

	// Patch is a diff-match-patch text patch turning the previous body
	// into the new one. Empty when the bodies are identical.
	Patch string `json:"patch,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	TotalMs      int64 `json:"total_ms"`
	NavigationMs int64 `json:"navigation_ms"`
	ConvertMs    int64 `json:"convert_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Engines   []string  `json:"engines"`
	Version   string    `json:"version"`
}

// PoolStats reports the state of the browser page limiter.
type PoolStats struct {
	MaxPages    int `json:"max_pages"`
	ActivePages int `json:"active_pages"`
}
