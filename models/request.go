package models

import (
	"net/url"
	"strings"

	"github.com/use-agent/pagefetch/useragent"
	"golang.org/x/net/html/charset"
)

const (
	MethodGet  = "GET"
	MethodPost = "POST"

	DefaultCharset            = "UTF-8"
	DefaultSettleDelayMs      = 100
	DefaultResourceTimeoutSec = 3
)

// FetchRequest describes one navigation. It is built once from CLI or API
// input, consumed by a single Fetch call and then discarded.
type FetchRequest struct {
	// URL is the page to load. Response capture matches it by exact string
	// equality, so it is never canonicalized.
	URL string

	// Method is GET or POST.
	Method string

	// Charset is the output encoding of the JSON line written by the CLI.
	Charset string

	// UserAgent is either a literal UA string or a useragent preset name.
	UserAgent string

	// Cookie is the raw Cookie header value forced onto every request the
	// page issues. Empty leaves the browser's own Cookie header alone.
	Cookie string

	// SettleDelayMs is the grace window after navigation success before the
	// capture is finalized.
	SettleDelayMs int

	// ResourceTimeoutSec bounds each resource load. 0 disables the bound.
	ResourceTimeoutSec int

	// Body is the POST payload. nil means absent; an empty string is a
	// valid (empty) body.
	Body *string

	// Stealth injects anti-automation-detection JS before navigation.
	Stealth bool

	// Proxy overrides the configured proxy. Only the http engine dials
	// per request; the browser engines reject it as a usage error.
	Proxy string
}

// Defaults applies default values to unset fields.
func (r *FetchRequest) Defaults() {
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = MethodGet
	}
	if r.Charset == "" {
		r.Charset = DefaultCharset
	}
	r.UserAgent = useragent.Resolve(r.UserAgent)
}

// Validate checks the request shape. Every failure is a usage error and is
// detected before any network activity.
func (r *FetchRequest) Validate() error {
	if r.URL == "" {
		return UsageError("url is empty")
	}
	if !strings.Contains(r.URL, "://") {
		return UsageError("url %q does not begin with a scheme such as http:// or https://", r.URL)
	}
	if _, err := url.Parse(r.URL); err != nil {
		return UsageError("url %q is malformed: %v", r.URL, err)
	}
	switch r.Method {
	case MethodGet:
	case MethodPost:
		if r.Body == nil {
			return UsageError("POST requires a body (an empty string is allowed)")
		}
	default:
		return UsageError("method %q is not supported, use GET or POST", r.Method)
	}
	if r.SettleDelayMs < 0 {
		return UsageError("settle delay must be >= 0, got %d", r.SettleDelayMs)
	}
	if r.ResourceTimeoutSec < 0 {
		return UsageError("resource timeout must be >= 0, got %d", r.ResourceTimeoutSec)
	}
	if e, _ := charset.Lookup(r.Charset); e == nil {
		return UsageError("unknown charset %q", r.Charset)
	}
	return nil
}

// BodyString returns the POST body, or "" when absent.
func (r *FetchRequest) BodyString() string {
	if r.Body == nil {
		return ""
	}
	return *r.Body
}

// NewFetchRequest returns a GET request for rawURL with every default
// applied.
func NewFetchRequest(rawURL string) *FetchRequest {
	r := &FetchRequest{
		URL:                rawURL,
		SettleDelayMs:      DefaultSettleDelayMs,
		ResourceTimeoutSec: DefaultResourceTimeoutSec,
	}
	r.Defaults()
	return r
}

// FetchAPIRequest is the payload for POST /api/v1/fetch.
type FetchAPIRequest struct {
	// URL is the target page. Required.
	URL string `json:"url" binding:"required"`

	// Method is "GET" (default) or "POST".
	Method string `json:"method,omitempty" binding:"omitempty,oneof=GET POST get post"`

	// Body is required when Method is POST. It may be the empty string.
	Body *string `json:"body,omitempty"`

	Cookie    string `json:"cookie,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Charset   string `json:"charset,omitempty"`

	// SettleDelayMs defaults to 100 when omitted.
	SettleDelayMs *int `json:"settle_delay_ms,omitempty" binding:"omitempty,min=0,max=60000"`

	// ResourceTimeoutSec defaults to 3 when omitted.
	ResourceTimeoutSec *int `json:"resource_timeout_sec,omitempty" binding:"omitempty,min=0,max=120"`

	Stealth bool `json:"stealth,omitempty"`

	// Proxy applies to engine=http only. The browser engines use the proxy
	// configured at launch and answer 400 when one is given per request.
	Proxy string `json:"proxy,omitempty" binding:"omitempty,url"`

	// Engine selects the backend: "rod" (default), "chromedp" or "http".
	Engine string `json:"engine,omitempty" binding:"omitempty,oneof=rod chromedp http"`

	// Format converts the captured body: "html" (default), "article",
	// "markdown" or "text".
	Format string `json:"format,omitempty" binding:"omitempty,oneof=html article markdown text"`

	// Selector narrows the body to the elements matching a CSS selector.
	Selector string `json:"selector,omitempty"`

	// MaxAgeMs enables the response cache when > 0.
	MaxAgeMs int `json:"max_age_ms,omitempty" binding:"omitempty,min=0"`

	// DiffPrevious compares the new capture with the previous cached one
	// for the same request, fresh or stale.
	DiffPrevious bool `json:"diff_previous,omitempty"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// ToFetchRequest converts the API payload into a FetchRequest with defaults
// applied.
func (r *FetchAPIRequest) ToFetchRequest() *FetchRequest {
	fr := &FetchRequest{
		URL:                r.URL,
		Method:             r.Method,
		Charset:            r.Charset,
		UserAgent:          r.UserAgent,
		Cookie:             r.Cookie,
		SettleDelayMs:      DefaultSettleDelayMs,
		ResourceTimeoutSec: DefaultResourceTimeoutSec,
		Body:               r.Body,
		Stealth:            r.Stealth,
		Proxy:              r.Proxy,
	}
	if r.SettleDelayMs != nil {
		fr.SettleDelayMs = *r.SettleDelayMs
	}
	if r.ResourceTimeoutSec != nil {
		fr.ResourceTimeoutSec = *r.ResourceTimeoutSec
	}
	fr.Defaults()
	return fr
}
