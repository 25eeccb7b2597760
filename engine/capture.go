package engine

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

// defaultStatus is reported when no response matched the requested URL.
const defaultStatus = http.StatusOK

// Capture collects the headers and status of the response whose URL equals
// the requested URL. One Capture belongs to one Fetch call.
//
// Browser events arrive on listener goroutines, so every access is locked.
type Capture struct {
	target string

	mu      sync.Mutex
	headers map[string]string
	status  int
	matched int
}

// NewCapture returns a Capture for the literal target URL.
func NewCapture(target string) *Capture {
	return &Capture{
		target:  target,
		headers: make(map[string]string),
		status:  defaultStatus,
	}
}

// Matches reports whether url is string-equal to the target. No
// canonicalization is applied: a redirect to another URL does not match.
func (c *Capture) Matches(url string) bool {
	return url == c.target
}

// Record stores status and headers if url matches the target. Headers are
// merged into what was captured before, last write wins.
func (c *Capture) Record(url string, status int, headers map[string]string) bool {
	if !c.Matches(url) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range headers {
		c.headers[k] = v
	}
	c.status = status
	c.matched++
	return true
}

// Snapshot returns a copy of the captured headers and the status.
func (c *Capture) Snapshot() (map[string]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out, c.status
}

// Settle waits d, or until ctx is done.
func Settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SettleDelay converts the request's millisecond delay to a Duration.
func SettleDelay(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ResourceTimeout converts the request's per-resource timeout. Zero means
// unbounded.
func ResourceTimeout(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

// MergeCookies joins cookie strings of the form "a=1; b=2" into one,
// keeping the first-seen order of names and the last value of each name.
func MergeCookies(parts ...string) string {
	var order []string
	values := make(map[string]string)
	for _, part := range parts {
		for _, kv := range strings.Split(part, ";") {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			name, value, _ := strings.Cut(kv, "=")
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, seen := values[name]; !seen {
				order = append(order, name)
			}
			values[name] = value
		}
	}
	pairs := make([]string, 0, len(order))
	for _, name := range order {
		pairs = append(pairs, name+"="+values[name])
	}
	return strings.Join(pairs, "; ")
}
