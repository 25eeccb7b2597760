package engine

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/use-agent/pagefetch/models"
)

// resourceTypeImage is the CDP resource type blocked by both browser engines.
const resourceTypeImage = "Image"

const formContentType = "application/x-www-form-urlencoded"

// HeaderEntry is one outgoing request header.
type HeaderEntry struct {
	Name  string
	Value string
}

// Rewrite is what an interceptor decided for one paused request.
type Rewrite struct {
	Headers  []HeaderEntry
	Method   string // empty keeps the original method
	PostData []byte // nil keeps the original body
}

// Interceptor holds the per-fetch request rewriting rules shared by the
// browser engines: images are blocked, the Cookie header is forced onto
// every request, and the first main-frame document request is turned into
// a form POST when the fetch is a POST.
//
// The POST is not keyed on the URL: Chrome reports the navigation URL
// normalized (trailing slash, lower-cased host, no fragment), so it rarely
// equals the requested string.
type Interceptor struct {
	cookie string
	post   bool
	body   string

	posted atomic.Bool
}

// NewInterceptor builds the rules for req.
func NewInterceptor(req *models.FetchRequest) *Interceptor {
	return &Interceptor{
		cookie: req.Cookie,
		post:   req.Method == models.MethodPost,
		body:   req.BodyString(),
	}
}

// Block reports whether a request of the given resource type is aborted.
func (i *Interceptor) Block(resourceType string) bool {
	return resourceType == resourceTypeImage
}

// Rewrite computes the outgoing headers and, for the POST navigation, the
// method and body. navigation marks document requests of the main frame.
func (i *Interceptor) Rewrite(navigation bool, headers map[string]string) Rewrite {
	out := make(map[string]HeaderEntry, len(headers)+2)
	for k, v := range headers {
		out[strings.ToLower(k)] = HeaderEntry{Name: k, Value: v}
	}
	if i.cookie != "" {
		out["cookie"] = HeaderEntry{Name: "Cookie", Value: i.cookie}
	}

	var rw Rewrite
	if i.post && navigation && i.posted.CompareAndSwap(false, true) {
		rw.Method = models.MethodPost
		rw.PostData = []byte(i.body)
		if _, ok := out["content-type"]; !ok {
			out["content-type"] = HeaderEntry{Name: "Content-Type", Value: formContentType}
		}
	}

	rw.Headers = make([]HeaderEntry, 0, len(out))
	for _, h := range out {
		rw.Headers = append(rw.Headers, h)
	}
	sort.Slice(rw.Headers, func(a, b int) bool {
		return strings.ToLower(rw.Headers[a].Name) < strings.ToLower(rw.Headers[b].Name)
	})
	return rw
}
