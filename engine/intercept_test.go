package engine

import (
	"strings"
	"testing"

	"github.com/use-agent/pagefetch/models"
)

func headerValue(hs []HeaderEntry, name string) (string, int) {
	var v string
	n := 0
	for _, h := range hs {
		if strings.EqualFold(h.Name, name) {
			v = h.Value
			n++
		}
	}
	return v, n
}

func TestInterceptor_Block(t *testing.T) {
	i := NewInterceptor(models.NewFetchRequest("http://a.test/"))
	if !i.Block("Image") {
		t.Error("images should be blocked")
	}
	for _, rt := range []string{"Document", "Script", "Stylesheet", "XHR", "Font"} {
		if i.Block(rt) {
			t.Errorf("%s should not be blocked", rt)
		}
	}
}

func TestInterceptor_CookieOverride(t *testing.T) {
	req := models.NewFetchRequest("http://a.test/")
	req.Cookie = "sid=abc123"
	i := NewInterceptor(req)

	rw := i.Rewrite(false, map[string]string{
		"cookie":     "browser=own",
		"User-Agent": "ua",
	})
	v, n := headerValue(rw.Headers, "Cookie")
	if n != 1 || v != "sid=abc123" {
		t.Errorf("Cookie = %q (x%d), want single sid=abc123", v, n)
	}
	if ua, _ := headerValue(rw.Headers, "User-Agent"); ua != "ua" {
		t.Errorf("User-Agent = %q, other headers must survive", ua)
	}
	if rw.Method != "" || rw.PostData != nil {
		t.Error("GET fetch must not rewrite method or body")
	}
}

func TestInterceptor_EmptyCookieLeavesHeader(t *testing.T) {
	i := NewInterceptor(models.NewFetchRequest("http://a.test/"))
	rw := i.Rewrite(true, map[string]string{"Cookie": "browser=own"})
	if v, _ := headerValue(rw.Headers, "Cookie"); v != "browser=own" {
		t.Errorf("Cookie = %q, empty override must leave it alone", v)
	}
}

func TestInterceptor_PostOnlyFirstNavigation(t *testing.T) {
	body := "q=go"
	req := models.NewFetchRequest("http://a.test/form")
	req.Method = models.MethodPost
	req.Body = &body
	i := NewInterceptor(req)

	if rw := i.Rewrite(false, nil); rw.Method != "" {
		t.Error("sub-resource must not become POST")
	}

	rw := i.Rewrite(true, nil)
	if rw.Method != models.MethodPost || string(rw.PostData) != body {
		t.Fatalf("Rewrite = %+v, want POST with body", rw)
	}
	if ct, _ := headerValue(rw.Headers, "Content-Type"); ct != formContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if !i.posted.Load() {
		t.Error("posted should be set")
	}

	if rw := i.Rewrite(true, nil); rw.Method != "" {
		t.Error("second navigation (redirect hop or iframe) must not be rewritten again")
	}
}

// Chrome reports the navigation URL normalized, so the POST must not depend
// on the target string matching it.
func TestInterceptor_PostIgnoresURLShape(t *testing.T) {
	targets := []string{
		"http://127.0.0.1:8080",
		"http://a.test/form#top",
		"HTTP://Example.com/a",
	}
	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			body := "k=v"
			req := models.NewFetchRequest(target)
			req.Method = models.MethodPost
			req.Body = &body
			rw := NewInterceptor(req).Rewrite(true, nil)
			if rw.Method != models.MethodPost || string(rw.PostData) != body {
				t.Errorf("Rewrite = %+v, want POST with body", rw)
			}
		})
	}
}

func TestInterceptor_PostKeepsContentType(t *testing.T) {
	body := `{"a":1}`
	req := models.NewFetchRequest("http://a.test/")
	req.Method = models.MethodPost
	req.Body = &body
	i := NewInterceptor(req)

	rw := i.Rewrite(true, map[string]string{"content-type": "application/json"})
	if ct, n := headerValue(rw.Headers, "Content-Type"); ct != "application/json" || n != 1 {
		t.Errorf("Content-Type = %q (x%d), existing value must be kept", ct, n)
	}
}

func TestInterceptor_EmptyPostBody(t *testing.T) {
	empty := ""
	req := models.NewFetchRequest("http://a.test/")
	req.Method = models.MethodPost
	req.Body = &empty
	rw := NewInterceptor(req).Rewrite(true, nil)
	if rw.Method != models.MethodPost || rw.PostData == nil || len(rw.PostData) != 0 {
		t.Errorf("Rewrite = %+v, want POST with empty non-nil body", rw)
	}
}
