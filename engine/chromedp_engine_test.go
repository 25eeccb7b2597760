package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/use-agent/pagefetch/models"
)

func newTestChromedp(t *testing.T) *ChromedpEngine {
	t.Helper()
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome/Chromium binary found")
	}
	e := NewChromedpEngine(ChromedpOptions{Headless: true, NoSandbox: true, BrowserBin: bin, MaxPages: 2})
	t.Cleanup(e.Close)
	return e
}

func TestChromedpEngine_Capture(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	e := newTestChromedp(t)

	var sawCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		sawCookie = r.Header.Get("Cookie")
		w.Header().Set("X-Test", "yes")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `<html><body><h1>Hi</h1><script>document.cookie="js=1"</script></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := models.NewFetchRequest(srv.URL + "/")
	req.Cookie = "sid=abc123"
	res, err := e.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch() = %v", err)
	}
	if res.Code != http.StatusCreated {
		t.Errorf("Code = %d, want 201", res.Code)
	}
	if res.Header["X-Test"] != "yes" {
		t.Errorf("X-Test = %q", res.Header["X-Test"])
	}
	if sawCookie != "sid=abc123" {
		t.Errorf("server saw Cookie %q", sawCookie)
	}
	if !strings.Contains(res.Body, "<h1>Hi</h1>") {
		t.Errorf("Body = %q", res.Body)
	}
	if !strings.Contains(res.Cookie, "js=1") {
		t.Errorf("Cookie = %q, want script-set cookie", res.Cookie)
	}
}

func TestChromedpEngine_Post(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	e := newTestChromedp(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "<html><body><pre id=out>%s %s</pre></body></html>", r.Method, b)
	}))
	defer srv.Close()

	// No trailing slash: Chrome navigates to srv.URL + "/".
	body := "name=gopher"
	req := models.NewFetchRequest(srv.URL)
	req.Method = models.MethodPost
	req.Body = &body
	res, err := e.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch() = %v", err)
	}
	if !strings.Contains(res.Body, "POST name=gopher") {
		t.Errorf("Body = %q, want echoed POST body", res.Body)
	}
}

func TestChromedpEngine_SlowSubresourceIsNotAnError(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test")
	}
	e := newTestChromedp(t)

	release := make(chan struct{})
	defer close(release)
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>main</p><script src="/slow.js"></script></body></html>`)
	})
	mux.HandleFunc("/slow.js", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := models.NewFetchRequest(srv.URL + "/")
	req.ResourceTimeoutSec = 1
	req.SettleDelayMs = 0
	res, err := e.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch() = %v, a slow script must not fail the fetch", err)
	}
	if res.Code != http.StatusOK || !strings.Contains(res.Body, "main") {
		t.Errorf("Code = %d Body = %q", res.Code, res.Body)
	}
}

func TestChromedpEngine_RejectsPerRequestProxy(t *testing.T) {
	// Rejected before any browser is started.
	e := NewChromedpEngine(ChromedpOptions{})
	req := models.NewFetchRequest("http://a.test/")
	req.Proxy = "http://p.test:3128"
	if _, err := e.Fetch(context.Background(), req); !models.IsUsage(err) {
		t.Errorf("Fetch() = %v, want USAGE_ERROR", err)
	}
	if e.browserCtx != nil {
		t.Error("browser started for a usage error")
	}
}
