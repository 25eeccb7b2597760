package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pagefetch/api/middleware"
	"github.com/use-agent/pagefetch/cache"
	"github.com/use-agent/pagefetch/engine"
	"github.com/use-agent/pagefetch/models"
	"github.com/use-agent/pagefetch/webhook"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeEngine returns body with a counter so repeated fetches differ.
type fakeEngine struct {
	calls atomic.Int32
	body  func(n int32) string
	err   error
	last  atomic.Pointer[models.FetchRequest]
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Fetch(_ context.Context, req *models.FetchRequest) (*models.CapturedResponse, error) {
	n := f.calls.Add(1)
	f.last.Store(req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.CapturedResponse{
		Header: map[string]string{"Content-Type": "text/html"},
		Code:   200,
		Cookie: req.Cookie,
		Body:   f.body(n),
	}, nil
}

func staticBody(s string) func(int32) string {
	return func(int32) string { return s }
}

func newTestRouter(fe *fakeEngine, store cache.Store, hooks *webhook.Sender) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/api/v1/fetch", Fetch(FetchDeps{
		NewEngine: func(string) (engine.Engine, error) { return fe, nil },
		Store:     store,
		Webhooks:  hooks,
	}))
	return r
}

func doFetch(t *testing.T, r http.Handler, body string) (*httptest.ResponseRecorder, models.FetchAPIResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fetch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp models.FetchAPIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func TestFetch_Success(t *testing.T) {
	fe := &fakeEngine{body: staticBody("<html><body><p>hello world</p></body></html>")}
	r := newTestRouter(fe, nil, nil)

	w, resp := doFetch(t, r, `{"url":"http://example.com/","cookie":"a=1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !resp.Success || resp.Result == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Result.Code != 200 || resp.Result.Cookie != "a=1" {
		t.Errorf("result = %+v", resp.Result)
	}
	if resp.EngineUsed != "fake" {
		t.Errorf("engine_used = %q", resp.EngineUsed)
	}
	if resp.Fingerprint == nil || len(resp.Fingerprint.Body) != 16 {
		t.Errorf("fingerprint = %+v", resp.Fingerprint)
	}
	if resp.RequestID == "" || w.Header().Get(middleware.HeaderRequestID) != resp.RequestID {
		t.Errorf("request id not echoed: body %q header %q", resp.RequestID, w.Header().Get(middleware.HeaderRequestID))
	}
	if resp.CacheStatus != "" {
		t.Errorf("cache_status = %q without max_age_ms", resp.CacheStatus)
	}

	req := fe.last.Load()
	if req.Method != models.MethodGet || req.SettleDelayMs != models.DefaultSettleDelayMs {
		t.Errorf("engine request defaults not applied: %+v", req)
	}
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, models.ErrCodeUsage},
		{"missing url", `{}`, nil, http.StatusBadRequest, models.ErrCodeUsage},
		{"no scheme", `{"url":"example.com"}`, nil, http.StatusBadRequest, models.ErrCodeUsage},
		{"post without body", `{"url":"http://example.com/","method":"POST"}`, nil, http.StatusBadRequest, models.ErrCodeUsage},
		{"bad format", `{"url":"http://example.com/","format":"pdf"}`, nil, http.StatusBadRequest, models.ErrCodeUsage},
		{"network", `{"url":"http://example.com/"}`, models.NetworkError("navigation failed", io.EOF), http.StatusBadGateway, models.ErrCodeNetwork},
		{"internal", `{"url":"http://example.com/"}`, io.ErrUnexpectedEOF, http.StatusInternalServerError, models.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := &fakeEngine{body: staticBody("<html></html>"), err: tt.err}
			w, resp := doFetch(t, newTestRouter(fe, nil, nil), tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if resp.Success || resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.code)
			}
			if tt.err == nil && fe.calls.Load() != 0 {
				t.Errorf("engine called %d times for a usage error", fe.calls.Load())
			}
		})
	}
}

func TestFetch_Format(t *testing.T) {
	fe := &fakeEngine{body: staticBody("<html><body><p>Hello <b>world</b></p><script>x()</script></body></html>")}
	w, resp := doFetch(t, newTestRouter(fe, nil, nil), `{"url":"http://example.com/","format":"text"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp.Result.Body != "Hello world" {
		t.Errorf("body = %q", resp.Result.Body)
	}
}

func TestFetch_BadSelector(t *testing.T) {
	fe := &fakeEngine{body: staticBody("<html></html>")}
	w, resp := doFetch(t, newTestRouter(fe, nil, nil), `{"url":"http://example.com/","selector":"div[["}`)
	if w.Code != http.StatusBadRequest || resp.Error.Code != models.ErrCodeUsage {
		t.Errorf("status = %d error = %+v", w.Code, resp.Error)
	}
}

func TestFetch_CacheHitAndMiss(t *testing.T) {
	fe := &fakeEngine{body: func(n int32) string { return "<html><body>v1</body></html>" }}
	store := cache.NewMemory(10, time.Hour)
	defer store.Close()
	r := newTestRouter(fe, store, nil)

	body := `{"url":"http://example.com/","max_age_ms":60000}`
	_, first := doFetch(t, r, body)
	if first.CacheStatus != "miss" {
		t.Errorf("first cache_status = %q, want miss", first.CacheStatus)
	}
	_, second := doFetch(t, r, body)
	if second.CacheStatus != "hit" {
		t.Errorf("second cache_status = %q, want hit", second.CacheStatus)
	}
	if fe.calls.Load() != 1 {
		t.Errorf("engine calls = %d, want 1", fe.calls.Load())
	}
	if second.Result.Body != first.Result.Body {
		t.Errorf("hit body %q != miss body %q", second.Result.Body, first.Result.Body)
	}
	if second.RequestID == first.RequestID {
		t.Error("cached response reused the original request id")
	}

	// A different cookie is a different capture.
	_, third := doFetch(t, r, `{"url":"http://example.com/","max_age_ms":60000,"cookie":"x=1"}`)
	if third.CacheStatus != "miss" || fe.calls.Load() != 2 {
		t.Errorf("cookie change: cache_status=%q calls=%d", third.CacheStatus, fe.calls.Load())
	}
}

func TestFetch_DiffPrevious(t *testing.T) {
	bodies := []string{
		"<html><body><p>price is 10 dollars</p></body></html>",
		"<html><body><p>price is 12 dollars</p></body></html>",
	}
	fe := &fakeEngine{body: func(n int32) string { return bodies[min(int(n)-1, len(bodies)-1)] }}
	store := cache.NewMemory(10, time.Hour)
	defer store.Close()
	r := newTestRouter(fe, store, nil)

	body := `{"url":"http://example.com/","diff_previous":true}`
	_, first := doFetch(t, r, body)
	if first.Diff != nil {
		t.Errorf("first fetch has diff %+v", first.Diff)
	}

	_, second := doFetch(t, r, body)
	if second.Diff == nil {
		t.Fatal("second fetch has no diff")
	}
	if !second.Diff.Changed || second.Diff.Patch == "" {
		t.Errorf("diff = %+v", second.Diff)
	}
	if !strings.Contains(second.Diff.Patch, "12") {
		t.Errorf("patch %q does not mention the new value", second.Diff.Patch)
	}
	if second.Diff.PreviousAt.IsZero() {
		t.Error("previous_at not set")
	}
	if fe.calls.Load() != 2 {
		t.Errorf("diff_previous without max_age should always fetch, calls = %d", fe.calls.Load())
	}
}

func TestFetch_Webhook(t *testing.T) {
	got := make(chan webhook.Event, 1)
	sigOK := make(chan bool, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		sigOK <- webhook.Verify("s3cret", raw, r.Header.Get(webhook.SignatureHeader))
		var ev webhook.Event
		_ = json.NewDecoder(bytes.NewReader(raw)).Decode(&ev)
		got <- ev
	}))
	defer srv.Close()

	fe := &fakeEngine{body: staticBody("<html></html>")}
	r := newTestRouter(fe, nil, webhook.NewSender())

	payload, _ := json.Marshal(map[string]any{
		"url":            "http://example.com/",
		"webhook_url":    srv.URL,
		"webhook_secret": "s3cret",
	})
	_, resp := doFetch(t, r, string(payload))

	select {
	case ev := <-got:
		if ev.Type != webhook.EventFetchCompleted || ev.FetchID != resp.RequestID || ev.URL != "http://example.com/" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
	if !<-sigOK {
		t.Error("webhook signature did not verify")
	}
}

func TestMapErrorToStatus(t *testing.T) {
	tests := map[string]int{
		models.ErrCodeUsage:        http.StatusBadRequest,
		models.ErrCodeNetwork:      http.StatusBadGateway,
		models.ErrCodeConversion:   http.StatusUnprocessableEntity,
		models.ErrCodeBrowserCrash: http.StatusServiceUnavailable,
		models.ErrCodeRateLimited:  http.StatusTooManyRequests,
		models.ErrCodeUnauthorized: http.StatusUnauthorized,
		models.ErrCodeInternal:     http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := mapErrorToStatus(&models.FetchError{Code: code}); got != want {
			t.Errorf("%s -> %d, want %d", code, got, want)
		}
	}
}

func TestBuildDiff_Identical(t *testing.T) {
	res := &models.FetchAPIResponse{
		Result:      &models.CapturedResponse{Body: "same"},
		Fingerprint: &models.FingerprintInfo{Body: "00000000000000ff", DOM: "0000000000000000"},
	}
	prev := cache.Entry{Response: res, CreatedAt: time.Unix(100, 0)}
	cur := &models.FetchAPIResponse{
		Result:      &models.CapturedResponse{Body: "same"},
		Fingerprint: &models.FingerprintInfo{Body: "000000000000000f", DOM: "zz"},
	}

	d := buildDiff(prev, cur)
	if d.Changed || d.Patch != "" {
		t.Errorf("identical bodies reported changed: %+v", d)
	}
	if d.BodyDistance != 4 {
		t.Errorf("body distance = %d, want 4", d.BodyDistance)
	}
	if d.DOMDistance != 64 {
		t.Errorf("unparseable dom distance = %d, want 64", d.DOMDistance)
	}
}
