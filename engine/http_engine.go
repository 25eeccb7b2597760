package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/pagefetch/models"
	"golang.org/x/net/html/charset"
)

// maxBody caps how much of a response body is read.
const maxBody = 10 << 20

// HTTPEngine fetches without a browser: no JavaScript, no sub-resources.
// It keeps the capture contract of the browser engines: the Cookie header is
// forced on every request (redirects included) and only the response whose
// URL equals the requested URL is captured.
type HTTPEngine struct {
	defaultProxy string
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec *tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// http.Transport cannot speak h2 over a utls conn, so drop h2 from ALPN.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = &spec
}

// NewHTTPEngine creates an HTTPEngine. defaultProxy applies when a request
// carries no proxy of its own.
func NewHTTPEngine(defaultProxy string) *HTTPEngine {
	return &HTTPEngine{defaultProxy: defaultProxy}
}

func (e *HTTPEngine) Name() string { return "http" }

func (e *HTTPEngine) Fetch(ctx context.Context, req *models.FetchRequest) (*models.CapturedResponse, error) {
	if err := Prepare(req, true); err != nil {
		return nil, err
	}

	capture := NewCapture(req.URL)
	trail := &cookieTrail{}
	client := &http.Client{
		Transport: &observingTransport{
			base:    e.transport(req.Proxy),
			cookie:  req.Cookie,
			capture: capture,
			trail:   trail,
		},
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
		Timeout: ResourceTimeout(req.ResourceTimeoutSec),
	}
	defer client.CloseIdleConnections()

	var body io.Reader
	if req.Method == models.MethodPost {
		body = strings.NewReader(req.BodyString())
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, models.UsageError("build request: %v", err)
	}
	httpReq.Header.Set("User-Agent", req.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "identity")
	if req.Method == models.MethodPost {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, models.NetworkError("navigation to target URL failed", err)
	}
	defer resp.Body.Close()

	content, err := readDecoded(resp)
	if err != nil {
		return nil, models.NetworkError("failed to read response body", err)
	}
	elapsed := time.Since(start)
	slog.Info("navigation completed",
		"engine", e.Name(),
		"url", req.URL,
		"final_url", resp.Request.URL.String(),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	if err := Settle(ctx, SettleDelay(req.SettleDelayMs)); err != nil {
		return nil, models.NetworkError("canceled while settling", err)
	}

	headers, status := capture.Snapshot()
	return &models.CapturedResponse{
		Header:  headers,
		Code:    status,
		Cookie:  MergeCookies(append([]string{req.Cookie}, trail.list()...)...),
		Body:    content,
		Elapsed: elapsed,
	}, nil
}

// transport builds a transport dialing TLS with a Chrome fingerprint.
func (e *HTTPEngine) transport(proxyOverride string) *http.Transport {
	t := &http.Transport{
		DialTLSContext:    dialTLSChrome,
		ForceAttemptHTTP2: false,
	}
	proxy := proxyOverride
	if proxy == "" {
		proxy = e.defaultProxy
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			t.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return t
}

// dialTLSChrome establishes a TLS connection using a Chrome fingerprint via utls.
func dialTLSChrome(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)

	var tlsConn *tls.UConn
	if chromeH1Spec != nil {
		tlsConn = tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
		if err := tlsConn.ApplyPreset(chromeH1Spec); err != nil {
			conn.Close()
			return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
		}
	} else {
		tlsConn = tls.UClient(conn, &tls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}, tls.HelloGolang)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// readDecoded reads the body and converts it to UTF-8 using the declared
// or sniffed charset. Undecodable bodies are returned as-is.
func readDecoded(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}
	r, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		return string(raw), nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(raw), nil
	}
	return string(decoded), nil
}

// observingTransport plays the role of the browser's request and response
// hooks for the plain HTTP engine.
type observingTransport struct {
	base    http.RoundTripper
	cookie  string
	capture *Capture
	trail   *cookieTrail
}

func (t *observingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.cookie != "" {
		r = r.Clone(r.Context())
		r.Header.Set("Cookie", t.cookie)
	}
	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	t.capture.Record(r.URL.String(), resp.StatusCode, flattenHeader(resp.Header))
	for _, c := range resp.Cookies() {
		t.trail.add(c.Name + "=" + c.Value)
	}
	return resp, nil
}

// flattenHeader keeps the last value of each header name.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[len(vs)-1]
		}
	}
	return out
}

// cookieTrail records Set-Cookie pairs in arrival order.
type cookieTrail struct {
	mu    sync.Mutex
	pairs []string
}

func (c *cookieTrail) add(pair string) {
	c.mu.Lock()
	c.pairs = append(c.pairs, pair)
	c.mu.Unlock()
}

func (c *cookieTrail) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pairs...)
}
