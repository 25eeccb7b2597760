package fetcher

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/pagefetch/engine"
)

// setupHijack drives the Fetch domain for one page. Every request pauses
// twice: at the request stage images are failed as blocked-by-client and the
// rest continue with the forced Cookie header (the first main-frame document
// becomes the POST), and at the response stage the status and headers are
// recorded into capture.
//
// Response capture lives here rather than in a Network.responseReceived
// listener: running EachEvent on Network events next to Fetch interception
// makes Chromium 145+ fail requests with ERR_BLOCKED_BY_CLIENT.
//
// Returns a stop function the caller must defer.
func setupHijack(page *rod.Page, icpt *engine.Interceptor, capture *engine.Capture) (func(), error) {
	evCtx, cancel := context.WithCancel(page.GetContext())

	// Subscribe before enabling so no paused request is missed.
	wait := page.Context(evCtx).EachEvent(func(e *proto.FetchRequestPaused) {
		go handlePaused(page, icpt, capture, e)
	})

	enable := proto.FetchEnable{Patterns: []*proto.FetchRequestPattern{{URLPattern: "*"}}}
	if err := enable.Call(page); err != nil {
		cancel()
		return nil, err
	}
	go wait()

	return func() {
		_ = proto.FetchDisable{}.Call(page)
		cancel()
	}, nil
}

func handlePaused(page *rod.Page, icpt *engine.Interceptor, capture *engine.Capture, e *proto.FetchRequestPaused) {
	// ── Response stage ───────────────────────────────────────────────
	if e.ResponseStatusCode != nil || e.ResponseErrorReason != "" {
		if e.ResponseStatusCode != nil {
			capture.Record(e.Request.URL, *e.ResponseStatusCode, fromFetchHeaders(e.ResponseHeaders))
		}
		if err := (proto.FetchContinueRequest{RequestID: e.RequestID}).Call(page); err != nil {
			slog.Debug("continue response failed", "url", e.Request.URL, "error", err)
		}
		return
	}

	// ── Request stage ────────────────────────────────────────────────
	if icpt.Block(string(e.ResourceType)) {
		_ = proto.FetchFailRequest{RequestID: e.RequestID, ErrorReason: proto.NetworkErrorReasonBlockedByClient}.Call(page)
		return
	}

	navigation := e.ResourceType == proto.NetworkResourceTypeDocument && e.FrameID == page.FrameID
	rw := icpt.Rewrite(navigation, fromProtoHeaders(e.Request.Headers))
	cont := proto.FetchContinueRequest{
		RequestID:         e.RequestID,
		Headers:           toFetchHeaders(rw.Headers),
		InterceptResponse: true,
	}
	if rw.Method != "" {
		cont.Method = rw.Method
		cont.PostData = rw.PostData
		slog.Debug("navigation rewritten to POST", "url", e.Request.URL, "bytes", len(rw.PostData))
	}
	if err := cont.Call(page); err != nil {
		slog.Debug("continue request failed", "url", e.Request.URL, "error", err)
	}
}

// fromProtoHeaders converts CDP headers (map[string]gson.JSON) to strings.
func fromProtoHeaders(h proto.NetworkHeaders) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}

// fromFetchHeaders flattens response-stage headers. Repeated names are
// joined the way Chrome reports them in Network events.
func fromFetchHeaders(hs []*proto.FetchHeaderEntry) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		if prev, ok := out[h.Name]; ok {
			out[h.Name] = prev + "\n" + h.Value
			continue
		}
		out[h.Name] = h.Value
	}
	return out
}

func toFetchHeaders(hs []engine.HeaderEntry) []*proto.FetchHeaderEntry {
	out := make([]*proto.FetchHeaderEntry, 0, len(hs))
	for _, h := range hs {
		out = append(out, &proto.FetchHeaderEntry{Name: h.Name, Value: h.Value})
	}
	return out
}
