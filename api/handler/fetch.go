package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pagefetch/api/middleware"
	"github.com/use-agent/pagefetch/cache"
	"github.com/use-agent/pagefetch/cleaner"
	"github.com/use-agent/pagefetch/config"
	"github.com/use-agent/pagefetch/engine"
	"github.com/use-agent/pagefetch/fingerprint"
	"github.com/use-agent/pagefetch/models"
	"github.com/use-agent/pagefetch/useragent"
	"github.com/use-agent/pagefetch/webhook"
)

// FetchDeps are the collaborators of the fetch handler. Store and Webhooks
// may be nil.
type FetchDeps struct {
	NewEngine func(name string) (engine.Engine, error)
	Cleaner   *cleaner.Cleaner
	Store     cache.Store
	Webhooks  *webhook.Sender
	Config    config.FetchConfig
}

// Fetch returns a handler for POST /api/v1/fetch.
//
// Orchestration flow:
//  1. Parse & validate request, apply server defaults.
//  2. Cache lookup (max_age_ms > 0 or diff_previous).
//  3. Engine.Fetch       → capture          (records navigation_ms)
//  4. Cleaner.Convert    → format/selector  (records convert_ms)
//  5. Fingerprint + optional diff against the previous capture.
//  6. Cache store, webhook, respond.
func Fetch(d FetchDeps) gin.HandlerFunc {
	if d.NewEngine == nil {
		d.NewEngine = engine.New
	}
	if d.Cleaner == nil {
		d.Cleaner = cleaner.NewCleaner()
	}

	return func(c *gin.Context) {
		totalStart := time.Now()
		requestID := c.GetString(middleware.ContextKeyRequestID)

		// ── 1. Parse request ────────────────────────────────────────
		var apiReq models.FetchAPIRequest
		if err := c.ShouldBindJSON(&apiReq); err != nil {
			respondError(c, models.UsageError("%v", err), models.TimingInfo{}, requestID)
			return
		}
		req := apiReq.ToFetchRequest()
		applyServerDefaults(req, &apiReq, d.Config)
		if err := req.Validate(); err != nil {
			respondError(c, err, models.TimingInfo{}, requestID)
			return
		}
		engineName := apiReq.Engine
		if engineName == "" {
			engineName = d.Config.Engine
		}

		// ── 2. Cache lookup ─────────────────────────────────────────
		useCache := d.Store != nil && (apiReq.MaxAgeMs > 0 || apiReq.DiffPrevious)
		var cacheKey string
		var previous cache.Entry
		var hasPrevious bool
		if useCache {
			cacheKey = cache.Key(req, engineName, apiReq.Format, apiReq.Selector)
			entry, ok, err := d.Store.Get(c.Request.Context(), cacheKey)
			if err != nil {
				slog.Warn("cache lookup failed", "request_id", requestID, "error", err)
			}
			previous, hasPrevious = entry, ok
			maxAge := time.Duration(apiReq.MaxAgeMs) * time.Millisecond
			if ok && entry.Fresh(maxAge, time.Now()) {
				hit := *entry.Response
				hit.CacheStatus = "hit"
				hit.RequestID = requestID
				hit.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				c.PureJSON(http.StatusOK, hit)
				return
			}
		}

		// ── 3. Fetch ────────────────────────────────────────────────
		eng, err := d.NewEngine(engineName)
		if err != nil {
			respondError(c, err, models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}, requestID)
			return
		}

		ctx := c.Request.Context()
		if d.Config.MaxTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.Config.MaxTimeout)
			defer cancel()
		}

		navStart := time.Now()
		captured, err := eng.Fetch(ctx, req)
		navigationMs := time.Since(navStart).Milliseconds()
		if err != nil {
			timing := models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds(), NavigationMs: navigationMs}
			respondError(c, err, timing, requestID)
			notify(d.Webhooks, &apiReq, webhook.EventFetchFailed, requestID, toFetchError(err).ToDetail())
			return
		}

		// ── 4. Convert ──────────────────────────────────────────────
		fp := fingerprint.Of(captured.Body)
		convertStart := time.Now()
		if apiReq.Format != "" || apiReq.Selector != "" {
			body, convErr := d.Cleaner.Convert(captured.Body, req.URL, apiReq.Format, apiReq.Selector)
			if convErr != nil {
				timing := models.TimingInfo{
					TotalMs:      time.Since(totalStart).Milliseconds(),
					NavigationMs: navigationMs,
					ConvertMs:    time.Since(convertStart).Milliseconds(),
				}
				respondError(c, convErr, timing, requestID)
				notify(d.Webhooks, &apiReq, webhook.EventFetchFailed, requestID, toFetchError(convErr).ToDetail())
				return
			}
			captured.Body = body
		}
		convertMs := time.Since(convertStart).Milliseconds()

		// ── 5. Assemble ─────────────────────────────────────────────
		resp := &models.FetchAPIResponse{
			Success: true,
			Result:  captured,
			Fingerprint: &models.FingerprintInfo{
				Body: fingerprint.Hex(fp.Body),
				DOM:  fingerprint.Hex(fp.DOM),
			},
			EngineUsed: eng.Name(),
		}

		// ── 6. Cache store ──────────────────────────────────────────
		if useCache {
			stored := *resp
			if err := d.Store.Set(c.Request.Context(), cacheKey, &stored); err != nil {
				slog.Warn("cache store failed", "request_id", requestID, "error", err)
			}
			if apiReq.MaxAgeMs > 0 {
				resp.CacheStatus = "miss"
			}
		}
		if apiReq.DiffPrevious && hasPrevious {
			resp.Diff = buildDiff(previous, resp)
		}

		resp.RequestID = requestID
		resp.Timing = models.TimingInfo{
			TotalMs:      time.Since(totalStart).Milliseconds(),
			NavigationMs: navigationMs,
			ConvertMs:    convertMs,
		}

		notify(d.Webhooks, &apiReq, webhook.EventFetchCompleted, requestID, resp)
		c.PureJSON(http.StatusOK, resp)
	}
}

// applyServerDefaults fills fields the caller omitted from the server's
// fetch configuration rather than the built-in CLI defaults.
func applyServerDefaults(req *models.FetchRequest, apiReq *models.FetchAPIRequest, cfg config.FetchConfig) {
	if apiReq.UserAgent == "" && cfg.UserAgent != "" {
		req.UserAgent = useragent.Resolve(cfg.UserAgent)
	}
	if apiReq.SettleDelayMs == nil && cfg.SettleDelay > 0 {
		req.SettleDelayMs = int(cfg.SettleDelay / time.Millisecond)
	}
	if apiReq.ResourceTimeoutSec == nil && cfg.ResourceTimeout > 0 {
		req.ResourceTimeoutSec = int(cfg.ResourceTimeout / time.Second)
	}
}

// notify sends the webhook event asynchronously when one was requested.
func notify(s *webhook.Sender, apiReq *models.FetchAPIRequest, eventType, requestID string, data any) {
	if s == nil || apiReq.WebhookURL == "" {
		return
	}
	s.DeliverAsync(apiReq.WebhookURL, apiReq.WebhookSecret, webhook.NewEvent(eventType, requestID, apiReq.URL, data))
}

// respondError maps a FetchError to the HTTP status code and writes a
// structured JSON error response.
func respondError(c *gin.Context, err error, timing models.TimingInfo, requestID string) {
	fe := toFetchError(err)
	c.JSON(mapErrorToStatus(fe), models.FetchAPIResponse{
		Success:   false,
		Error:     fe.ToDetail(),
		Timing:    timing,
		RequestID: requestID,
	})
}

func toFetchError(err error) *models.FetchError {
	var fe *models.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return models.NewFetchError(models.ErrCodeInternal, err.Error(), err)
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.FetchError) int {
	switch e.Code {
	case models.ErrCodeUsage:
		return http.StatusBadRequest // 400
	case models.ErrCodeNetwork:
		return http.StatusBadGateway // 502
	case models.ErrCodeConversion:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeBrowserCrash:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
