package middleware

import (
	"bytes"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
)

// PresetChecker is the part of the rate-limit manager the middleware needs.
type PresetChecker interface {
	CheckPreset(name, identifier string) (types.RateLimitResult, error)
}

var (
	realIPHeader    = []byte("X-Real-IP")
	forwardedHeader = []byte("X-Forwarded-For")
	commaBytes      = []byte(",")
)

// RateLimitMiddleware limits each client per preset. The identifier is
// "<preset>:<client ip>", so presets never share counters or blocks.
type RateLimitMiddleware struct {
	logger        types.Logger
	metrics       types.MetricsManager
	limiter       PresetChecker
	defaultPreset string
}

func NewRateLimitMiddleware(logger types.Logger, metrics types.MetricsManager, limiter PresetChecker, defaultPreset string) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		logger:        logger,
		metrics:       metrics,
		limiter:       limiter,
		defaultPreset: defaultPreset,
	}
}

func (rl *RateLimitMiddleware) Name() string { return "rate_limit" }
func (rl *RateLimitMiddleware) Weight() int  { return WeightRateLimit }

func (rl *RateLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, config *types.RouteConfig) {
	preset := rl.defaultPreset
	if config != nil && config.RateLimitPreset != "" {
		preset = config.RateLimitPreset
	}

	if preset == "" {
		next(ctx)
		return
	}

	identifier := preset + ":" + ClientIP(ctx)

	result, err := rl.limiter.CheckPreset(preset, identifier)
	if err != nil {
		// An unknown preset is a deployment mistake, not the client's.
		rl.logger.Error("Rate limit preset lookup failed",
			zap.String("preset", preset),
			zap.Error(err))
		next(ctx)
		return
	}

	setRateLimitHeaders(ctx, result)

	if !result.Success {
		rl.metrics.Counter("http_rate_limited_total", map[string]string{"preset": preset}).Inc()
		rl.logger.Debug("Request rate limited",
			zap.String("identifier", identifier),
			zap.Int("retry_after", result.RetryAfterSeconds()))

		ctx.Response.Header.Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds()))
		WriteJSON(ctx, fasthttp.StatusTooManyRequests, ErrorResponse{
			Error:      "Rate limit exceeded",
			Message:    "Too many requests",
			RetryAfter: result.RetryAfterSeconds(),
		})
		return
	}

	next(ctx)
}

func setRateLimitHeaders(ctx *fasthttp.RequestCtx, result types.RateLimitResult) {
	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
}

// ClientIP prefers X-Real-IP, then the first X-Forwarded-For hop, then the
// connection address.
func ClientIP(ctx *fasthttp.RequestCtx) string {
	if realIP := ctx.Request.Header.PeekBytes(realIPHeader); len(realIP) > 0 {
		return string(bytes.TrimSpace(realIP))
	}

	if forwarded := ctx.Request.Header.PeekBytes(forwardedHeader); len(forwarded) > 0 {
		if comma := bytes.Index(forwarded, commaBytes); comma > 0 {
			return string(bytes.TrimSpace(forwarded[:comma]))
		}
		return string(bytes.TrimSpace(forwarded))
	}

	return ctx.RemoteIP().String()
}
