package service

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/saiset-co/sai-ratecache/middleware"
	"github.com/saiset-co/sai-ratecache/ratelimit"
	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

// checkRequest either names a preset or carries an ad hoc limit.
// Durations use time.ParseDuration syntax.
type checkRequest struct {
	Preset        string          `json:"preset"`
	Identifier    string          `json:"identifier"`
	Limit         int             `json:"limit"`
	Window        string          `json:"window"`
	Algorithm     types.Algorithm `json:"algorithm"`
	BlockDuration string          `json:"block_duration"`
}

type invalidateRequest struct {
	Tags []string `json:"tags"`
}

type statsResponse struct {
	Cache     types.CacheManagerStats `json:"cache"`
	RateLimit ratelimit.Stats         `json:"rate_limit"`
}

// maxCheckLimit bounds ad hoc limits. A sliding window keeps one
// timestamp per admitted request, up to the limit.
const maxCheckLimit = 1_000_000

var internalRoute = &types.RouteConfig{
	DisabledMiddlewares: []string{"rate_limit", "cache"},
}

func (s *Service) registerRoutes() {
	s.router.GET("/health", s.health.Handle, internalRoute)
	s.router.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(s.metrics.Handler()), internalRoute)
	s.router.GET("/stats", s.handleStats, internalRoute)

	s.router.POST("/ratelimit/check", s.handleRateLimitCheck, &types.RouteConfig{
		DisabledMiddlewares: []string{"cache"},
	})
	s.router.GET("/ratelimit/presets", s.handlePresets, &types.RouteConfig{
		CacheEnabled: true,
		CacheTags:    []string{"presets"},
	})
	s.router.DELETE("/ratelimit/blocks/{identifier}", s.handleUnblock, internalRoute)

	s.router.POST("/cache/invalidate", s.handleInvalidate, internalRoute)
	s.router.POST("/cleanup", s.handleCleanup, internalRoute)
}

func (s *Service) handleStats(ctx *fasthttp.RequestCtx) {
	middleware.WriteJSON(ctx, fasthttp.StatusOK, statsResponse{
		Cache:     s.cache.GetStats(ctx),
		RateLimit: s.rateLimit.Stats(),
	})
}

func (s *Service) handleRateLimitCheck(ctx *fasthttp.RequestCtx) {
	var request checkRequest
	if err := utils.Unmarshal(ctx.PostBody(), &request); err != nil {
		badRequest(ctx, "invalid JSON body")
		return
	}

	if request.Identifier == "" {
		badRequest(ctx, "identifier is required")
		return
	}

	var result types.RateLimitResult

	if request.Preset != "" {
		var err error
		result, err = s.rateLimit.CheckPreset(request.Preset, request.Identifier)
		if err != nil {
			badRequest(ctx, err.Error())
			return
		}
	} else {
		config, err := request.config()
		if err != nil {
			badRequest(ctx, err.Error())
			return
		}
		result = s.rateLimit.Check(config)
	}

	ctx.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	ctx.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))

	status := fasthttp.StatusOK
	if !result.Success {
		status = fasthttp.StatusTooManyRequests
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds()))
	}

	middleware.WriteJSON(ctx, status, result)
}

func (s *Service) handlePresets(ctx *fasthttp.RequestCtx) {
	middleware.WriteJSON(ctx, fasthttp.StatusOK, s.rateLimit.Presets())
}

func (s *Service) handleUnblock(ctx *fasthttp.RequestCtx) {
	identifier, _ := ctx.UserValue("identifier").(string)

	middleware.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"identifier": identifier,
		"unblocked":  s.rateLimit.Unblock(identifier),
	})
}

func (s *Service) handleInvalidate(ctx *fasthttp.RequestCtx) {
	var request invalidateRequest
	if err := utils.Unmarshal(ctx.PostBody(), &request); err != nil {
		badRequest(ctx, "invalid JSON body")
		return
	}

	if len(request.Tags) == 0 {
		badRequest(ctx, "tags are required")
		return
	}

	middleware.WriteJSON(ctx, fasthttp.StatusOK, map[string]int{
		"removed": s.cache.InvalidateByTags(ctx, request.Tags...),
	})
}

func (s *Service) handleCleanup(ctx *fasthttp.RequestCtx) {
	middleware.WriteJSON(ctx, fasthttp.StatusOK, map[string]int{
		"cache":      s.cache.Cleanup(ctx),
		"rate_limit": s.rateLimit.Cleanup(),
	})
}

func (r checkRequest) config() (types.RateLimitConfig, error) {
	config := types.RateLimitConfig{
		Identifier: r.Identifier,
		Limit:      r.Limit,
		Algorithm:  r.Algorithm,
	}

	if r.Limit < 0 {
		return config, types.Errorf(types.ErrRateLimitConfigInvalid, "limit must not be negative")
	}
	if r.Limit > maxCheckLimit {
		return config, types.Errorf(types.ErrRateLimitConfigInvalid, "limit must not exceed %d", maxCheckLimit)
	}

	window, err := time.ParseDuration(r.Window)
	if err != nil {
		return config, types.Errorf(types.ErrRateLimitConfigInvalid, "window: %v", err)
	}
	config.Window = window

	if r.BlockDuration != "" {
		block, err := time.ParseDuration(r.BlockDuration)
		if err != nil {
			return config, types.Errorf(types.ErrRateLimitConfigInvalid, "block_duration: %v", err)
		}
		config.BlockDuration = block
	}

	return config, nil
}

func badRequest(ctx *fasthttp.RequestCtx, message string) {
	middleware.WriteJSON(ctx, fasthttp.StatusBadRequest, middleware.ErrorResponse{
		Error:   "Bad request",
		Message: message,
	})
}
