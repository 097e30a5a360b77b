package middleware

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

const cacheStatusHeader = "X-Cache"

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// CacheMiddleware serves repeated GETs on cache-enabled routes from the
// cache manager. A successful mutating request on the same route drops
// every entry carrying the route's tags.
type CacheMiddleware struct {
	logger     types.Logger
	metrics    types.MetricsManager
	cache      types.CacheManager
	defaultTTL time.Duration
}

func NewCacheMiddleware(logger types.Logger, metrics types.MetricsManager, cache types.CacheManager, defaultTTL time.Duration) *CacheMiddleware {
	return &CacheMiddleware{
		logger:     logger,
		metrics:    metrics,
		cache:      cache,
		defaultTTL: defaultTTL,
	}
}

func (c *CacheMiddleware) Name() string { return "cache" }
func (c *CacheMiddleware) Weight() int  { return WeightCache }

func (c *CacheMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, config *types.RouteConfig) {
	if c.cache == nil || config == nil || !config.CacheEnabled {
		next(ctx)
		return
	}

	if !ctx.IsGet() {
		next(ctx)
		c.invalidate(ctx, config)
		return
	}

	cacheKey := c.buildCacheKey(ctx)

	if cached, ok := c.cache.Get(ctx, cacheKey); ok {
		if c.restoreResponse(ctx, cached) {
			c.logger.Debug("Cache hit", zap.String("cache_key", cacheKey))
			return
		}
		c.cache.Delete(ctx, cacheKey)
	}

	next(ctx)

	ctx.Response.Header.Set(cacheStatusHeader, "MISS")

	if !c.shouldCacheResponse(ctx) {
		return
	}

	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.cache.Set(ctx, cacheKey, cachedResponse{
		Status:      ctx.Response.StatusCode(),
		ContentType: string(ctx.Response.Header.ContentType()),
		Body:        string(ctx.Response.Body()),
	}, types.SetOptions{
		TTL:  ttl,
		Tags: config.CacheTags,
	})

	c.logger.Debug("Cache set",
		zap.String("cache_key", cacheKey),
		zap.Duration("ttl", ttl))
}

func (c *CacheMiddleware) invalidate(ctx *fasthttp.RequestCtx, config *types.RouteConfig) {
	status := ctx.Response.StatusCode()
	if status < 200 || status >= 300 || len(config.CacheTags) == 0 {
		return
	}

	removed := c.cache.InvalidateByTags(ctx, config.CacheTags...)
	c.logger.Debug("Cache invalidated by mutation",
		zap.ByteString("method", ctx.Method()),
		zap.Strings("tags", config.CacheTags),
		zap.Int("removed", removed))
}

func (c *CacheMiddleware) shouldCacheResponse(ctx *fasthttp.RequestCtx) bool {
	status := ctx.Response.StatusCode()
	if status < 200 || status >= 300 {
		return false
	}

	if len(ctx.Response.Body()) == 0 {
		return false
	}

	cacheControl := strings.ToLower(string(ctx.Response.Header.Peek("Cache-Control")))
	return !strings.Contains(cacheControl, "no-cache") && !strings.Contains(cacheControl, "no-store")
}

func (c *CacheMiddleware) buildCacheKey(ctx *fasthttp.RequestCtx) string {
	var b strings.Builder
	b.WriteString("http:")
	b.Write(ctx.Method())
	b.WriteByte(':')
	b.Write(ctx.Path())

	if query := ctx.QueryArgs().QueryString(); len(query) > 0 {
		b.WriteByte('?')
		b.Write(query)
	}

	return b.String()
}

func (c *CacheMiddleware) restoreResponse(ctx *fasthttp.RequestCtx, cached interface{}) bool {
	var resp cachedResponse
	if err := utils.Convert(cached, &resp); err != nil || resp.Status == 0 {
		c.logger.Warn("Discarding unusable cached response", zap.Error(err))
		return false
	}

	ctx.SetStatusCode(resp.Status)
	if resp.ContentType != "" {
		ctx.SetContentType(resp.ContentType)
	}
	ctx.SetBodyString(resp.Body)
	ctx.Response.Header.Set(cacheStatusHeader, "HIT")
	return true
}
