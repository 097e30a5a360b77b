package types

import (
	"time"

	"github.com/valyala/fasthttp"
)

type MiddlewareManager interface {
	Register(middleware Middleware) error
	Execute(ctx *fasthttp.RequestCtx, handler fasthttp.RequestHandler, config *RouteConfig)
	Clear()
}

type Middleware interface {
	Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, config *RouteConfig)
	Name() string
	Weight() int
}

type MiddlewareEntry struct {
	Name       string
	Middleware Middleware
	Weight     int
}

// RouteConfig carries the per-route knobs middlewares read.
type RouteConfig struct {
	CacheEnabled        bool
	CacheTTL            time.Duration
	CacheTags           []string
	RateLimitPreset     string
	DisabledMiddlewares []string
}

func (rc *RouteConfig) IsDisabled(name string) bool {
	if rc == nil {
		return false
	}
	for _, disabled := range rc.DisabledMiddlewares {
		if disabled == name {
			return true
		}
	}
	return false
}
