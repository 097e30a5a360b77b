package server

import (
	"strings"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type route struct {
	method   string
	pattern  string
	segments []string
	handler  fasthttp.RequestHandler
	config   *types.RouteConfig
}

// Router matches static paths by map lookup and "{param}" patterns by
// segment comparison. Matched params are stored as request user values.
type Router struct {
	static  map[string]*route
	dynamic []*route
	mu      sync.RWMutex
}

func NewRouter() *Router {
	return &Router{
		static: make(map[string]*route),
	}
}

func (r *Router) Add(method, path string, handler fasthttp.RequestHandler, config *types.RouteConfig) {
	if config == nil {
		config = &types.RouteConfig{}
	}

	rt := &route{
		method:   method,
		pattern:  path,
		segments: splitPath(path),
		handler:  handler,
		config:   config,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.Contains(path, "{") {
		r.dynamic = append(r.dynamic, rt)
		return
	}
	r.static[method+":"+normalizePath(path)] = rt
}

func (r *Router) GET(path string, handler fasthttp.RequestHandler, config *types.RouteConfig) {
	r.Add(fasthttp.MethodGet, path, handler, config)
}

func (r *Router) POST(path string, handler fasthttp.RequestHandler, config *types.RouteConfig) {
	r.Add(fasthttp.MethodPost, path, handler, config)
}

func (r *Router) DELETE(path string, handler fasthttp.RequestHandler, config *types.RouteConfig) {
	r.Add(fasthttp.MethodDelete, path, handler, config)
}

// Match finds the route for method and path. ok is false when nothing
// matches; params is nil for static routes.
func (r *Router) Match(method, path string) (handler fasthttp.RequestHandler, config *types.RouteConfig, params map[string]string, ok bool) {
	path = normalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if rt, exists := r.static[method+":"+path]; exists {
		return rt.handler, rt.config, nil, true
	}

	segments := splitPath(path)
	for _, rt := range r.dynamic {
		if rt.method != method {
			continue
		}
		if params, matched := matchSegments(rt.segments, segments); matched {
			return rt.handler, rt.config, params, true
		}
	}

	return nil, nil, nil, false
}

func matchSegments(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}

	params := make(map[string]string, 1)
	for i, segment := range pattern {
		if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			if path[i] == "" {
				return nil, false
			}
			params[segment[1:len(segment)-1]] = path[i]
			continue
		}
		if segment != path[i] {
			return nil, false
		}
	}

	return params, true
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}

func normalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return strings.TrimRight(path, "/")
	}
	return path
}

func methodAndPath(ctx *fasthttp.RequestCtx) (string, string) {
	return string(ctx.Method()), utils.BytesToString(ctx.Path())
}
