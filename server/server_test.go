package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/saiset-co/sai-ratecache/logger"
	"github.com/saiset-co/sai-ratecache/types"
)

func TestRouterMatch(t *testing.T) {
	r := NewRouter()

	stats := func(*fasthttp.RequestCtx) {}
	unblock := func(*fasthttp.RequestCtx) {}

	r.GET("/stats", stats, &types.RouteConfig{CacheEnabled: true})
	r.DELETE("/ratelimit/blocks/{identifier}", unblock, nil)

	_, config, params, ok := r.Match("GET", "/stats/")
	require.True(t, ok)
	require.True(t, config.CacheEnabled)
	require.Nil(t, params)

	_, _, _, ok = r.Match("POST", "/stats")
	require.False(t, ok)

	_, config, params, ok = r.Match("DELETE", "/ratelimit/blocks/auth:10.0.0.1")
	require.True(t, ok)
	require.NotNil(t, config)
	require.Equal(t, map[string]string{"identifier": "auth:10.0.0.1"}, params)

	_, _, _, ok = r.Match("DELETE", "/ratelimit/blocks")
	require.False(t, ok)

	_, _, _, ok = r.Match("DELETE", "/ratelimit/blocks/a/b")
	require.False(t, ok)
}

type tagMiddleware struct{}

func (tagMiddleware) Execute(ctx *fasthttp.RequestCtx, handler fasthttp.RequestHandler, config *types.RouteConfig) {
	ctx.Response.Header.Set("X-Preset", config.RateLimitPreset)
	handler(ctx)
}

func (tagMiddleware) Register(types.Middleware) error { return nil }

func (tagMiddleware) Clear() {}

func startServer(t *testing.T, router *Router, middlewares types.MiddlewareManager) *fasthttp.Client {
	t.Helper()

	srv, err := NewHTTPServer(context.Background(), &types.ServerConfig{Host: "localhost", Port: 0}, logger.NewNop(), middlewares, router)
	require.NoError(t, err)

	listener := fasthttputil.NewInmemoryListener()
	require.NoError(t, srv.Serve(listener))
	require.True(t, srv.IsRunning())
	require.ErrorIs(t, srv.Serve(listener), types.ErrServerAlreadyRunning)

	t.Cleanup(func() {
		require.NoError(t, srv.Stop())
		require.False(t, srv.IsRunning())
	})

	return &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return listener.Dial() },
	}
}

func do(t *testing.T, client *fasthttp.Client, method, uri string) *fasthttp.Response {
	t.Helper()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)

	resp := &fasthttp.Response{}
	require.NoError(t, client.Do(req, resp))
	return resp
}

func TestServerRoutesThroughMiddlewares(t *testing.T) {
	router := NewRouter()
	router.DELETE("/ratelimit/blocks/{identifier}", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(ctx.UserValue("identifier").(string))
	}, &types.RouteConfig{RateLimitPreset: "api"})

	client := startServer(t, router, tagMiddleware{})

	resp := do(t, client, "DELETE", "http://ratecache/ratelimit/blocks/login:42")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	require.Equal(t, "login:42", string(resp.Body()))
	require.Equal(t, "api", string(resp.Header.Peek("X-Preset")))

	resp = do(t, client, "GET", "http://ratecache/nowhere")
	require.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())
	require.JSONEq(t, `{"error":"Not found"}`, string(resp.Body()))
}

func TestServerWithoutMiddlewares(t *testing.T) {
	router := NewRouter()
	router.GET("/ping", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("pong")
	}, nil)

	client := startServer(t, router, nil)

	resp := do(t, client, "GET", "http://ratecache/ping")
	require.Equal(t, "pong", string(resp.Body()))
}

func TestStopBeforeStart(t *testing.T) {
	srv, err := NewHTTPServer(context.Background(), &types.ServerConfig{Host: "localhost", Port: 8080}, logger.NewNop(), nil, NewRouter())
	require.NoError(t, err)
	require.Equal(t, "localhost:8080", srv.Addr())
	require.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)

	_, err = NewHTTPServer(context.Background(), nil, logger.NewNop(), nil, NewRouter())
	require.ErrorIs(t, err, types.ErrConfigIsNil)
}
