package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-ratecache/config"
	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

func newTestService(t *testing.T, serverEnabled bool) *Service {
	t.Helper()

	cm, err := config.NewStaticManager(context.Background(), &types.ServiceConfig{
		Name:    "ratecache-test",
		Version: "0.0.1",
		Logger:  &types.LoggerConfig{Level: "error"},
		Server: &types.ServerConfig{
			Enabled: serverEnabled,
			Host:    "127.0.0.1",
			Port:    0,
		},
		Metrics: &types.MetricsConfig{Enabled: true, Type: "memory"},
	})
	require.NoError(t, err)

	s, err := NewServiceWithConfig(context.Background(), cm)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	t.Cleanup(func() {
		if s.IsRunning() {
			require.NoError(t, s.Stop())
		}
	})

	return s
}

func call(s *Service, method, uri, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	s.Server().Handler()(ctx)
	return ctx
}

func TestLifecycle(t *testing.T) {
	s := newTestService(t, false)

	require.True(t, s.IsRunning())
	require.Nil(t, s.Server())
	require.True(t, s.Cache().IsRunning())
	require.True(t, s.RateLimit().IsRunning())
	require.ErrorIs(t, s.Start(), types.ErrServiceIsRunning)

	report := s.Health().Check(context.Background())
	require.Equal(t, types.StatusHealthy, report.Status)
	require.Len(t, report.Checks, 4)

	require.NoError(t, s.Stop())
	require.False(t, s.IsRunning())
	require.ErrorIs(t, s.Stop(), types.ErrServiceIsNotRunning)
}

func TestRateLimitCheckEndpoint(t *testing.T) {
	s := newTestService(t, true)

	for i := 0; i < 5; i++ {
		ctx := call(s, "POST", "/ratelimit/check", `{"preset":"auth","identifier":"login:alice"}`)
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "attempt %d", i+1)
	}

	ctx := call(s, "POST", "/ratelimit/check", `{"preset":"auth","identifier":"login:alice"}`)
	require.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	require.Equal(t, "3600", string(ctx.Response.Header.Peek("Retry-After")))
	require.Equal(t, "0", string(ctx.Response.Header.Peek("X-RateLimit-Remaining")))
	require.True(t, s.RateLimit().IsBlocked("login:alice"))

	ctx = call(s, "DELETE", "/ratelimit/blocks/login:alice", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.JSONEq(t, `{"identifier":"login:alice","unblocked":true}`, string(ctx.Response.Body()))
	require.False(t, s.RateLimit().IsBlocked("login:alice"))

	ctx = call(s, "POST", "/ratelimit/check", `{"identifier":"job:7","limit":1,"window":"1m","algorithm":"token_bucket"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var result types.RateLimitResult
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &result))
	require.True(t, result.Success)
	require.Equal(t, 1, result.Limit)
	require.Equal(t, 0, result.Remaining)
}

func TestRateLimitCheckRejectsBadInput(t *testing.T) {
	s := newTestService(t, true)

	for _, body := range []string{
		`not json`,
		`{"preset":"auth"}`,
		`{"preset":"nope","identifier":"x"}`,
		`{"identifier":"x","limit":1,"window":"soon"}`,
		`{"identifier":"x","limit":-1,"window":"1m"}`,
		`{"identifier":"x","limit":1000001,"window":"1m"}`,
		`{"identifier":"x","limit":1,"window":"1m","block_duration":"later"}`,
	} {
		ctx := call(s, "POST", "/ratelimit/check", body)
		require.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode(), body)
	}
}

func TestCacheEndpoints(t *testing.T) {
	s := newTestService(t, true)
	bg := context.Background()

	s.Cache().Set(bg, "user:1", map[string]string{"name": "ann"}, types.SetOptions{Tags: []string{"users"}, Strategy: types.StrategyMemoryOnly})
	s.Cache().Set(bg, "user:2", map[string]string{"name": "bob"}, types.SetOptions{Tags: []string{"users"}, Strategy: types.StrategyMemoryOnly})
	s.Cache().Set(bg, "order:1", 42, types.SetOptions{Tags: []string{"orders"}, Strategy: types.StrategyMemoryOnly})

	ctx := call(s, "POST", "/cache/invalidate", `{"tags":["users"]}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.JSONEq(t, `{"removed":2}`, string(ctx.Response.Body()))
	require.True(t, s.Cache().Has(bg, "order:1"))

	ctx = call(s, "POST", "/cache/invalidate", `{"tags":[]}`)
	require.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = call(s, "POST", "/cleanup", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.JSONEq(t, `{"cache":0,"rate_limit":0}`, string(ctx.Response.Body()))

	ctx = call(s, "GET", "/stats", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), `"rate_limit"`)
}

func TestPresetsEndpointIsCached(t *testing.T) {
	s := newTestService(t, true)

	ctx := call(s, "GET", "/ratelimit/presets", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, "MISS", string(ctx.Response.Header.Peek("X-Cache")))
	first := string(ctx.Response.Body())

	var presets map[string]types.RateLimitConfig
	require.NoError(t, utils.UnmarshalString(first, &presets))
	require.Equal(t, 5, presets["auth"].Limit)

	ctx = call(s, "GET", "/ratelimit/presets", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Equal(t, "HIT", string(ctx.Response.Header.Peek("X-Cache")))
	require.Equal(t, first, string(ctx.Response.Body()))

	ctx = call(s, "POST", "/cache/invalidate", `{"tags":["presets"]}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.NotContains(t, string(ctx.Response.Body()), `"removed":0`)

	ctx = call(s, "GET", "/ratelimit/presets", "")
	require.Equal(t, "MISS", string(ctx.Response.Header.Peek("X-Cache")))
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestService(t, true)

	ctx := call(s, "GET", "/health", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	require.Equal(t, "ratecache-test", report.Service)
	require.Equal(t, types.StatusHealthy, report.Status)

	ctx = call(s, "GET", "/metrics", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), "http_requests_total")

	require.NotEmpty(t, ctx.Response.Header.Peek("X-Request-ID"))

	ctx = call(s, "GET", "/unknown", "")
	require.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
