package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-ratecache/logger"
	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

func newRequestCtx() *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.SetRequestURI("/health")

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func TestCheckAllHealthy(t *testing.T) {
	hm := NewManager("sai-ratecache", "1.2.3", logger.NewNop(), 0)
	hm.RegisterChecker("storage", func(context.Context) error { return nil })
	hm.RegisterChecker("cache", func(context.Context) error { return nil })

	require.Equal(t, []string{"cache", "storage"}, hm.Names())

	report := hm.Check(context.Background())
	require.Equal(t, types.StatusHealthy, report.Status)
	require.Equal(t, "sai-ratecache", report.Service)
	require.Equal(t, "1.2.3", report.Version)
	require.Len(t, report.Checks, 2)
}

func TestCheckReportsFailures(t *testing.T) {
	hm := NewManager("svc", "1", logger.NewNop(), 50*time.Millisecond)
	hm.RegisterChecker("ok", func(context.Context) error { return nil })
	hm.RegisterChecker("down", func(context.Context) error { return errors.New("connection refused") })
	hm.RegisterChecker("panics", func(context.Context) error { panic("nil map") })
	hm.RegisterChecker("hangs", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	report := hm.Check(context.Background())
	require.Equal(t, types.StatusUnhealthy, report.Status)
	require.Equal(t, types.StatusHealthy, report.Checks["ok"].Status)
	require.Equal(t, "connection refused", report.Checks["down"].Message)
	require.Contains(t, report.Checks["panics"].Message, "nil map")
	require.Equal(t, "health check timeout", report.Checks["hangs"].Message)
}

func TestHandle(t *testing.T) {
	hm := NewManager("svc", "1", logger.NewNop(), 0)
	failing := false
	hm.RegisterChecker("storage", func(context.Context) error {
		if failing {
			return errors.New("closed")
		}
		return nil
	})

	ctx := newRequestCtx()
	hm.Handle(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	require.Equal(t, types.StatusHealthy, report.Status)

	failing = true
	ctx = newRequestCtx()
	hm.Handle(ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	require.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
}

func TestBuildVersionFromEnv(t *testing.T) {
	t.Setenv("BUILD_VERSION", "abc1234")
	require.Equal(t, "abc1234", buildVersion())
}
