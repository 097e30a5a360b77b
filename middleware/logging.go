package middleware

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
)

type LoggingMiddleware struct {
	logger  types.Logger
	metrics types.MetricsManager
}

func NewLoggingMiddleware(logger types.Logger, metrics types.MetricsManager) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger:  logger,
		metrics: metrics,
	}
}

func (l *LoggingMiddleware) Name() string { return "logging" }
func (l *LoggingMiddleware) Weight() int  { return WeightLogging }

func (l *LoggingMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	start := time.Now()

	next(ctx)

	duration := time.Since(start)
	status := ctx.Response.StatusCode()

	fields := []zap.Field{
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("remote_addr", ctx.RemoteIP().String()),
	}

	if requestID := ctx.Response.Header.Peek(RequestIDHeader); len(requestID) > 0 {
		fields = append(fields, zap.ByteString("request_id", requestID))
	}

	switch {
	case status >= 500:
		l.logger.Error("Request failed", fields...)
	case status >= 400:
		l.logger.Warn("Request rejected", fields...)
	default:
		l.logger.Info("Request completed", fields...)
	}

	l.metrics.Counter("http_requests_total", map[string]string{
		"method": string(ctx.Method()),
		"status": strconv.Itoa(status),
	}).Inc()

	l.metrics.Histogram("http_request_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		map[string]string{"method": string(ctx.Method())},
	).Observe(duration.Seconds())
}
