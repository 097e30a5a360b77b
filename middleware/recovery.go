package middleware

import (
	"runtime"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

type RecoveryMiddleware struct {
	logger     types.Logger
	metrics    types.MetricsManager
	stackTrace bool
}

func NewRecoveryMiddleware(logger types.Logger, metrics types.MetricsManager, stackTrace bool) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger:     logger,
		metrics:    metrics,
		stackTrace: stackTrace,
	}
}

func (r *RecoveryMiddleware) Name() string { return "recovery" }
func (r *RecoveryMiddleware) Weight() int  { return WeightRecovery }

func (r *RecoveryMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logPanic(ctx, rec)
			r.metrics.Counter("http_panics_total", nil).Inc()

			ctx.Response.Reset()
			WriteJSON(ctx, fasthttp.StatusInternalServerError, ErrorResponse{
				Error:   "Internal server error",
				Message: "The request could not be completed",
			})
		}
	}()

	next(ctx)
}

func (r *RecoveryMiddleware) logPanic(ctx *fasthttp.RequestCtx, rec interface{}) {
	fields := []zap.Field{
		zap.Any("panic", rec),
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.String("remote_addr", ctx.RemoteIP().String()),
	}

	if requestID := ctx.Request.Header.Peek(RequestIDHeader); len(requestID) > 0 {
		fields = append(fields, zap.ByteString("request_id", requestID))
	}

	if r.stackTrace {
		buf := make([]byte, 16384)
		n := runtime.Stack(buf, false)
		fields = append(fields, zap.String("stack", utils.BytesToString(buf[:n])))
	}

	r.logger.Error("Recovered from panic", fields...)
}
