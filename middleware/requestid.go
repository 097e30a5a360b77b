package middleware

import (
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-ratecache/types"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware keeps an incoming X-Request-ID or assigns a new one,
// and echoes it on the response.
type RequestIDMiddleware struct{}

func NewRequestIDMiddleware() *RequestIDMiddleware {
	return &RequestIDMiddleware{}
}

func (r *RequestIDMiddleware) Name() string { return "request_id" }
func (r *RequestIDMiddleware) Weight() int  { return WeightRequestID }

func (r *RequestIDMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	requestID := string(ctx.Request.Header.Peek(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
		ctx.Request.Header.Set(RequestIDHeader, requestID)
	}

	ctx.SetUserValue("request_id", requestID)
	ctx.Response.Header.Set(RequestIDHeader, requestID)

	next(ctx)
}
