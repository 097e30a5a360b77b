package utils

import "github.com/valyala/fasthttp"

// CreateErrorResponse writes a generic JSON 500 that never leaks internals.
func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("application/json")

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	if requestID := ctx.Response.Header.Peek("X-Request-ID"); len(requestID) == 0 {
		if requestID = ctx.Request.Header.Peek("X-Request-ID"); len(requestID) > 0 {
			ctx.Response.Header.SetBytesV("X-Request-ID", requestID)
		}
	}

	ctx.SetBodyString(`{"error":"Internal Server Error","message":"An unexpected error occurred"}`)
}
