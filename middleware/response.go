package middleware

import (
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-ratecache/utils"
)

type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func WriteJSON(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	body, err := utils.Marshal(payload)
	if err != nil {
		ctx.Error(`{"error":"internal error"}`, fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
