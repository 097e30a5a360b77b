package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-ratecache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Admin payloads are small JSON documents.
const maxRequestBodySize = 64 * 1024

type FastHTTPServer struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      *types.ServerConfig
	logger      types.Logger
	middlewares types.MiddlewareManager
	router      *Router
	server      *fasthttp.Server
	listener    net.Listener
	state       atomic.Value
}

func NewHTTPServer(ctx context.Context, config *types.ServerConfig, logger types.Logger, middlewares types.MiddlewareManager, router *Router) (*FastHTTPServer, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &FastHTTPServer{
		ctx:         serverCtx,
		cancel:      cancel,
		config:      config,
		logger:      logger,
		middlewares: middlewares,
		router:      router,
	}

	server.server = &fasthttp.Server{
		Handler:                      server.Handler(),
		Name:                         "sai-ratecache",
		ReadTimeout:                  config.ReadTimeout,
		WriteTimeout:                 config.WriteTimeout,
		IdleTimeout:                  config.IdleTimeout,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
		MaxRequestBodySize:           maxRequestBodySize,
	}

	server.state.Store(StateStopped)

	return server, nil
}

func (h *FastHTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.Addr())
	if err != nil {
		return types.Errorf(types.ErrServerStartFailed, "listen %s: %v", h.Addr(), err)
	}
	return h.Serve(listener)
}

// Serve accepts connections on listener in the background.
func (h *FastHTTPServer) Serve(listener net.Listener) error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.listener = listener

	go func() {
		if err := h.server.Serve(listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.setState(StateRunning)
	h.logger.Info("HTTP server started", zap.String("address", listener.Addr().String()))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	timeout := h.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		h.logger.Warn("HTTP server stop timeout, some connections may have been dropped", zap.Error(err))
		return types.Errorf(types.ErrServerStopFailed, "%v", err)
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *FastHTTPServer) Addr() string {
	return fmt.Sprintf("%s:%d", h.config.Host, h.config.Port)
}

// Handler routes a request and runs it through the middleware chain.
func (h *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		method, path := methodAndPath(ctx)

		handler, config, params, ok := h.router.Match(method, path)
		if !ok {
			ctx.Error(`{"error":"Not found"}`, fasthttp.StatusNotFound)
			ctx.SetContentType("application/json")
			return
		}

		for name, value := range params {
			ctx.SetUserValue(name, value)
		}

		if h.middlewares == nil {
			handler(ctx)
			return
		}

		h.middlewares.Execute(ctx, handler, config)
	}
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) {
	h.state.Store(newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}
