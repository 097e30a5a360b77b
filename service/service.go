package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-ratecache/cache"
	"github.com/saiset-co/sai-ratecache/config"
	"github.com/saiset-co/sai-ratecache/cron"
	"github.com/saiset-co/sai-ratecache/health"
	"github.com/saiset-co/sai-ratecache/logger"
	"github.com/saiset-co/sai-ratecache/metrics"
	"github.com/saiset-co/sai-ratecache/middleware"
	"github.com/saiset-co/sai-ratecache/ratelimit"
	"github.com/saiset-co/sai-ratecache/server"
	"github.com/saiset-co/sai-ratecache/storage"
	"github.com/saiset-co/sai-ratecache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const systemMetricsJobName = "system_metrics"

// Service owns every component and starts them in dependency order.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	state           atomic.Value
	shutdownTimeout time.Duration

	config      *config.ConfigurationManager
	logger      *logger.Manager
	metrics     types.MetricsManager
	cron        *cron.Manager
	storage     types.Storage
	cache       types.CacheManager
	rateLimit   *ratelimit.Manager
	health      *health.Manager
	middlewares *middleware.Manager
	router      *server.Router
	server      *server.FastHTTPServer
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "file does not exist")
	}

	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	return NewServiceWithConfig(ctx, configManager)
}

// NewServiceWithConfig builds all components from an already loaded config.
func NewServiceWithConfig(ctx context.Context, configManager *config.ConfigurationManager) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          configManager,
		shutdownTimeout: 30 * time.Second,
	}
	s.state.Store(StateStopped)

	if err := s.build(); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) build() error {
	cfg := s.config.GetConfig()

	loggerManager, err := logger.NewManager(s.ctx, s.config)
	if err != nil {
		return types.WrapError(err, "failed to create logger")
	}
	s.logger = loggerManager

	s.metrics, err = metrics.NewManager(s.ctx, s.config, s.logger)
	if err != nil {
		return types.WrapError(err, "failed to create metrics manager")
	}

	s.cron, err = cron.NewManager(s.ctx, s.config, s.logger.Named("cron"), s.metrics)
	if err != nil {
		return types.WrapError(err, "failed to create cron manager")
	}

	s.storage, err = storage.NewStorage(s.ctx, cfg.Storage, s.logger.Named("storage"), s.metrics)
	if err != nil {
		return types.WrapError(err, "failed to create storage")
	}

	s.cache, err = cache.NewCacheManager(s.ctx, s.config, s.logger.Named("cache"), s.metrics, s.storage, s.cron)
	if err != nil {
		_ = s.storage.Close()
		return types.WrapError(err, "failed to create cache manager")
	}

	s.rateLimit, err = ratelimit.NewManager(s.cache.Memory(), cfg.RateLimit, s.logger.Named("ratelimit"),
		ratelimit.WithScheduler(s.cron),
		ratelimit.WithMetrics(s.metrics))
	if err != nil {
		_ = s.storage.Close()
		return types.WrapError(err, "failed to create rate limit manager")
	}

	s.health = health.NewManager(cfg.Name, cfg.Version, s.logger.Named("health"), 0)
	s.health.RegisterChecker("storage", s.storage.Ping)
	s.health.RegisterChecker("cache", lifecycleChecker("cache", s.cache))
	s.health.RegisterChecker("rate_limit", lifecycleChecker("rate limit", s.rateLimit))
	s.health.RegisterChecker("cron", lifecycleChecker("cron", s.cron))

	if cfg.Server == nil || !cfg.Server.Enabled {
		return nil
	}

	httpLogger := s.logger.Named("http")

	s.middlewares = middleware.NewManager(httpLogger)
	if err := s.registerMiddlewares(cfg, httpLogger); err != nil {
		_ = s.storage.Close()
		return err
	}

	s.router = server.NewRouter()
	s.registerRoutes()

	s.server, err = server.NewHTTPServer(s.ctx, cfg.Server, httpLogger, s.middlewares, s.router)
	if err != nil {
		_ = s.storage.Close()
		return types.WrapError(err, "failed to create http server")
	}

	return nil
}

func (s *Service) registerMiddlewares(cfg *types.ServiceConfig, logger types.Logger) error {
	middlewares := []types.Middleware{
		middleware.NewRecoveryMiddleware(logger, s.metrics, true),
		middleware.NewRequestIDMiddleware(),
		middleware.NewLoggingMiddleware(logger, s.metrics),
		middleware.NewRateLimitMiddleware(logger, s.metrics, s.rateLimit, cfg.Server.RateLimitPreset),
		middleware.NewCacheMiddleware(logger, s.metrics, s.cache, cfg.Cache.DefaultTTL),
	}

	if cfg.Server.Compression != nil && cfg.Server.Compression.Enabled {
		middlewares = append(middlewares, middleware.NewCompressionMiddleware(logger, s.metrics, cfg.Server.Compression))
	}

	for _, m := range middlewares {
		if err := s.middlewares.Register(m); err != nil {
			return types.WrapError(err, "failed to register middleware")
		}
	}

	return nil
}

// Start brings components up without blocking. Use Run to block until a
// signal or context cancellation.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServiceIsRunning
	}

	var startErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				startErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service start panic", zap.Stack(string(buf[:n])))
			}
		}()

		startErr = s.startComponents()
	}()

	if startErr != nil {
		s.logger.ErrorWithErrStack("Service start failed", errors.WithStack(startErr))
		if err := s.stopComponents(); err != nil {
			s.logger.Warn("Failed to roll back partially started components", zap.Error(err))
		}
		s.setState(StateStopped)
		return types.WrapError(startErr, "failed to start components")
	}

	s.setState(StateRunning)
	s.logger.Info("Service started successfully",
		zap.String("name", s.config.GetConfig().Name),
		zap.String("version", s.config.GetConfig().Version))

	return nil
}

func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
		s.logger.Info("Service context cancelled")
	}

	return s.Stop()
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")

	err := s.stopComponents()
	s.cancel()
	s.setState(StateStopped)

	if err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Service stopped gracefully")
	_ = s.logger.Stop()
	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) Cache() types.CacheManager {
	return s.cache
}

func (s *Service) RateLimit() *ratelimit.Manager {
	return s.rateLimit
}

func (s *Service) Health() *health.Manager {
	return s.health
}

func (s *Service) Metrics() types.MetricsManager {
	return s.metrics
}

func (s *Service) Storage() types.Storage {
	return s.storage
}

// Server is nil when server.enabled is false.
func (s *Service) Server() *server.FastHTTPServer {
	return s.server
}

func (s *Service) startComponents() error {
	for _, component := range []struct {
		name    string
		manager types.LifecycleManager
	}{
		{"config", s.config},
		{"logger", s.logger},
		{"metrics", s.metrics},
		{"cron", s.cron},
		{"cache", s.cache},
		{"rate limit", s.rateLimit},
	} {
		if err := component.manager.Start(); err != nil {
			return types.WrapError(err, "failed to start "+component.name)
		}
	}

	if s.config.GetConfig().Metrics != nil && s.config.GetConfig().Metrics.Enabled {
		collector := metrics.NewSystemCollector(s.metrics)
		if err := s.cron.Add(systemMetricsJobName, cron.Every(15*time.Second), collector.Collect); err != nil {
			return types.WrapError(err, "failed to schedule system metrics")
		}
	}

	if s.server != nil {
		if err := s.server.Start(); err != nil {
			return types.WrapError(err, "failed to start http server")
		}
	}

	return nil
}

func (s *Service) stopComponents() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.server != nil && s.server.IsRunning() {
		keep(s.server.Stop())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	for _, manager := range []types.LifecycleManager{s.cache, s.rateLimit} {
		manager := manager
		g.Go(func() error {
			if !manager.IsRunning() {
				return nil
			}
			return manager.Stop()
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			s.logger.Warn("Component stop timeout, some components may not have stopped gracefully")
		default:
		}
		keep(err)
	}

	if s.cron.IsRunning() {
		keep(s.cron.Stop())
	}
	if s.metrics.IsRunning() {
		keep(s.metrics.Stop())
	}
	keep(s.storage.Close())
	if s.config.IsRunning() {
		keep(s.config.Stop())
	}

	return firstErr
}

func lifecycleChecker(name string, manager types.LifecycleManager) types.HealthChecker {
	return func(context.Context) error {
		if !manager.IsRunning() {
			return fmt.Errorf("%s is not running", name)
		}
		return nil
	}
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
