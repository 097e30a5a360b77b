package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

const DefaultCheckTimeout = 5 * time.Second

type Manager struct {
	name         string
	version      string
	build        string
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	startTime    time.Time
	checkTimeout time.Duration
	mu           sync.RWMutex
}

func NewManager(name, version string, logger types.Logger, checkTimeout time.Duration) *Manager {
	if checkTimeout <= 0 {
		checkTimeout = DefaultCheckTimeout
	}

	return &Manager{
		name:         name,
		version:      version,
		build:        buildVersion(),
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		startTime:    time.Now(),
		checkTimeout: checkTimeout,
	}
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

func (hm *Manager) Names() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every checker concurrently. The report is unhealthy when any
// checker fails, panics or exceeds the check timeout.
func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	status := types.StatusHealthy
	for _, result := range results {
		if result.Status != types.StatusHealthy {
			status = types.StatusUnhealthy
		}
	}

	return types.HealthReport{
		Status:    status,
		Service:   hm.name,
		Version:   hm.version,
		Build:     hm.build,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Checks:    results,
	}
}

func (hm *Manager) Handle(ctx *fasthttp.RequestCtx) {
	report := hm.Check(ctx)

	body, err := utils.Marshal(report)
	if err != nil {
		hm.logger.Error("Failed to encode health report", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	status := fasthttp.StatusOK
	if report.Status != types.StatusHealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("health check panicked: %v", r)
			}
		}()
		done <- checker(ctx)
	}()

	result := types.HealthCheck{Name: name, Status: types.StatusHealthy}

	select {
	case err := <-done:
		if err != nil {
			result.Status = types.StatusUnhealthy
			result.Message = err.Error()
		}
	case <-ctx.Done():
		result.Status = types.StatusUnhealthy
		result.Message = "health check timeout"
	}

	result.Duration = time.Since(start)
	if result.Status != types.StatusHealthy {
		hm.logger.Warn("Health check failed", zap.String("check", name), zap.String("message", result.Message))
	}

	return result
}
