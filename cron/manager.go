package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	defaultJobTimeout      = 5 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
)

// Manager runs named maintenance jobs. A name is scheduled at most once,
// so callers may ask for the same job repeatedly without stacking timers.
type Manager struct {
	logger   types.Logger
	metrics  types.MetricsManager
	cron     *cron.Cron
	timezone *time.Location
	state    atomic.Value

	mu   sync.RWMutex
	jobs map[string]*types.JobEntry

	// run is cancelled by Stop, which aborts every job still executing.
	runMu     sync.Mutex
	run       context.Context
	cancelRun context.CancelFunc
	parent    context.Context

	shutdownTimeout time.Duration
	jobTimeout      time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (*Manager, error) {
	settings := types.CronConfig{}
	if config != nil && config.GetConfig().Cron != nil {
		settings = *config.GetConfig().Cron
	}

	m := &Manager{
		logger:          logger,
		metrics:         metrics,
		timezone:        resolveTimezone(settings.Timezone, logger),
		jobs:            make(map[string]*types.JobEntry),
		parent:          ctx,
		shutdownTimeout: defaultShutdownTimeout,
		jobTimeout:      settings.JobTimeout,
	}
	if m.jobTimeout <= 0 {
		m.jobTimeout = defaultJobTimeout
	}

	adapter := cronLogger{logger: logger}
	m.cron = cron.New(
		cron.WithLocation(m.timezone),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)

	m.resetRun()
	m.state.Store(StateStopped)

	return m, nil
}

func resolveTimezone(name string, logger types.Logger) *time.Location {
	if name == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("Unknown cron timezone, falling back to UTC",
			zap.String("timezone", name),
			zap.Error(err))
		return time.UTC
	}
	return loc
}

// Every builds a schedule expression that fires once per interval.
func Every(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	switch {
	case jobName == "":
		return types.ErrCronJobNameIsEmpty
	case spec == "":
		return types.ErrCronExpressionInvalid
	case job == nil:
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getState() == StateStopping {
		return types.ErrCronSchedulerStopped
	}

	if _, exists := m.jobs[jobName]; exists {
		return types.Errorf(types.ErrCronJobExists, "job: %s", jobName)
	}

	wrapped := m.wrapJob(jobName, job)
	entryID, err := m.cron.AddFunc(spec, wrapped)
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", spec, err)
	}

	m.jobs[jobName] = &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		Job:     wrapped,
		AddedAt: time.Now(),
		NextRun: m.cron.Entry(entryID).Next,
	}

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "job: %s", jobName)
	}

	m.cron.Remove(entry.ID)
	delete(m.jobs, jobName)

	m.logger.Info("Cron job removed", zap.String("job_name", jobName))
	return nil
}

func (m *Manager) Has(jobName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.jobs[jobName]
	return exists
}

// Jobs returns a snapshot of the registered jobs keyed by name.
func (m *Manager) Jobs() map[string]types.JobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make(map[string]types.JobEntry, len(m.jobs))
	for name, entry := range m.jobs {
		jobs[name] = *entry
	}
	return jobs
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	m.resetRun()
	m.cron.Start()
	m.state.Store(StateRunning)
	m.setSchedulerStatus(1)

	m.logger.Info("Cron manager started", zap.String("timezone", m.timezone.String()))
	return nil
}

// Stop cancels running jobs and waits up to the shutdown timeout for them
// to return.
func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrCronSchedulerStopped
	}
	defer m.state.Store(StateStopped)

	m.runMu.Lock()
	m.cancelRun()
	m.runMu.Unlock()

	drained := m.cron.Stop()
	m.setSchedulerStatus(0)

	select {
	case <-drained.Done():
		m.logger.Info("Cron scheduler stopped gracefully")
		return nil
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Cron manager stop timeout, some jobs may still be running")
		return types.ErrCronJobTimeout
	}
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) resetRun() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.run != nil && m.run.Err() == nil {
		return
	}
	m.run, m.cancelRun = context.WithCancel(m.parent)
}

func (m *Manager) runContext() context.Context {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.run
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}
