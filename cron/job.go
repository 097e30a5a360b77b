package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
)

var jobDurationBuckets = []float64{0.001, 0.01, 0.1, 1, 10, 60}

// wrapJob bounds each run by the job timeout, turns panics into errors and
// records the outcome on the job entry and in metrics.
func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		ctx := m.runContext()
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := m.execute(ctx, job)
		elapsed := time.Since(started)

		m.recordRun(jobName, started, elapsed, err)

		if err != nil {
			m.logger.Error("Cron job failed",
				zap.String("job_name", jobName),
				zap.Duration("duration", elapsed),
				zap.Error(err))
			return
		}

		m.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", elapsed))
	}
}

func (m *Manager) execute(ctx context.Context, job func()) error {
	ctx, cancel := context.WithTimeout(ctx, m.jobTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- types.Errorf(types.ErrCronJobFailed, "job panic: %v", r)
			}
		}()
		job()
		result <- nil
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if types.IsError(ctx.Err(), context.DeadlineExceeded) {
			return types.Errorf(types.ErrCronJobTimeout, "timeout after %v", m.jobTimeout)
		}
		return types.WrapError(ctx.Err(), "job canceled")
	}
}

func (m *Manager) recordRun(jobName string, started time.Time, elapsed time.Duration, err error) {
	m.mu.Lock()
	if entry, ok := m.jobs[jobName]; ok {
		entry.LastRun = started
		entry.LastDuration = elapsed
		entry.TotalDuration += elapsed
		entry.RunCount++
		entry.AvgDuration = entry.TotalDuration / time.Duration(entry.RunCount)
		entry.Error = err
		entry.NextRun = m.cron.Entry(entry.ID).Next
	}
	m.mu.Unlock()

	if m.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()
	m.metrics.Histogram("cron_job_duration_seconds", jobDurationBuckets,
		map[string]string{"job_name": jobName}).Observe(elapsed.Seconds())
}

// cronLogger routes robfig/cron's key/value logging into zap. Its info
// chatter goes to debug.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(pairs(keysAndValues), zap.Error(err))...)
}

func pairs(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
