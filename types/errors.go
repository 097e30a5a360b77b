package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
)

var (
	ErrMiddlewareNotFound    = errors.New("middleware not found")
	ErrMiddlewareInvalidType = errors.New("middleware invalid type")
	ErrMiddlewareExists      = errors.New("middleware already registered")
)

var (
	ErrCacheNotFound        = errors.New("cache not found")
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheOperationFailed = errors.New("cache operation failed")
	ErrCacheStrategyUnknown = errors.New("cache strategy unknown")
	ErrCacheEntryCorrupted  = errors.New("cache entry corrupted")
)

var (
	ErrStorageTypeUnknown    = errors.New("storage type unknown")
	ErrStorageQuotaExceeded  = errors.New("storage quota exceeded")
	ErrStorageClosed         = errors.New("storage closed")
	ErrStorageConnectFailed  = errors.New("storage connection failed")
	ErrStorageOperationError = errors.New("storage operation failed")
)

var (
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrRateLimitPresetUnknown = errors.New("rate limit preset unknown")
	ErrRateLimitConfigInvalid = errors.New("rate limit config invalid")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsRunning    = errors.New("service is running")
	ErrServiceIsNotRunning = errors.New("service is not running")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrOperationFailed  = errors.New("operation failed")
	ErrNotSupported     = errors.New("not supported")
)

// ParseError describes a persisted cache record that could not be decoded
// into a CacheEntry.
type ParseError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: key %q: %s: %v", ErrCacheEntryCorrupted, e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: key %q: %s", ErrCacheEntryCorrupted, e.Key, e.Reason)
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCacheEntryCorrupted, e.Err}
	}
	return []error{ErrCacheEntryCorrupted}
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
