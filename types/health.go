package types

import (
	"context"
	"time"
)

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type HealthStatus string

type HealthCheck struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthChecker returns nil when the component is usable.
type HealthChecker func(ctx context.Context) error

type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Build     string                 `json:"build"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
}
