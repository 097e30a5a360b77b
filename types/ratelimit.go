package types

import (
	"math"
	"time"
)

type Algorithm string

const (
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmFixedWindow   Algorithm = "fixed_window"
)

type RateLimitConfig struct {
	Identifier    string        `yaml:"identifier" json:"identifier"`
	Limit         int           `yaml:"limit" json:"limit" validate:"min=0"`
	Window        time.Duration `yaml:"window" json:"window" validate:"min=0"`
	Algorithm     Algorithm     `yaml:"algorithm" json:"algorithm"`
	BlockDuration time.Duration `yaml:"block_duration" json:"block_duration" validate:"min=0"`
}

// WithIdentifier returns a copy bound to identifier, leaving the preset intact.
func (c RateLimitConfig) WithIdentifier(identifier string) RateLimitConfig {
	c.Identifier = identifier
	return c
}

type RateLimitResult struct {
	Success   bool      `json:"success"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	// RetryAfter is zero when Success is true.
	RetryAfter time.Duration `json:"retry_after"`
}

// RetryAfterSeconds is the Retry-After header value.
func (r RateLimitResult) RetryAfterSeconds() int {
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// RoundRetryAfter rounds d up to whole seconds, never below one second.
func RoundRetryAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

type RateLimiter interface {
	Check(config RateLimitConfig) RateLimitResult
	Cleanup() int
}
