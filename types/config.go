package types

import (
	"time"
)

type ConfigManager interface {
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name      string                  `yaml:"name" json:"name" validate:"required"`
	Version   string                  `yaml:"version" json:"version" validate:"required"`
	Server    *ServerConfig           `yaml:"server" json:"server"`
	Logger    *LoggerConfig           `yaml:"logger" json:"logger" validate:"required"`
	Storage   *StorageConfig          `yaml:"storage" json:"storage" validate:"required"`
	Cache     *CacheConfig            `yaml:"cache" json:"cache" validate:"required"`
	RateLimit *RateLimitConfigSection `yaml:"rate_limit" json:"rate_limit" validate:"required"`
	Metrics   *MetricsConfig          `yaml:"metrics" json:"metrics"`
	Cron      *CronConfig             `yaml:"cron" json:"cron"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// RateLimitPreset names the preset applied to every request by the
	// rate-limit middleware. Empty disables the middleware.
	RateLimitPreset string             `yaml:"rate_limit_preset" json:"rate_limit_preset"`
	Compression     *CompressionConfig `yaml:"compression" json:"compression"`
}

type CompressionConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Level        int      `yaml:"level" json:"level" validate:"min=0,max=9"`
	Threshold    int      `yaml:"threshold" json:"threshold" validate:"min=0"`
	AllowedTypes []string `yaml:"allowed_types" json:"allowed_types"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type StorageConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	MaxSize          int           `yaml:"max_size" json:"max_size" validate:"min=1"`
	DefaultTTL       time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	SessionTTL       time.Duration `yaml:"session_ttl" json:"session_ttl" validate:"min=0"`
	Strategy         Strategy      `yaml:"strategy" json:"strategy" validate:"omitempty,oneof=memory_only persistent_only memory_then_persistent persistent_then_memory"`
	KeyPrefix        string        `yaml:"key_prefix" json:"key_prefix"`
	SessionKeyPrefix string        `yaml:"session_key_prefix" json:"session_key_prefix"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=0"`
	OperationTimeout time.Duration `yaml:"operation_timeout" json:"operation_timeout" validate:"min=0"`
}

type RateLimitConfigSection struct {
	DefaultAlgorithm Algorithm                  `yaml:"default_algorithm" json:"default_algorithm"`
	CleanupInterval  time.Duration              `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=0"`
	Presets          map[string]RateLimitConfig `yaml:"presets" json:"presets" validate:"dive"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}       `yaml:"config" json:"config"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
}

type CronConfig struct {
	Timezone   string        `yaml:"timezone" json:"timezone"`
	JobTimeout time.Duration `yaml:"job_timeout" json:"job_timeout" validate:"min=0"`
}
