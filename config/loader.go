package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-ratecache/ratelimit"
	"github.com/saiset-co/sai-ratecache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

// LoadFromBytes overlays YAML data onto Defaults and validates the result.
func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	mergePresets(config.RateLimit)

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-ratecache",
		Version: "1.0.0",
		Server: &types.ServerConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitPreset: "api",
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Storage: &types.StorageConfig{
			Type: "memory",
		},
		Cache: &types.CacheConfig{
			MaxSize:          1000,
			DefaultTTL:       5 * time.Minute,
			SessionTTL:       30 * time.Minute,
			Strategy:         types.StrategyMemoryThenPersistent,
			KeyPrefix:        "sai_cache_",
			SessionKeyPrefix: "sai_session_",
			CleanupInterval:  5 * time.Minute,
			OperationTimeout: 3 * time.Second,
		},
		RateLimit: &types.RateLimitConfigSection{
			DefaultAlgorithm: types.AlgorithmSlidingWindow,
			CleanupInterval:  5 * time.Minute,
			Presets:          ratelimit.Presets(),
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Cron: &types.CronConfig{
			Timezone:   "UTC",
			JobTimeout: 5 * time.Minute,
		},
	}
}

// mergePresets fills fields a config file left zero from the built-in preset
// of the same name, so overriding only "limit" keeps the default window.
func mergePresets(section *types.RateLimitConfigSection) {
	if section == nil {
		return
	}

	defaults := ratelimit.Presets()
	if section.Presets == nil {
		section.Presets = defaults
		return
	}

	for name, preset := range section.Presets {
		base, ok := defaults[name]
		if !ok {
			continue
		}
		if preset.Limit == 0 {
			preset.Limit = base.Limit
		}
		if preset.Window == 0 {
			preset.Window = base.Window
		}
		if preset.Algorithm == "" {
			preset.Algorithm = base.Algorithm
		}
		if preset.BlockDuration == 0 {
			preset.BlockDuration = base.BlockDuration
		}
		section.Presets[name] = preset
	}

	for name, preset := range defaults {
		if _, ok := section.Presets[name]; !ok {
			section.Presets[name] = preset
		}
	}
}
