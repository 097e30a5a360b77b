package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-ratecache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type ConfigurationManager struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	configPath  string
	loader      *Loader
	state       atomic.Value
	mu          sync.Mutex
	loadTimeout time.Duration
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := newManager(ctx)
	cm.configPath = configPath

	if err := cm.Load(); err != nil {
		cm.cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager wraps an in-process config. Missing sections are taken
// from Defaults before validation.
func NewStaticManager(ctx context.Context, config *types.ServiceConfig) (*ConfigurationManager, error) {
	cm := newManager(ctx)

	config = fillDefaults(cm.loader.Defaults(), config)
	mergePresets(config.RateLimit)

	if err := cm.loader.Validate(config); err != nil {
		cm.cancel()
		return nil, err
	}

	cm.store(config)
	return cm, nil
}

func newManager(ctx context.Context) *ConfigurationManager {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:         managerCtx,
		cancel:      cancel,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	cm.state.Store(StateStopped)
	return cm
}

func (cm *ConfigurationManager) Start() error {
	if !cm.transitionState(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}
	cm.cancel()
	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.state.Load().(State) == StateRunning
}

// Load re-reads the config file. Static managers have nothing to reload.
func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigNotFound
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	cm.store(config)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigNotFound
	}
	return parser.GetAs(path, target)
}

func (cm *ConfigurationManager) store(config *types.ServiceConfig) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(config)
	cm.parser.Store(NewParser(config))
}

func (cm *ConfigurationManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

func fillDefaults(defaults, config *types.ServiceConfig) *types.ServiceConfig {
	if config == nil {
		return defaults
	}

	merged := *config
	if merged.Name == "" {
		merged.Name = defaults.Name
	}
	if merged.Version == "" {
		merged.Version = defaults.Version
	}
	if merged.Server == nil {
		merged.Server = defaults.Server
	}
	if merged.Logger == nil {
		merged.Logger = defaults.Logger
	}
	if merged.Storage == nil {
		merged.Storage = defaults.Storage
	}
	if merged.Cache == nil {
		merged.Cache = defaults.Cache
	}
	if merged.RateLimit == nil {
		merged.RateLimit = defaults.RateLimit
	}
	if merged.Metrics == nil {
		merged.Metrics = defaults.Metrics
	}
	if merged.Cron == nil {
		merged.Cron = defaults.Cron
	}

	return &merged
}
