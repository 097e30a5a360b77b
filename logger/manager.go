package logger

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-ratecache/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
)

const (
	TypeDefault = "default"
	TypeNop     = "nop"
)

var loggerCreators sync.Map

// RegisterLogger makes a custom logger selectable by logger.type.
func RegisterLogger(loggerType string, creator types.LoggerCreator) {
	loggerCreators.Store(loggerType, creator)
}

// Manager owns the process logger. Components receive children from Named
// so every line carries the component that wrote it.
type Manager struct {
	types.Logger
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Value
}

func NewManager(ctx context.Context, config types.ConfigManager) (*Manager, error) {
	loggerConfig := config.GetConfig().Logger
	if loggerConfig == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	logger, err := createLogger(loggerConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		Logger: logger,
		ctx:    managerCtx,
		cancel: cancel,
	}
	manager.state.Store(StateStopped)

	logger.Debug("Logger initialized",
		zap.String("type", loggerType(loggerConfig)),
		zap.String("level", loggerConfig.Level))

	return manager, nil
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}
	m.cancel()

	if syncer, ok := m.Logger.(interface{ Sync() error }); ok {
		// stdout/stderr return EINVAL on Sync for some terminals.
		_ = syncer.Sync()
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

// SetLevel adjusts the level at runtime. Loggers without an adjustable
// level ignore it.
func (m *Manager) SetLevel(level zapcore.Level) bool {
	leveled, ok := m.Logger.(interface{ SetLevel(zapcore.Level) })
	if ok {
		leveled.SetLevel(level)
	}
	return ok
}

func loggerType(config *types.LoggerConfig) string {
	if config.Type == "" {
		return TypeDefault
	}
	return config.Type
}

func createLogger(config *types.LoggerConfig) (types.Logger, error) {
	switch name := loggerType(config); name {
	case TypeDefault:
		return NewDefaultLogger(config)
	case TypeNop:
		return NewNop(), nil
	default:
		if creator, ok := loggerCreators.Load(name); ok {
			return creator.(types.LoggerCreator)(config)
		}
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", name)
	}
}
