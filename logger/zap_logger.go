package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-ratecache/types"
	"github.com/saiset-co/sai-ratecache/utils"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// ZapLoggerConfig is the "logger.config" block of the default logger.
type ZapLoggerConfig struct {
	Format string `json:"format"`
	Output string `json:"output"`
	File   string `json:"file"`
	// Sampling drops repeated entries under load. Rate-limit denials on a
	// hot identifier can otherwise flood the output.
	Sampling bool              `json:"sampling"`
	Fields   map[string]string `json:"fields"`
}

type ZapWrapper struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

func NewDefaultLogger(config *types.LoggerConfig) (*ZapWrapper, error) {
	zapLoggerConfig := &ZapLoggerConfig{
		Format: FormatConsole,
		Output: OutputStdout,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, zapLoggerConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
	}

	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	atomicLevel := zap.NewAtomicLevelAt(level)

	logger, err := buildZapLogger(zapLoggerConfig, atomicLevel)
	if err != nil {
		return nil, types.WrapError(err, "failed to build zap logger")
	}

	return &ZapWrapper{
		logger: logger.WithOptions(zap.AddCallerSkip(1)),
		level:  atomicLevel,
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() types.Logger {
	return &ZapWrapper{logger: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// ParseLevel accepts zap level names plus "warning".
func ParseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}

	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil {
		return zapcore.InfoLevel, types.Errorf(types.ErrLoggerConfigInvalid, "level %q", level)
	}
	return parsed, nil
}

func buildZapLogger(config *ZapLoggerConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	var zapConfig zap.Config

	switch config.Format {
	case FormatConsole:
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case FormatJSON:
		zapConfig = zap.NewProductionConfig()
	default:
		return nil, types.Errorf(types.ErrLoggerConfigInvalid, "format %q", config.Format)
	}

	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.DisableStacktrace = true
	zapConfig.Level = level

	if !config.Sampling {
		zapConfig.Sampling = nil
	} else if zapConfig.Sampling == nil {
		zapConfig.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	switch config.Output {
	case OutputStdout, "":
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case OutputStderr:
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case OutputFile:
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}
		zapConfig.OutputPaths = []string{config.File}
		zapConfig.ErrorOutputPaths = []string{config.File}
	default:
		return nil, types.Errorf(types.ErrLoggerConfigInvalid, "output %q", config.Output)
	}

	if len(config.Fields) > 0 {
		zapConfig.InitialFields = make(map[string]interface{}, len(config.Fields))
		for key, value := range config.Fields {
			zapConfig.InitialFields[key] = value
		}
	}

	return zapConfig.Build(zap.AddCaller())
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." && !strings.ContainsRune(logFile, os.PathSeparator) {
		return types.ErrLogFileWrongFormat
	}

	return types.WrapError(os.MkdirAll(dir, 0o755), "access denied to log directory")
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) { z.logger.Error(msg, fields...) }
func (z *ZapWrapper) Warn(msg string, fields ...zap.Field)  { z.logger.Warn(msg, fields...) }
func (z *ZapWrapper) Info(msg string, fields ...zap.Field)  { z.logger.Info(msg, fields...) }
func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) { z.logger.Debug(msg, fields...) }

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.logger.Log(lvl, msg, fields...)
}

func (z *ZapWrapper) Named(component string) types.Logger {
	return &ZapWrapper{
		logger: z.logger.Named(component),
		level:  z.level,
	}
}

// SetLevel changes the level of this logger and every logger derived from it.
func (z *ZapWrapper) SetLevel(level zapcore.Level) {
	z.level.SetLevel(level)
}

func (z *ZapWrapper) Level() zapcore.Level {
	return z.level.Level()
}

func (z *ZapWrapper) Sync() error {
	return z.logger.Sync()
}

// ErrorWithErrStack logs the root cause of err. Errors built or wrapped
// with github.com/pkg/errors also get their stack trace as a field.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.logger.Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+3)
	allFields = append(allFields, zap.Error(err))
	if cause := errors.Cause(err); cause != err {
		allFields = append(allFields, zap.NamedError("cause", cause))
	}
	allFields = append(allFields, fields...)

	if stack := stackOf(err); stack != "" {
		allFields = append(allFields, zap.String("stack", stack))
	}

	z.logger.Error(msg, allFields...)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// stackOf returns the outermost stack recorded along err's wrap chain.
func stackOf(err error) string {
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			return fmt.Sprintf("%+v", st.StackTrace())
		}

		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
