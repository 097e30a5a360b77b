package types

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Error(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Log(lvl zapcore.Level, msg string, fields ...zap.Field)
	// ErrorWithErrStack logs err and, when it carries one, its stack trace.
	ErrorWithErrStack(msg string, err error, fields ...zap.Field)
	// Named returns a child logger tagged with the component name.
	Named(component string) Logger
}

type LoggerCreator func(config *LoggerConfig) (Logger, error)
