// Package logger provides the structured, leveled logging used by every
// package in this module. It generalizes the teacher's
// log.NewModuleLogger(log.<Module>) idiom to zap, the teacher's own go.mod
// dependency, since the teacher's own "log" package source was not part of
// the retrieved pack.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base  *zap.Logger
	level zap.AtomicLevel
)

func init() {
	cfg := zap.NewProductionConfig()
	level = cfg.Level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// SetDebug switches every module logger, including those already created,
// to debug level (or back to info), mirroring the config.debug flag of
// spec.md section 6. Module loggers created after the call also use the
// development config (console encoding) when debug is true.
func SetDebug(debug bool) {
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if l, err := cfg.Build(zap.AddCallerSkip(1)); err == nil {
		base = l
	}
}

// Logger is a module-scoped logger using key/value pairs rather than
// pre-formatted messages, matching the teacher's call sites
// (logger.Info("msg", "key", val, ...)).
type Logger struct {
	module string
	sugar  *zap.SugaredLogger
}

// NewModuleLogger creates a logger tagged with the given module name, the
// direct analogue of the teacher's log.NewModuleLogger(log.ChainDataFetcher).
func NewModuleLogger(module string) *Logger {
	return &Logger{module: module, sugar: base.Sugar().With("module", module)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.sugar.Fatalw(msg, kv...) }

// Sync flushes any buffered log entries, intended to be deferred from
// main().
func Sync() {
	_ = base.Sync()
}
