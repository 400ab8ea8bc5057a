// Package logger wraps zap with the small sugared surface the rest of
// the relayer depends on: Named() sub-loggers and leveled structured
// logging calls.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every component receives instead of reaching
// for a package-level singleton.
type Logger interface {
	Named(name string) Logger

	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Errorf(format string, args ...interface{})

	// CriticalW logs at error level and is the hook point for alerting
	// integrations (sentry) to additionally capture the event.
	CriticalW(msg string, keysAndValues ...interface{})

	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Config controls the base encoder/level used when constructing a Logger.
type Config struct {
	JSON    bool
	Debug   bool
	AppName string
}

// New builds a production-shaped logger: console encoding (JSON when
// Config.JSON is set), ISO8601 timestamps, level controlled by Config.Debug.
func New(cfg Config) (Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "timestamp"

	var encoder zapcore.Encoder
	if cfg.JSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	base := zap.New(core, zap.AddCaller())
	if cfg.AppName != "" {
		base = base.Named(cfg.AppName)
	}
	return &zapLogger{sugar: base.Sugar()}, nil
}

// TestLogger returns a logger suitable for use in unit tests: human
// readable, debug level, no file sync needed.
func TestLogger() Logger {
	l, _ := New(Config{JSON: false, Debug: true, AppName: "test"})
	return l
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{sugar: l.sugar.Named(name)}
}

func (l *zapLogger) Debug(args ...interface{})                        { l.sugar.Debug(args...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})              { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Debugf(format string, args ...interface{})        { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(args ...interface{})                         { l.sugar.Info(args...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})              { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Infof(format string, args ...interface{})        { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warn(args ...interface{})                         { l.sugar.Warn(args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})              { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Warnf(format string, args ...interface{})        { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Error(args ...interface{})                        { l.sugar.Error(args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})             { l.sugar.Errorw(msg, kv...) }
func (l *zapLogger) Errorf(format string, args ...interface{})       { l.sugar.Errorf(format, args...) }

// CriticalW logs at error level. Callers that also want alerting fan-out
// (e.g. sentry) should pair it with an explicit capture call — kept
// separate so this package has no hard dependency on an alerting SDK.
func (l *zapLogger) CriticalW(msg string, kv ...interface{}) {
	l.sugar.Errorw(msg, kv...)
}

func (l *zapLogger) Sync() error { return l.sugar.Sync() }
