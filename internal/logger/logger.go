package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls construction of the application-wide structured logger.
type Config struct {
	DevMode  bool   `env:"LOG_DEV_MODE" envDefault:"false"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Encoding string `env:"LOG_ENCODING" envDefault:"json"`
}

// Logger is the structured logging interface used throughout the orchestrator
// and strategy engine. It is satisfied by *appLogger, and can be faked in
// tests with a no-op implementation.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	With(fields ...zap.Field) Logger
	Logger() *zap.Logger
	InitLogger()
}

type appLogger struct {
	cfg    *Config
	zap    *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewAppLogger constructs a Logger around the given config. The zap logger
// is built by InitLogger, or on first use if InitLogger was not called.
func NewAppLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	return &appLogger{cfg: cfg}
}

// InitLogger builds the underlying zap logger from cfg. Kept as a separate
// step (rather than folded into NewAppLogger) so callers can construct a
// Logger value before all configuration is known, matching the two-phase
// start-up used elsewhere in this codebase (config parse, then wire-up).
func (l *appLogger) InitLogger() {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(l.cfg.LogLevel))

	var zcfg zap.Config
	if l.cfg.DevMode {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if l.cfg.Encoding != "" {
		zcfg.Encoding = l.cfg.Encoding
	}

	built, err := zcfg.Build()
	if err != nil {
		built = zap.NewNop()
	}
	l.zap = built
	l.sugar = built.Sugar()
}

func (l *appLogger) ensure() {
	if l.zap == nil {
		l.InitLogger()
	}
}

func (l *appLogger) Debug(msg string, fields ...zap.Field) { l.ensure(); l.zap.Debug(msg, fields...) }
func (l *appLogger) Info(msg string, fields ...zap.Field)  { l.ensure(); l.zap.Info(msg, fields...) }
func (l *appLogger) Warn(msg string, fields ...zap.Field)  { l.ensure(); l.zap.Warn(msg, fields...) }
func (l *appLogger) Error(msg string, fields ...zap.Field) { l.ensure(); l.zap.Error(msg, fields...) }

func (l *appLogger) Debugf(template string, args ...interface{}) { l.ensure(); l.sugar.Debugf(template, args...) }
func (l *appLogger) Infof(template string, args ...interface{})  { l.ensure(); l.sugar.Infof(template, args...) }
func (l *appLogger) Warnf(template string, args ...interface{})  { l.ensure(); l.sugar.Warnf(template, args...) }
func (l *appLogger) Errorf(template string, args ...interface{}) { l.ensure(); l.sugar.Errorf(template, args...) }

func (l *appLogger) With(fields ...zap.Field) Logger {
	l.ensure()
	return &appLogger{cfg: l.cfg, zap: l.zap.With(fields...), sugar: l.sugar}
}

func (l *appLogger) Logger() *zap.Logger {
	l.ensure()
	return l.zap
}

// NewNop returns a Logger that discards everything, for tests that need a
// non-nil logger but don't care about its output.
func NewNop() Logger {
	z := zap.NewNop()
	return &appLogger{cfg: &Config{}, zap: z, sugar: z.Sugar()}
}
