// Package logger wraps zap with the service's encoder settings and a process-wide default.
package logger

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger embeds zap.Logger and keeps a handle on its level so it can be changed at runtime.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New builds a JSON logger writing to stdout at the given level.
// Unknown levels fall back to info.
func New(level string) (*Logger, error) {
	atom := zap.NewAtomicLevelAt(parseLevel(level))
	cfg := zap.Config{
		Level:            atom,
		Encoding:         "json",
		EncoderConfig:    jsonEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
	}
	return build(cfg)
}

// NewDevelopment builds a colored console logger at debug level.
func NewDevelopment() (*Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return build(cfg)
}

// NewNop discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

// FromEnv returns the console logger for the development environment and the JSON logger otherwise.
func FromEnv(env, level string) (*Logger, error) {
	if strings.EqualFold(env, "development") {
		l, err := NewDevelopment()
		if err != nil {
			return nil, err
		}
		if level != "" {
			l.SetLevel(level)
		}
		return l, nil
	}
	return New(level)
}

func build(cfg zap.Config) (*Logger, error) {
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: zl, level: cfg.Level}, nil
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	return enc
}

// Level reports the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// SetLevel changes the minimum level of l and every child derived from it.
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(parseLevel(level))
}

// With returns a child logger carrying fields. The child shares the parent's level.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), level: l.level}
}

// WithContext tags a child logger with the request's correlation id and conversation key.
// Empty values are left out.
func (l *Logger) WithContext(correlationID, conversationKey string) *Logger {
	fields := make([]zap.Field, 0, 2)
	if correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}
	if conversationKey != "" {
		fields = append(fields, zap.String("conversation_key", conversationKey))
	}
	return l.With(fields...)
}

func parseLevel(level string) zapcore.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil || level == "" {
		return zapcore.InfoLevel
	}
	return lvl
}

var global atomic.Pointer[Logger]

func init() {
	l, err := FromEnv(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		l = NewNop()
	}
	global.Store(l)
}

// Global returns the process-wide logger.
func Global() *Logger {
	return global.Load()
}

// SetGlobal replaces the process-wide logger. Nil is ignored.
func SetGlobal(l *Logger) {
	if l != nil {
		global.Store(l)
	}
}
