package utils

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	correlationIDKey ctxKey = "correlation_id"
	tenantIDKey      ctxKey = "tenant_id"
)

// Logger keeps a context-aware call shape over zap. The correlation and tenant
// ids found in ctx are attached to every entry.
type Logger struct {
	service string
	zl      *zap.Logger
}

var defaultLogger = &Logger{
	service: "mandate-vault",
	zl:      buildZap(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")),
}

func buildZap(level, format string) *zap.Logger {
	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return zap.NewNop()
	}
	return zl
}

// ConfigureLogging replaces the process-wide logger. Called once from main after
// the configuration is loaded.
func ConfigureLogging(level, format string) {
	defaultLogger.zl = buildZap(level, format)
}

func NewLogger(service string) *Logger {
	return &Logger{
		service: service,
		zl:      defaultLogger.zl,
	}
}

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{service: "test", zl: zap.NewNop()}
}

// Zap exposes the underlying logger for libraries that take a *zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl.With(zap.String("service", l.service))
}

func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.DebugLevel, message, fields...)
}

func (l *Logger) Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.InfoLevel, message, fields...)
}

func (l *Logger) Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.WarnLevel, message, fields...)
}

func (l *Logger) Error(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.ErrorLevel, message, fields...)
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, message string, fields ...map[string]interface{}) {
	ce := l.zl.Check(level, message)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, 4)
	zf = append(zf, zap.String("service", l.service))
	if id := GetCorrelationID(ctx); id != "" {
		zf = append(zf, zap.String("correlation_id", id))
	}
	if id := GetTenantID(ctx); id != "" {
		zf = append(zf, zap.String("tenant_id", id))
	}
	if len(fields) > 0 {
		for k, v := range fields[0] {
			if err, ok := v.(error); ok {
				zf = append(zf, zap.NamedError(k, err))
				continue
			}
			zf = append(zf, zap.Any(k, v))
		}
	}

	ce.Write(zf...)
}

func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

func GetTenantID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Debug(ctx, message, fields...)
}

func Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Info(ctx, message, fields...)
}

func Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Warn(ctx, message, fields...)
}

func Error(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Error(ctx, message, fields...)
}
