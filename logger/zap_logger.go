package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct {
	l *zap.Logger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{
		l: l,
	}
}

// NewProduction builds a zap-backed Logger for the given level (debug|info|warn|error)
// and format (json|console). The returned func flushes buffered records.
func NewProduction(level, format string) (*ZapLogger, func(), error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(level)))
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "", "json":
		cfg.Encoding = "json"
	case "console", "text":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, nil, fmt.Errorf("unsupported log format %q", format)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}
	return NewZapLogger(base), func() { _ = base.Sync() }, nil
}

func (z *ZapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, toZap(fields...)...) }
func (z *ZapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, toZap(fields...)...) }
func (z *ZapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, toZap(fields...)...) }
func (z *ZapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, toZap(fields...)...) }
func (z *ZapLogger) Fatal(msg string, fields ...Field) { z.l.Fatal(msg, toZap(fields...)...) }

func (z *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{l: z.l.With(toZap(fields...)...)}
}

// Zap exposes the underlying zap logger for libraries that need it directly.
func (z *ZapLogger) Zap() *zap.Logger { return z.l }

func toZap(fs ...Field) []zap.Field {
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
