// Package log builds the zap loggers used by the streamlite command.
package log

import (
	"io"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	DebugLevel Level = zap.DebugLevel
	InfoLevel  Level = zap.InfoLevel
	WarnLevel  Level = zap.WarnLevel
	ErrorLevel Level = zap.ErrorLevel
)

const timeLayout = "2006-01-02T15:04:05.000Z0700"

// New returns a logger writing JSON lines to writer.
func New(writer io.Writer, level Level, opts ...zap.Option) *zap.Logger {
	if writer == nil {
		panic("log: writer is nil")
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(timeLayout))
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.AddSync(writer),
		level,
	)
	return zap.New(core, opts...)
}

// ParseLevel accepts the zap level names, such as "debug" or "warn".
func ParseLevel(s string) (Level, error) {
	return zapcore.ParseLevel(s)
}
