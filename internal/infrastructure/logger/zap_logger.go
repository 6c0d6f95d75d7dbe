package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. encoding is "json" or "console".
func NewLogger(level, encoding string) (*zap.Logger, error) {
	return build(level, encoding, []string{"stdout"})
}

// NewFileLogger writes to path as well as stdout.
func NewFileLogger(path, level, encoding string) (*zap.Logger, error) {
	return build(level, encoding, []string{"stdout", path})
}

func build(level, encoding string, outputs []string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	// Parse level
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)

	if encoding == "console" {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = outputs
	config.Sampling = nil

	return config.Build()
}
