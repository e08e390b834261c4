package utils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogOptions selects the process logger's level, encoding and file sinks.
type LogOptions struct {
	Debug bool
	// Encoding is "json" or "console"; empty means json
	Encoding string
	// File and ErrorFile receive a copy of the stderr output when set
	File      string
	ErrorFile string
}

var (
	log     *zap.Logger
	logErr  error
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logOnce sync.Once
)

// InitLogger builds the process logger on the first call. Later calls keep
// its sinks and only apply opts.Debug.
func InitLogger(opts LogOptions) (*zap.Logger, error) {
	SetDebug(opts.Debug)
	logOnce.Do(func() {
		log, logErr = buildLogger(opts)
	})
	return log, logErr
}

func buildLogger(opts LogOptions) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = level
	if opts.Encoding != "" {
		config.Encoding = opts.Encoding
	}

	// stdout carries reports and JSON results
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	if opts.File != "" {
		config.OutputPaths = append(config.OutputPaths, opts.File)
	}
	if opts.ErrorFile != "" {
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, opts.ErrorFile)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = "stacktrace"
	if config.Encoding == "console" {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}
	return logger.Named("pricelab"), nil
}

// SetDebug switches the process logger between debug and info level.
func SetDebug(debug bool) {
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// GetLogger returns the process logger, or a no-op logger before a
// successful InitLogger.
func GetLogger() *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
