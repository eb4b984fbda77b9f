// Package klog provides the process-wide structured logger used by the
// manager's unobserved-fault sink and by cmd/taskctl: a gated *zap.Logger
// rotated to disk with lumberjack.
package klog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures a Logger.
type Config struct {
	// Enabled gates all logging; when false, New returns a no-op logger.
	// Hosts typically wire this to an environment variable so logging
	// stays off by default.
	Enabled bool
	// FilePath is where rotated logs are written. Required when Enabled.
	FilePath string
	// MaxSizeMB is the size in megabytes at which a log file rotates.
	MaxSizeMB int
	// MaxBackups is how many rotated files to retain.
	MaxBackups int
	// MaxAgeDays is how long to retain rotated files.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
	// Level is the minimum zapcore.Level logged ("debug", "info", "warn",
	// "error"); defaults to "info".
	Level string
}

// Logger wraps a *zap.Logger with taskkernel's fault-logging contract
// (manager.FaultLogger).
type Logger struct {
	*zap.Logger
}

// New builds a Logger from cfg. A disabled config returns a Logger backed
// by zap.NewNop().
func New(cfg Config) (*Logger, error) {
	if !cfg.Enabled {
		return &Logger{Logger: zap.NewNop()}, nil
	}

	level := parseLevel(cfg.Level)

	writeSyncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    orDefault(cfg.MaxSizeMB, 50),
		MaxBackups: orDefault(cfg.MaxBackups, 3),
		MaxAge:     orDefault(cfg.MaxAgeDays, 7),
		Compress:   cfg.Compress,
	})

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writeSyncer, level)
	return &Logger{Logger: zap.New(core, zap.AddCaller())}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogUnobservedFault implements manager.FaultLogger: it records the error
// of a scheduled task that ended unsuccessfully.
func (l *Logger) LogUnobservedFault(taskName string, taskID int64, err error) {
	l.Error("unobserved task fault",
		zap.String("task", taskName),
		zap.Int64("task_id", taskID),
		zap.Error(err),
	)
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger = &Logger{Logger: zap.NewNop()}
)

// Default returns the process-wide Logger installed by SetDefault, or a
// no-op Logger if none has been installed.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault installs l as the process-wide default.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}
