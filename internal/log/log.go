// Package log provides the process-wide structured logger, backed by
// logrus with a pattern formatter and pluggable appenders.
package log

import (
	"sync"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

var (
	mu     sync.Mutex
	logger Logger = newAdapter(defaultConfig())
)

func GetLogger() Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Init configures the global logger. Before Init the package falls back
// to an info-level console logger.
func Init(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	logger = newAdapter(cfg)
}
