// Package logging
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.Mutex
	logger *zap.Logger
)

// Init replaces the process logger.
func Init(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Get returns the shared logger, building a production logger on first use.
func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.Must(zap.NewProduction())
	}
	return logger
}

// Sugar returns the shared sugared logger.
func Sugar() *zap.SugaredLogger {
	return Get().Sugar()
}
