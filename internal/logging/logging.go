package logging

import (
	"github.com/pion/logging"
)

var loggerFactory logging.LoggerFactory = logging.NewDefaultLoggerFactory()

// NewLogger returns a leveled logger for scope from the package default
// factory. Components that accept a logging.LoggerFactory option fall back to
// this when none is given.
func NewLogger(scope string) logging.LeveledLogger {
	return loggerFactory.NewLogger(scope)
}

// FromFactory returns a logger from f, or from the default factory when f is nil.
func FromFactory(f logging.LoggerFactory, scope string) logging.LeveledLogger {
	if f == nil {
		return NewLogger(scope)
	}

	return f.NewLogger(scope)
}
