package lister

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// newErrorLogger returns a retryablehttp.LeveledLogger that only forwards
// errors to zap.
func newErrorLogger(logger *zap.Logger) retryablehttp.LeveledLogger {
	return &errorLogger{log: logger.Sugar()}
}

type errorLogger struct {
	log *zap.SugaredLogger
}

func (l *errorLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}

func (l *errorLogger) Info(string, ...interface{}) {}

func (l *errorLogger) Debug(string, ...interface{}) {}

func (l *errorLogger) Warn(string, ...interface{}) {}
