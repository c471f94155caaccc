// Package logger gives every protocol layer a small, structured logging
// surface backed by logrus, instead of each package reaching for the
// standard library's log directly.
package logger

import (
	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every OSI layer and the MMS dispatcher
// depend on. It is intentionally small: layers log events, not metrics.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)

	// WithField returns a Logger that always includes key=value in its
	// output, e.g. layer="cotp" or invoke_id=7. Used so a single dispatcher
	// goroutine's log lines can be filtered by connection or invocation.
	WithField(key string, value any) Logger
}

// logrusLogger adapts a *logrus.Entry to the Logger interface.
type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a Logger backed by logrus's standard logger, tagged with
// category (e.g. "cotp", "session", "mms").
func New(category string) Logger {
	base := logrus.StandardLogger()
	entry := logrus.NewEntry(base)
	if category != "" {
		entry = entry.WithField("layer", category)
	}
	return &logrusLogger{entry: entry}
}

func (l *logrusLogger) Debug(format string, v ...any) { l.entry.Debugf(format, v...) }
func (l *logrusLogger) Info(format string, v ...any)  { l.entry.Infof(format, v...) }
func (l *logrusLogger) Warn(format string, v ...any)  { l.entry.Warnf(format, v...) }
func (l *logrusLogger) Error(format string, v ...any) { l.entry.Errorf(format, v...) }

func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

// Nop is a Logger that discards everything, useful as a default when the
// caller hasn't supplied one.
func Nop() Logger {
	base := logrus.New()
	base.SetOutput(nopWriter{})
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
