// Package logging provides the injectable logging capability used
// throughout the replication core. No package here calls logrus directly;
// every call site takes a Logger field instead.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]interface{}

// Logger is the capability every replication component logs through.
// A nil Logger is valid everywhere in this package: use NoOp() or leave the
// field unset and call sites fall back to it.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps a logrus.Logger as a Logger. Passing nil uses
// logrus.StandardLogger().
func NewLogrusLogger(base *logrus.Logger) Logger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

func (l *logrusLogger) Debug(msg string, fields Fields) {
	l.withFields(fields).Debug(msg)
}

func (l *logrusLogger) Info(msg string, fields Fields) {
	l.withFields(fields).Info(msg)
}

func (l *logrusLogger) Warn(msg string, fields Fields) {
	l.withFields(fields).Warn(msg)
}

func (l *logrusLogger) Error(msg string, fields Fields) {
	l.withFields(fields).Error(msg)
}

func (l *logrusLogger) withFields(fields Fields) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	return l.entry.WithFields(logrus.Fields(fields))
}

type noopLogger struct{}

func (noopLogger) Debug(string, Fields) {}
func (noopLogger) Info(string, Fields)  {}
func (noopLogger) Warn(string, Fields)  {}
func (noopLogger) Error(string, Fields) {}

// NoOp returns a Logger that discards everything. Components use this when
// they are handed a nil Logger so call sites never need a nil check.
func NoOp() Logger {
	return noopLogger{}
}

// OrNoOp returns l if non-nil, otherwise the no-op logger.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOp()
	}
	return l
}

// WithFields returns a Logger that merges base into every call's fields,
// so a caller-supplied value (e.g. a correlation ID) appears on every log
// line without every call site having to repeat it.
func WithFields(l Logger, base Fields) Logger {
	return &scopedLogger{inner: OrNoOp(l), base: base}
}

type scopedLogger struct {
	inner Logger
	base  Fields
}

func (s *scopedLogger) merge(fields Fields) Fields {
	if len(s.base) == 0 {
		return fields
	}
	merged := make(Fields, len(s.base)+len(fields))
	for k, v := range s.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

func (s *scopedLogger) Debug(msg string, fields Fields) { s.inner.Debug(msg, s.merge(fields)) }
func (s *scopedLogger) Info(msg string, fields Fields)  { s.inner.Info(msg, s.merge(fields)) }
func (s *scopedLogger) Warn(msg string, fields Fields)  { s.inner.Warn(msg, s.merge(fields)) }
func (s *scopedLogger) Error(msg string, fields Fields) { s.inner.Error(msg, s.merge(fields)) }
