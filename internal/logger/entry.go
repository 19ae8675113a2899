package logger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry collects metric fields (duration_ms, count, size, status) for one log line.
// The logger comes from the context passed when the line is written.
//
//	logger.With(logger.Fields{logger.FieldCount: n}).WithDuration(elapsed).Info(ctx, "Reconcile finished")
type Entry struct {
	fields Fields
}

// With starts an Entry with the given fields.
func With(fields Fields) *Entry {
	return (&Entry{}).With(fields)
}

// With returns a copy of e with more fields.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fields: merged}
}

// WithDuration records d in milliseconds.
func (e *Entry) WithDuration(d time.Duration) *Entry {
	return e.With(Fields{FieldDurationMs: d.Milliseconds()})
}

// WithCount records a count.
func (e *Entry) WithCount(n int64) *Entry {
	return e.With(Fields{FieldCount: n})
}

// WithSize records a size in bytes.
func (e *Entry) WithSize(n int64) *Entry {
	return e.With(Fields{FieldSize: n})
}

func (e *Entry) logf(ctx context.Context, level logrus.Level, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Logf(level, format, args...)
}

// Debug logs at Debug level.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.logf(ctx, logrus.DebugLevel, format, args...)
}

// Info logs at Info level.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.logf(ctx, logrus.InfoLevel, format, args...)
}

// Warn logs at Warn level.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.logf(ctx, logrus.WarnLevel, format, args...)
}

// Error logs at Error level.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.logf(ctx, logrus.ErrorLevel, format, args...)
}
