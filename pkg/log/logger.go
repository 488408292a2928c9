package log

import (
	"context"
	"io"
	"log/slog"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// NewCloudHandler returns a slog JSON handler that writes Cloud Logging
// compatible records (severity, message, sourceLocation) and attaches
// cockroachdb stack traces to error attributes.
func NewCloudHandler(w io.Writer, level Level) slog.Handler {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     ToSlogLevel(level),
		// Replace attributes to convert to CloudLogging format.
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{
					Key:   "severity",
					Value: attr.Value,
				}
			case slog.MessageKey:
				attr = slog.Attr{
					Key:   "message",
					Value: attr.Value,
				}
			case slog.SourceKey:
				attr = slog.Attr{
					Key:   "logging.googleapis.com/sourceLocation",
					Value: attr.Value,
				}
			}
			return attr
		},
	}
	return WrapByErrFmtHandler(slog.NewJSONHandler(w, &ops))
}

// ToSlogLevel converts a Level to slog.Level.
func ToSlogLevel(level Level) slog.Level {
	return slog.Level(level)
}

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// SlogLogger adapts *slog.Logger to Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps a slog logger.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, fields ...any) { s.l.Debug(msg, slogFields(fields)...) }
func (s *SlogLogger) Info(msg string, fields ...any)  { s.l.Info(msg, slogFields(fields)...) }
func (s *SlogLogger) Warn(msg string, fields ...any)  { s.l.Warn(msg, slogFields(fields)...) }
func (s *SlogLogger) Error(msg string, fields ...any) { s.l.Error(msg, slogFields(fields)...) }

func (s *SlogLogger) With(fields ...any) Logger {
	return &SlogLogger{l: s.l.With(slogFields(fields)...)}
}

func (s *SlogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.l.Enabled(ctx, ToSlogLevel(level))
}

// slogFields turns a leading error value into the error attribute so that
// ErrFmtHandler can extract its stack trace.
func slogFields(fields []any) []any {
	if len(fields) == 0 {
		return fields
	}
	if err, ok := fields[0].(error); ok {
		out := make([]any, 0, len(fields))
		out = append(out, ErrAttr(err))
		return append(out, fields[1:]...)
	}
	return fields
}
