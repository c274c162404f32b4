package logging

import (
	"io"
	"log/slog"
	"strings"
)

// New returns a JSON logger writing to w at the given level.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps debug|info|warn|error (any case) to a slog level.
// Unknown or empty values return def.
func ParseLevel(s string, def slog.Level) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return def
}

// ErrAttr wraps an error as a slog attribute under the "error" key.
func ErrAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// ErrorContext carries the diagnostic context of a failed operation.
// It is filled in explicitly at the call site and rendered as one log group.
type ErrorContext struct {
	Component string
	Operation string
	Attrs     []slog.Attr
}

// With returns a copy of the context with extra attributes appended.
func (c ErrorContext) With(attrs ...slog.Attr) ErrorContext {
	out := ErrorContext{Component: c.Component, Operation: c.Operation}
	out.Attrs = append(append(out.Attrs, c.Attrs...), attrs...)
	return out
}

// Attr renders the context as a slog group named "context".
func (c ErrorContext) Attr() slog.Attr {
	args := make([]any, 0, len(c.Attrs)+2)
	args = append(args, slog.String("component", c.Component), slog.String("operation", c.Operation))
	for _, a := range c.Attrs {
		args = append(args, a)
	}
	return slog.Group("context", args...)
}

// Log writes err with its context at error level.
func (c ErrorContext) Log(l *slog.Logger, msg string, err error) {
	l.Error(msg, ErrAttr(err), c.Attr())
}
