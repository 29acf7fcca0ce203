package logger

import "github.com/sirupsen/logrus"

// Ctx is a map of structured fields attached to a log entry.
type Ctx map[string]any

// Logger is the structured logging interface every engine component takes
// at construction time — never a package-level global, so tests can inject
// a no-op or recording logger.
type Logger interface {
	Panic(msg string, ctx ...Ctx)
	Fatal(msg string, ctx ...Ctx)
	Error(msg string, ctx ...Ctx)
	Warn(msg string, ctx ...Ctx)
	Info(msg string, ctx ...Ctx)
	Debug(msg string, ctx ...Ctx)
	Trace(msg string, ctx ...Ctx)
	AddContext(ctx Ctx) Logger
}

// targetLogger is the subset of *logrus.Entry (or *logrus.Logger) the
// wrapper drives. Both types satisfy it as-is.
type targetLogger interface {
	WithFields(fields logrus.Fields) *logrus.Entry
	Panic(args ...any)
	Fatal(args ...any)
	Error(args ...any)
	Warn(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
}
