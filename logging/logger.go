// Package logging is the concrete stand-in for the fire-and-forget
// log(level, fmt, args) collaborator: a structured logger built on
// logrus, with bridges so vendored dependencies that expect an
// hclog.Logger or a jwalterweatherman global can share the same sink
// instead of writing to stdout on their own.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors the small, fixed set of severities every component
// logs at; it exists so call sites don't import logrus directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) toLogrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelFatal:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is the structured sink every package in this module calls
// through instead of log.Printf or fmt.Println.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing JSON lines to w at or above level.
func New(w io.Writer, level Level) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level.toLogrus())
	base.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{entry: logrus.NewEntry(base)}
}

// Default builds a Logger writing human-readable text to stderr at
// LevelInfo, the usual choice for a component with no configured sink.
func Default() *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
	return &Logger{entry: logrus.NewEntry(base)}
}

// With returns a child Logger that annotates every subsequent line with
// fields, without mutating the receiver.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }
