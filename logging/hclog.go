package logging

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
)

// hclogAdapter lets anything expecting an hclog.Logger — the KCP/xtaci
// stack is the usual client — write through the same Logger as the rest
// of this module.
type hclogAdapter struct {
	l    *Logger
	name string
}

// AsHCLog wraps l as an hclog.Logger.
func AsHCLog(l *Logger) hclog.Logger {
	return &hclogAdapter{l: l}
}

func (a *hclogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Off, hclog.NoLevel:
		return
	case hclog.Trace, hclog.Debug:
		a.l.Debugf(msg, args...)
	case hclog.Warn:
		a.l.Warnf(msg, args...)
	case hclog.Error:
		a.l.Errorf(msg, args...)
	default:
		a.l.Infof(msg, args...)
	}
}

func (a *hclogAdapter) Trace(msg string, args ...interface{}) { a.Log(hclog.Trace, msg, args...) }
func (a *hclogAdapter) Debug(msg string, args ...interface{}) { a.Log(hclog.Debug, msg, args...) }
func (a *hclogAdapter) Info(msg string, args ...interface{})  { a.Log(hclog.Info, msg, args...) }
func (a *hclogAdapter) Warn(msg string, args ...interface{})  { a.Log(hclog.Warn, msg, args...) }
func (a *hclogAdapter) Error(msg string, args ...interface{}) { a.Log(hclog.Error, msg, args...) }

func (a *hclogAdapter) IsTrace() bool { return true }
func (a *hclogAdapter) IsDebug() bool { return true }
func (a *hclogAdapter) IsInfo() bool  { return true }
func (a *hclogAdapter) IsWarn() bool  { return true }
func (a *hclogAdapter) IsError() bool { return true }

func (a *hclogAdapter) ImpliedArgs() []interface{} { return nil }
func (a *hclogAdapter) With(args ...interface{}) hclog.Logger {
	return &hclogAdapter{l: a.l, name: a.name}
}
func (a *hclogAdapter) Name() string { return a.name }
func (a *hclogAdapter) Named(name string) hclog.Logger {
	return &hclogAdapter{l: a.l, name: name}
}
func (a *hclogAdapter) ResetNamed(name string) hclog.Logger {
	return &hclogAdapter{l: a.l, name: name}
}
func (a *hclogAdapter) SetLevel(hclog.Level)  {}
func (a *hclogAdapter) GetLevel() hclog.Level { return hclog.Info }
func (a *hclogAdapter) StandardLogger(*hclog.StandardLoggerOptions) *log.Logger {
	return log.New(a.StandardWriter(nil), "", 0)
}
func (a *hclogAdapter) StandardWriter(*hclog.StandardLoggerOptions) io.Writer {
	return a.l.entry.Writer()
}
