package logging

import (
	"io"

	jww "github.com/spf13/jwalterweatherman"
)

// writerFunc adapts a func([]byte) into an io.Writer, since jww wants an
// io.Writer rather than a callback.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// RouteSPF13 points the global jwalterweatherman notepad — used
// internally by spf13-family dependencies such as go-toml's cousin
// projects — at l, so a dependency that logs through jww does not bypass
// this module's sink.
func RouteSPF13(l *Logger, level Level) {
	out := writerFunc(func(p []byte) (int, error) {
		l.Infof("%s", string(p))
		return len(p), nil
	})

	jww.SetStdoutOutput(io.Discard)
	jww.SetLogOutput(out)

	switch level {
	case LevelDebug:
		jww.SetLogThreshold(jww.LevelTrace)
	case LevelWarn:
		jww.SetLogThreshold(jww.LevelWarn)
	case LevelError, LevelFatal:
		jww.SetLogThreshold(jww.LevelError)
	default:
		jww.SetLogThreshold(jww.LevelInfo)
	}
}
