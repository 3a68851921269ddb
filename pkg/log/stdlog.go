package log

import (
	"bytes"
	stdlog "log"
)

// stdWriter turns each write from a *log.Logger into one record.
type stdWriter struct {
	logger Logger
	level  Level
}

func (w *stdWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimRight(p, "\r\n"))
	switch w.level {
	case DebugLevel:
		w.logger.Debug(msg)
	case WarnLevel:
		w.logger.Warn(msg)
	case ErrorLevel, FatalLevel:
		w.logger.Error(msg)
	default:
		w.logger.Info(msg)
	}
	return len(p), nil
}

// ToStdLogger returns a *log.Logger that writes into l at the given level.
func ToStdLogger(l Logger, level Level) *stdlog.Logger {
	return stdlog.New(&stdWriter{logger: l, level: level}, "", 0)
}

// RedirectStdLog points the standard library's default logger at l and
// returns a function restoring the previous writer and flags.
func RedirectStdLog(l Logger) func() {
	prevW := stdlog.Writer()
	prevF := stdlog.Flags()
	prevP := stdlog.Prefix()
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(&stdWriter{logger: l.WithComponent("stdlog"), level: InfoLevel})
	return func() {
		stdlog.SetOutput(prevW)
		stdlog.SetFlags(prevF)
		stdlog.SetPrefix(prevP)
	}
}
