package log

import (
	"fmt"

	"github.com/go-logr/logr"
)

// ToLogr adapts l to a logr.Logger. logr verbosity 0 maps to Info and
// anything higher to Debug.
func ToLogr(l Logger) logr.Logger {
	return logr.New(&logrSink{logger: l})
}

type logrSink struct {
	logger Logger
	name   string
}

var _ logr.LogSink = (*logrSink)(nil)

func (s *logrSink) Init(logr.RuntimeInfo) {}

func (s *logrSink) Enabled(level int) bool {
	if level > 0 {
		return s.logger.GetLevel() <= DebugLevel
	}
	return s.logger.GetLevel() <= InfoLevel
}

func (s *logrSink) Info(level int, msg string, kv ...interface{}) {
	fields := kvFields(s.name, kv)
	if level > 0 {
		s.logger.Debug(msg, fields...)
		return
	}
	s.logger.Info(msg, fields...)
}

func (s *logrSink) Error(err error, msg string, kv ...interface{}) {
	s.logger.Error(msg, append(kvFields(s.name, kv), Err(err))...)
}

func (s *logrSink) WithValues(kv ...interface{}) logr.LogSink {
	return &logrSink{logger: s.logger.With(kvFields("", kv)...), name: s.name}
}

func (s *logrSink) WithName(name string) logr.LogSink {
	n := name
	if s.name != "" {
		n = s.name + "/" + name
	}
	return &logrSink{logger: s.logger, name: n}
}

func kvFields(name string, kv []interface{}) []Field {
	fields := make([]Field, 0, len(kv)/2+1)
	if name != "" {
		fields = append(fields, Str("logger", name))
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, F(key, kv[i+1]))
	}
	if len(kv)%2 == 1 {
		fields = append(fields, F("EXTRA_VALUE", kv[len(kv)-1]))
	}
	return fields
}
