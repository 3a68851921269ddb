package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	stdlog "log"
	"strings"
	"testing"
)

func newBufLogger(buf *bytes.Buffer, level Level) Logger {
	return NewLogger(WithLevel(level), WithOutput(NewWriterOutput(buf)))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, WarnLevel)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["msg"] != "w" || lines[0]["level"] != "WARN" {
		t.Fatalf("unexpected first line: %v", lines[0])
	}
}

func TestWithFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, InfoLevel).WithComponent("broker").With(Queue("llm_queue"))
	l.WithError(errors.New("boom")).Info("published", Int("n", 3))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	if got[ComponentKey] != "broker" || got[QueueKey] != "llm_queue" || got[ErrorKey] != "boom" {
		t.Fatalf("missing fields: %v", got)
	}
	if got["n"].(float64) != 3 {
		t.Fatalf("n: %v", got["n"])
	}
}

func TestSetLevelPropagatesToChildren(t *testing.T) {
	var buf bytes.Buffer
	root := newBufLogger(&buf, InfoLevel)
	child := root.WithComponent("worker")
	root.SetLevel(ErrorLevel)
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %s", buf.String())
	}
}

func TestWithContextCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := newBufLogger(&buf, InfoLevel)
	ctx := ContextWithCorrelationID(context.Background(), "abc")
	l.WithContext(ctx).Info("reply")
	lines := decodeLines(t, &buf)
	if lines[0][CorrelationIDKey] != "abc" {
		t.Fatalf("correlation id missing: %v", lines[0])
	}
	if got := CorrelationIDFromContext(ctx); got != "abc" {
		t.Fatalf("CorrelationIDFromContext = %q", got)
	}
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context gave %q", got)
	}
}

func TestFatalCallsExit(t *testing.T) {
	var buf bytes.Buffer
	code := -1
	l := NewLogger(WithOutput(NewWriterOutput(&buf)), WithExitFunc(func(c int) { code = c }))
	l.Fatal("connection exhausted")
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(buf.String(), "FATAL") {
		t.Fatalf("fatal line missing: %s", buf.String())
	}
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(NewWriterOutput(&buf)), WithFormatter(&TextFormatter{DisableTimestamp: true}))
	l.Info("scaled", Str("service", "llm-worker"), Str("note", "two words"))
	want := "INFO  scaled note=\"two words\" service=llm-worker\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestApplyConfigRedactsAndSamples(t *testing.T) {
	l, err := ApplyConfig(Config{Level: "debug", Outputs: []string{"null"}, RedactKeys: []string{"token"}, SampleInitial: 1, SampleThereafter: 2})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	var buf bytes.Buffer
	bl := l.(*BaseLogger)
	bl.outputs = []Output{NewWriterOutput(&buf)}
	for i := 0; i < 4; i++ {
		l.Info("tick", Str("token", "secret"))
	}
	lines := decodeLines(t, &buf)
	// first record kept, then every 2nd: 0,1,3
	if len(lines) != 3 {
		t.Fatalf("expected 3 sampled lines, got %d", len(lines))
	}
	if lines[0]["token"] != "[REDACTED]" {
		t.Fatalf("token not redacted: %v", lines[0])
	}
}

func TestApplyConfigRejectsUnknown(t *testing.T) {
	if _, err := ApplyConfig(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := ApplyConfig(Config{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := ApplyConfig(Config{Outputs: []string{"syslog"}}); err == nil {
		t.Fatalf("expected output error")
	}
}

func TestRedirectStdLog(t *testing.T) {
	var buf bytes.Buffer
	restore := RedirectStdLog(newBufLogger(&buf, InfoLevel))
	stdlog.Printf("pebble: compaction %d", 7)
	restore()
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "pebble: compaction 7" || lines[0][ComponentKey] != "stdlog" {
		t.Fatalf("unexpected: %v", lines)
	}
}

func TestToLogr(t *testing.T) {
	var buf bytes.Buffer
	lr := ToLogr(newBufLogger(&buf, InfoLevel)).WithName("client-go").WithValues("deployment", "llm-worker")
	lr.Info("scaled", "replicas", 2)
	lr.V(1).Info("verbose")
	lr.Error(errors.New("forbidden"), "update failed")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["logger"] != "client-go" || lines[0]["deployment"] != "llm-worker" || lines[0]["replicas"].(float64) != 2 {
		t.Fatalf("unexpected info line: %v", lines[0])
	}
	if lines[1][ErrorKey] != "forbidden" || lines[1]["level"] != "ERROR" {
		t.Fatalf("unexpected error line: %v", lines[1])
	}
}
