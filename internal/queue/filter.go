package queue

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Filter is a compiled CEL predicate over stored messages. The zero Filter
// matches everything.
//
// Variables: id, correlation_id, reply_to, content_type (string), ts_ms,
// size, delivery_count, now_ms (int), text (body as string), json (decoded
// body or null) and headers (map<string,string>).
type Filter struct {
	prog    cel.Program
	enabled bool
}

// CompileFilter parses and type-checks expr. Blank expressions yield a
// match-all filter.
func CompileFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("correlation_id", cel.StringType),
		cel.Variable("reply_to", cel.StringType),
		cel.Variable("content_type", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("delivery_count", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	if ot := ast.OutputType(); !ot.IsExactType(cel.BoolType) && !ot.IsExactType(cel.DynType) {
		return Filter{}, &filterTypeError{expr: expr, got: ot.String()}
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

type filterTypeError struct {
	expr string
	got  string
}

func (e *filterTypeError) Error() string {
	return "filter " + e.expr + " must evaluate to bool, got " + e.got
}

// Match evaluates the filter. Evaluation errors count as no match.
func (f Filter) Match(m Message) bool {
	if !f.enabled {
		return true
	}
	var doc any
	_ = json.Unmarshal(m.Body, &doc)
	headers := m.Header.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":             m.ID.String(),
		"correlation_id": m.Header.CorrelationID,
		"reply_to":       m.Header.ReplyTo,
		"content_type":   m.Header.ContentType,
		"ts_ms":          m.Header.TimestampMs,
		"size":           int64(len(m.Body)),
		"delivery_count": int64(m.Header.DeliveryCount),
		"now_ms":         time.Now().UnixMilli(),
		"text":           string(m.Body),
		"json":           doc,
		"headers":        headers,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
