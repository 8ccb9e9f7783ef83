package mock

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/httpmockd/httpmockd/pkg/matching"
)

// compileClosureResponse compiles a dynamic-response expr program at
// rule-compile time, matching spec.md §9 "user closures are treated as
// opaque callable values" invoked later, never re-parsed per request.
func compileClosureResponse(source string) (*Response, error) {
	program, err := expr.Compile(source, expr.Env(matching.ClosureEnv{}))
	if err != nil {
		return nil, fmt.Errorf("invalid response closure: %w", err)
	}
	return &Response{ClosureSource: source, closureProgram: program}, nil
}

// Evaluate produces status, headers, and body for r. Static responses
// return their fields verbatim; dynamic (closure) responses run the
// compiled program and interpret its result as either a bare body string or
// a map with optional "status", "headers", and "body" keys.
func (resp *Response) Evaluate(r *matching.Request) (int, []matching.KV, []byte, error) {
	if resp.closureProgram == nil {
		return resp.Status, resp.Headers, resp.Body, nil
	}

	out, err := evalClosureResponse(resp.closureProgram, r)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("response closure: %w", err)
	}

	status := resp.Status
	if status == 0 {
		status = 200
	}
	headers := resp.Headers
	var body []byte

	switch v := out.(type) {
	case string:
		body = []byte(v)
	case map[string]any:
		if s, ok := v["status"]; ok {
			status = toInt(s)
		}
		if b, ok := v["body"]; ok {
			if s, ok := b.(string); ok {
				body = []byte(s)
			}
		}
		if h, ok := v["headers"]; ok {
			if hm, ok := h.(map[string]any); ok {
				extra := make([]matching.KV, 0, len(hm))
				for k, val := range hm {
					if s, ok := val.(string); ok {
						extra = append(extra, matching.KV{Key: k, Value: s})
					}
				}
				headers = append(append([]matching.KV{}, headers...), extra...)
			}
		}
	default:
		return 0, nil, nil, fmt.Errorf("response closure returned unsupported type %T", out)
	}

	return status, headers, body, nil
}

// evalClosureResponse runs a compiled response closure against the
// request's ClosureEnv, matching the evaluation style of
// pkg/matching's closureMatcher (compile once, expr.Run per request).
func evalClosureResponse(program *vm.Program, r *matching.Request) (any, error) {
	return expr.Run(program, matching.NewClosureEnv(r))
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
