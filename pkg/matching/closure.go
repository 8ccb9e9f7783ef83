package matching

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ClosureEnv is the read-only view passed to a user closure program. Field
// names are the variables available inside the expr program.
type ClosureEnv struct {
	Method  string
	Path    string
	Scheme  string
	Host    string
	Port    string
	Query   map[string]string
	Headers map[string]string
	Cookies map[string]string
	Body    string
	JSON    any
}

// NewClosureEnv builds the ClosureEnv for r. Exported so pkg/mock can reuse
// it when evaluating dynamic response-body closures (not just when-clause
// is_true/is_false matchers).
func NewClosureEnv(r *Request) ClosureEnv {
	query := make(map[string]string, len(r.Query))
	for _, kv := range r.Query {
		if _, ok := query[kv.Key]; !ok {
			query[kv.Key] = kv.Value
		}
	}
	headers := make(map[string]string)
	for _, k := range r.Headers.Keys() {
		if v, ok := r.Headers.Get(k); ok {
			headers[k] = v
		}
	}
	cookies := make(map[string]string, len(r.Cookies))
	for _, kv := range r.Cookies {
		if _, ok := cookies[kv.Key]; !ok {
			cookies[kv.Key] = kv.Value
		}
	}
	j, _ := r.JSON()
	return ClosureEnv{
		Method: r.Method, Path: r.Path, Scheme: r.Scheme, Host: r.Host, Port: r.Port,
		Query: query, Headers: headers, Cookies: cookies, Body: string(r.Body), JSON: j,
	}
}

// closureMatcher is the user-closure escape hatch (spec.md §3 "user closure
// (is_true / is_false)" and §9 "treated as opaque callable values"):
// an expr program evaluated against a ClosureEnv, expected to yield a bool.
type closureMatcher struct {
	source   string
	negate   bool // is_false wraps with negate=true
	program  *vm.Program
}

// NewIsTrueMatcher compiles an expr program that must evaluate truthy.
func NewIsTrueMatcher(source string) (Matcher, error) {
	return newClosureMatcher(source, false)
}

// NewIsFalseMatcher compiles an expr program that must evaluate falsy.
func NewIsFalseMatcher(source string) (Matcher, error) {
	return newClosureMatcher(source, true)
}

func newClosureMatcher(source string, negate bool) (Matcher, error) {
	program, err := expr.Compile(source, expr.Env(ClosureEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid closure expression: %w", err)
	}
	return &closureMatcher{source: source, negate: negate, program: program}, nil
}

func (m *closureMatcher) Matches(r *Request) bool {
	out, err := expr.Run(m.program, NewClosureEnv(r))
	if err != nil {
		return false
	}
	result, _ := out.(bool)
	if m.negate {
		return !result
	}
	return result
}

// Distance is 0 on match and a fixed large constant otherwise, per spec.md
// §4.1: "User-closure matchers return only matches; their distance is 0 on
// match and a fixed large constant otherwise."
func (m *closureMatcher) Distance(r *Request) uint64 {
	if m.Matches(r) {
		return 0
	}
	return closureMismatchDistance
}

func (m *closureMatcher) Describe() string {
	if m.negate {
		return fmt.Sprintf("is_false(%s)", m.source)
	}
	return fmt.Sprintf("is_true(%s)", m.source)
}
