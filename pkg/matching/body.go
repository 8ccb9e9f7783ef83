package matching

import (
	"bytes"
	"fmt"
	"net/url"
	"reflect"
	"regexp"

	"github.com/ohler55/ojg/jp"
)

// bodyMatcher implements the body exact/contains/regex/form/json-subset/
// json-path variants named in spec.md §3.
type bodyMatcher struct {
	kind     string // exact|contains|regex|form_subset|json_subset|json_path
	expected []byte
	re       *regexp.Regexp
	form     map[string]string
	jsonWant any
	path     string
}

func NewBodyExactMatcher(expected []byte) Matcher {
	return &bodyMatcher{kind: "exact", expected: expected}
}

func NewBodyContainsMatcher(expected []byte) Matcher {
	return &bodyMatcher{kind: "contains", expected: expected}
}

func NewBodyRegexMatcher(pattern string) (Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid body regex: %w", err)
	}
	return &bodyMatcher{kind: "regex", re: re}, nil
}

// NewBodyFormSubsetMatcher requires the form-urlencoded body to contain at
// least the given key/value pairs (additional fields are permitted).
func NewBodyFormSubsetMatcher(subset map[string]string) Matcher {
	return &bodyMatcher{kind: "form_subset", form: subset}
}

// NewBodyJSONSubsetMatcher requires the body, parsed as JSON, to structurally
// contain the given value: every key present in want must be present with an
// equal value in the body (recursively for nested objects); extra keys in
// the body are permitted. Arrays must match exactly.
func NewBodyJSONSubsetMatcher(want any) Matcher {
	return &bodyMatcher{kind: "json_subset", jsonWant: want}
}

// NewBodyJSONPathMatcher requires a JSONPath expression evaluated against the
// body to produce a value equal to want.
func NewBodyJSONPathMatcher(path string, want any) (Matcher, error) {
	if _, err := parseJSONPathCheck(path); err != nil {
		return nil, err
	}
	return &bodyMatcher{kind: "json_path", path: path, jsonWant: want}, nil
}

func parseJSONPathCheck(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("empty json-path expression")
	}
	if _, err := jp.ParseString(path); err != nil {
		return false, fmt.Errorf("invalid json-path %q: %w", path, err)
	}
	return true, nil
}

func (m *bodyMatcher) Matches(r *Request) bool {
	switch m.kind {
	case "exact":
		return bytes.Equal(r.Body, m.expected)
	case "contains":
		return bytes.Contains(r.Body, m.expected)
	case "regex":
		return m.re.Match(r.Body)
	case "form_subset":
		values, err := url.ParseQuery(string(r.Body))
		if err != nil {
			return false
		}
		for k, want := range m.form {
			if values.Get(k) != want {
				return false
			}
		}
		return true
	case "json_subset":
		v, err := r.JSON()
		if err != nil || v == nil {
			return false
		}
		return jsonContains(v, m.jsonWant)
	case "json_path":
		v, err := r.JSON()
		if err != nil || v == nil {
			return false
		}
		got, ok := jsonPathFirst(m.path, v)
		if !ok {
			return false
		}
		return reflect.DeepEqual(normalizeNumber(got), normalizeNumber(m.jsonWant))
	default:
		return false
	}
}

func (m *bodyMatcher) Distance(r *Request) uint64 {
	if m.Matches(r) {
		return 0
	}
	switch m.kind {
	case "exact":
		return levenshtein(string(r.Body), string(m.expected))
	case "contains":
		if len(m.expected) == 0 {
			return 0
		}
		return 1
	case "regex", "json_path":
		return regexMismatchDistance
	case "form_subset":
		values, err := url.ParseQuery(string(r.Body))
		if err != nil {
			return uint64(len(m.form))
		}
		var miss uint64
		for k, want := range m.form {
			if values.Get(k) != want {
				miss++
			}
		}
		return miss
	case "json_subset":
		v, err := r.JSON()
		if err != nil || v == nil {
			return uint64(jsonFieldCount(m.jsonWant))
		}
		return uint64(jsonFieldCount(m.jsonWant) - jsonMatchCount(v, m.jsonWant))
	default:
		return 1
	}
}

func (m *bodyMatcher) Describe() string {
	switch m.kind {
	case "exact":
		return "body exact match"
	case "contains":
		return fmt.Sprintf("body contains %q", string(m.expected))
	case "regex":
		return "body matches regex"
	case "form_subset":
		return "body form fields subset"
	case "json_subset":
		return "body JSON subset"
	case "json_path":
		return fmt.Sprintf("body json-path %s equals", m.path)
	default:
		return "body matcher"
	}
}

// jsonContains reports whether got structurally contains want: every key in
// a `want` object must exist in `got` with a deep-equal value; arrays and
// scalars must match exactly.
func jsonContains(got, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok || !jsonContains(gv, wv) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(normalizeNumber(got), normalizeNumber(want))
	}
}

// normalizeNumber coerces numeric types so JSON decoders that produce
// float64/int64 interchangeably still compare equal.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return v
	}
}

func jsonFieldCount(want any) int {
	m, ok := want.(map[string]any)
	if !ok {
		return 1
	}
	total := 0
	for _, v := range m {
		total += jsonFieldCount(v)
	}
	if total == 0 {
		return 1
	}
	return total
}

func jsonMatchCount(got, want any) int {
	wm, ok := want.(map[string]any)
	if !ok {
		if jsonContains(got, want) {
			return 1
		}
		return 0
	}
	gm, ok := got.(map[string]any)
	if !ok {
		return 0
	}
	total := 0
	for k, wv := range wm {
		if gv, ok := gm[k]; ok {
			total += jsonMatchCount(gv, wv)
		}
	}
	return total
}
