package matching

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher is a single predicate over a normalized request. Implementations
// are immutable once built by the rule compiler.
type Matcher interface {
	// Matches reports whether the request satisfies this predicate.
	Matches(r *Request) bool
	// Distance is 0 when Matches is true, otherwise a nonnegative measure of
	// how far the request is from acceptance. Used only for the closest-match
	// diagnostic, never for selection.
	Distance(r *Request) uint64
	// Describe renders a short human-readable explanation, used in near-miss
	// reasons.
	Describe() string
}

// StringOp is the comparison operator for string-field matchers.
type StringOp int

const (
	OpExact StringOp = iota
	OpPrefix
	OpSuffix
	OpContains
	OpRegex
	OpGlob
)

func (op StringOp) String() string {
	switch op {
	case OpExact:
		return "exact"
	case OpPrefix:
		return "prefix"
	case OpSuffix:
		return "suffix"
	case OpContains:
		return "contains"
	case OpRegex:
		return "regex"
	case OpGlob:
		return "glob"
	default:
		return "unknown"
	}
}

// stringFieldMatcher matches a single extracted string field (method, path,
// scheme, host, port) against an operator and expected value.
type stringFieldMatcher struct {
	field    string
	op       StringOp
	expected string
	re       *regexp.Regexp
	extract  func(r *Request) string
}

// NewStringMatcher builds a matcher over one of the request's scalar fields.
// Regex operands are compiled eagerly so rule compilation, not matching,
// fails on bad patterns.
func NewStringMatcher(field string, op StringOp, expected string, extract func(r *Request) string) (Matcher, error) {
	m := &stringFieldMatcher{field: field, op: op, expected: expected, extract: extract}
	if op == OpRegex {
		re, err := regexp.Compile(expected)
		if err != nil {
			return nil, fmt.Errorf("invalid regex for %s: %w", field, err)
		}
		m.re = re
	}
	return m, nil
}

func (m *stringFieldMatcher) Matches(r *Request) bool {
	actual := m.extract(r)
	switch m.op {
	case OpExact:
		return actual == m.expected
	case OpPrefix:
		return strings.HasPrefix(actual, m.expected)
	case OpSuffix:
		return strings.HasSuffix(actual, m.expected)
	case OpContains:
		return strings.Contains(actual, m.expected)
	case OpRegex:
		return m.re.MatchString(actual)
	case OpGlob:
		ok, _ := doublestar.Match(m.expected, strings.TrimPrefix(actual, "/"))
		return ok
	default:
		return false
	}
}

func (m *stringFieldMatcher) Distance(r *Request) uint64 {
	if m.Matches(r) {
		return 0
	}
	actual := m.extract(r)
	switch m.op {
	case OpRegex, OpGlob:
		return regexMismatchDistance
	default:
		return levenshtein(actual, m.expected)
	}
}

func (m *stringFieldMatcher) Describe() string {
	return fmt.Sprintf("%s %s %q", m.field, m.op, m.expected)
}

// Field extractors for the five scalar request fields named in spec.md §3/§4.1.
func FieldMethod(r *Request) string { return r.Method }
func FieldPath(r *Request) string   { return r.Path }
func FieldScheme(r *Request) string { return r.Scheme }
func FieldHost(r *Request) string   { return r.Host }
func FieldPort(r *Request) string   { return r.Port }

// headerMatcher covers presence, exact value, value regex, count, missing,
// and "exactly the set" variants for a single header name (or, for the
// exact-set variant, the whole header collection).
type headerMatcher struct {
	kind     string // presence|exact|regex|count|missing|exact_set
	name     string
	expected string
	count    int
	re       *regexp.Regexp
	set      map[string]string
}

func NewHeaderPresenceMatcher(name string) Matcher { return &headerMatcher{kind: "presence", name: name} }
func NewHeaderMissingMatcher(name string) Matcher  { return &headerMatcher{kind: "missing", name: name} }

func NewHeaderExactMatcher(name, value string) Matcher {
	return &headerMatcher{kind: "exact", name: name, expected: value}
}

func NewHeaderRegexMatcher(name, pattern string) (Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid header regex for %s: %w", name, err)
	}
	return &headerMatcher{kind: "regex", name: name, re: re}, nil
}

func NewHeaderCountMatcher(name string, count int) Matcher {
	return &headerMatcher{kind: "count", name: name, count: count}
}

// NewHeaderExactSetMatcher requires the header collection to contain exactly
// the given single-valued headers and no others beyond them.
func NewHeaderExactSetMatcher(set map[string]string) Matcher {
	return &headerMatcher{kind: "exact_set", set: set}
}

func (m *headerMatcher) Matches(r *Request) bool {
	switch m.kind {
	case "presence":
		return r.Headers.Has(m.name)
	case "missing":
		return !r.Headers.Has(m.name)
	case "exact":
		v, ok := r.Headers.Get(m.name)
		return ok && v == m.expected
	case "regex":
		v, ok := r.Headers.Get(m.name)
		return ok && m.re.MatchString(v)
	case "count":
		return r.Headers.Count(m.name) == m.count
	case "exact_set":
		if len(r.Headers.Keys()) != len(m.set) {
			return false
		}
		for k, v := range m.set {
			actual, ok := r.Headers.Get(k)
			if !ok || actual != v {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (m *headerMatcher) Distance(r *Request) uint64 {
	if m.Matches(r) {
		return 0
	}
	switch m.kind {
	case "presence", "missing":
		return 1
	case "exact":
		v, _ := r.Headers.Get(m.name)
		return levenshtein(v, m.expected)
	case "regex":
		return regexMismatchDistance
	case "count":
		return absDiff(r.Headers.Count(m.name), m.count)
	case "exact_set":
		var missing, extra uint64
		for k, v := range m.set {
			actual, ok := r.Headers.Get(k)
			if !ok || actual != v {
				missing++
			}
		}
		if got := len(r.Headers.Keys()); got > len(m.set) {
			extra = uint64(got - len(m.set))
		}
		return missing + extra
	default:
		return 1
	}
}

func (m *headerMatcher) Describe() string {
	switch m.kind {
	case "presence":
		return fmt.Sprintf("header %q present", m.name)
	case "missing":
		return fmt.Sprintf("header %q absent", m.name)
	case "exact":
		return fmt.Sprintf("header %q == %q", m.name, m.expected)
	case "regex":
		return fmt.Sprintf("header %q matches regex", m.name)
	case "count":
		return fmt.Sprintf("header %q count == %d", m.name, m.count)
	case "exact_set":
		return "headers exactly match set"
	default:
		return "header matcher"
	}
}

// queryMatcher covers presence, exact value, count, and missing for a query key.
type queryMatcher struct {
	kind     string // presence|exact|count|missing
	key      string
	expected string
	count    int
}

func NewQueryPresenceMatcher(key string) Matcher { return &queryMatcher{kind: "presence", key: key} }
func NewQueryMissingMatcher(key string) Matcher  { return &queryMatcher{kind: "missing", key: key} }
func NewQueryExactMatcher(key, value string) Matcher {
	return &queryMatcher{kind: "exact", key: key, expected: value}
}
func NewQueryCountMatcher(key string, count int) Matcher {
	return &queryMatcher{kind: "count", key: key, count: count}
}

func (m *queryMatcher) Matches(r *Request) bool {
	switch m.kind {
	case "presence":
		return r.QueryCount(m.key) > 0
	case "missing":
		return r.QueryCount(m.key) == 0
	case "exact":
		for _, v := range r.QueryValues(m.key) {
			if v == m.expected {
				return true
			}
		}
		return false
	case "count":
		return r.QueryCount(m.key) == m.count
	default:
		return false
	}
}

func (m *queryMatcher) Distance(r *Request) uint64 {
	if m.Matches(r) {
		return 0
	}
	switch m.kind {
	case "presence", "missing":
		return 1
	case "exact":
		best := uint64(1 << 62)
		values := r.QueryValues(m.key)
		if len(values) == 0 {
			return levenshtein("", m.expected)
		}
		for _, v := range values {
			if d := levenshtein(v, m.expected); d < best {
				best = d
			}
		}
		return best
	case "count":
		return absDiff(r.QueryCount(m.key), m.count)
	default:
		return 1
	}
}

func (m *queryMatcher) Describe() string {
	switch m.kind {
	case "presence":
		return fmt.Sprintf("query %q present", m.key)
	case "missing":
		return fmt.Sprintf("query %q absent", m.key)
	case "exact":
		return fmt.Sprintf("query %q == %q", m.key, m.expected)
	case "count":
		return fmt.Sprintf("query %q count == %d", m.key, m.count)
	default:
		return "query matcher"
	}
}

// cookieMatcher covers presence and exact-value cookie matching.
type cookieMatcher struct {
	kind     string // presence|exact
	name     string
	expected string
}

func NewCookiePresenceMatcher(name string) Matcher { return &cookieMatcher{kind: "presence", name: name} }
func NewCookieExactMatcher(name, value string) Matcher {
	return &cookieMatcher{kind: "exact", name: name, expected: value}
}

func (m *cookieMatcher) Matches(r *Request) bool {
	v, ok := r.CookieValue(m.name)
	if m.kind == "presence" {
		return ok
	}
	return ok && v == m.expected
}

func (m *cookieMatcher) Distance(r *Request) uint64 {
	if m.Matches(r) {
		return 0
	}
	if m.kind == "presence" {
		return 1
	}
	v, _ := r.CookieValue(m.name)
	return levenshtein(v, m.expected)
}

func (m *cookieMatcher) Describe() string {
	if m.kind == "presence" {
		return fmt.Sprintf("cookie %q present", m.name)
	}
	return fmt.Sprintf("cookie %q == %q", m.name, m.expected)
}

// And combines matchers with boolean AND — this is the default relation
// across a mock's own matcher list; it also exists standalone for nested
// grouping inside compound rule specs.
type And struct{ Sub []Matcher }

func NewAnd(sub ...Matcher) Matcher { return &And{Sub: sub} }

func (a *And) Matches(r *Request) bool {
	for _, m := range a.Sub {
		if !m.Matches(r) {
			return false
		}
	}
	return true
}

func (a *And) Distance(r *Request) uint64 {
	var sum uint64
	for _, m := range a.Sub {
		sum += m.Distance(r)
	}
	return sum
}

func (a *And) Describe() string {
	parts := make([]string, len(a.Sub))
	for i, m := range a.Sub {
		parts[i] = m.Describe()
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// Not negates a matcher. Distance on a negated matcher charges 1 when the
// wrapped matcher unexpectedly matches (there is no graded "distance from
// not matching", so negation collapses to a fixed penalty).
type Not struct{ Sub Matcher }

func NewNot(sub Matcher) Matcher { return &Not{Sub: sub} }

func (n *Not) Matches(r *Request) bool { return !n.Sub.Matches(r) }
func (n *Not) Distance(r *Request) uint64 {
	if n.Matches(r) {
		return 0
	}
	return 1
}
func (n *Not) Describe() string { return "NOT " + n.Sub.Describe() }

// unescapeQuery is a small helper retained for callers that need to compare
// raw query text against a decoded expectation.
func unescapeQuery(s string) string {
	v, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return v
}
