package mock

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/httpmockd/httpmockd/pkg/errs"
	"github.com/httpmockd/httpmockd/pkg/matching"
)

// Compile turns a MockSpec into a ready-to-match MockDefinition. It is the
// rule compiler of spec.md §4.2: regexes, JSON-paths, and JSON literals are
// parsed eagerly here so a bad pattern fails at creation time, never during
// matching.
func Compile(spec MockSpec) (*MockDefinition, error) {
	matchers, err := compileWhen(spec.When)
	if err != nil {
		return nil, err
	}

	resp, err := compileThen(spec.Then)
	if err != nil {
		return nil, err
	}

	if spec.Limit < 0 {
		return nil, &errs.InvalidDefinitionError{Reason: "limit must not be negative"}
	}

	return &MockDefinition{
		Name:      spec.Name,
		Matchers_: matchers,
		Response:  resp,
		Limit:     spec.Limit,
		CreatedAt: time.Now(),
	}, nil
}

// CompileFilter compiles a WhenSpec alone, for forwarding rules, proxy rules,
// and recording filters — spec.md §3: "A rule's filter semantics are exactly
// those of a mock's when."
func CompileFilter(when WhenSpec) ([]matching.Matcher, error) {
	return compileWhen(when)
}

// CompileForwardingRule compiles a RuleSpec into a ForwardingRule.
func CompileForwardingRule(spec RuleSpec) (*ForwardingRule, error) {
	matchers, err := CompileFilter(spec.Filter)
	if err != nil {
		return nil, err
	}
	if spec.Target == "" {
		return nil, &errs.InvalidDefinitionError{Reason: "forwarding rule requires a target"}
	}
	return &ForwardingRule{
		Filterable:      Filterable{Name: spec.Name, Matchers_: matchers, CreatedAt: time.Now()},
		Target:          spec.Target,
		InjectedHeaders: kvSpecsToKV(spec.InjectHeaders),
		TLSSkipVerify:   spec.TLSSkipVerify,
	}, nil
}

// CompileProxyRule compiles a RuleSpec into a ProxyRule.
func CompileProxyRule(spec RuleSpec) (*ProxyRule, error) {
	matchers, err := CompileFilter(spec.Filter)
	if err != nil {
		return nil, err
	}
	return &ProxyRule{
		Filterable:    Filterable{Name: spec.Name, Matchers_: matchers, CreatedAt: time.Now()},
		InterceptTLS:  spec.InterceptTLS,
		TLSSkipVerify: spec.TLSSkipVerify,
	}, nil
}

func compileWhen(when WhenSpec) ([]matching.Matcher, error) {
	var out []matching.Matcher

	add := func(m matching.Matcher, err error) error {
		if err != nil {
			return err
		}
		out = append(out, m)
		return nil
	}

	if when.Method != "" {
		if err := add(matching.NewStringMatcher("method", matching.OpExact, when.Method, matching.FieldMethod)); err != nil {
			return nil, invalidf("method: %v", err)
		}
	}
	if when.MethodRegex != "" {
		if err := add(matching.NewStringMatcher("method", matching.OpRegex, when.MethodRegex, matching.FieldMethod)); err != nil {
			return nil, invalidf("methodRegex: %v", err)
		}
	}

	pathOps := []struct {
		val string
		op  matching.StringOp
	}{
		{when.Path, matching.OpExact},
		{when.PathPrefix, matching.OpPrefix},
		{when.PathSuffix, matching.OpSuffix},
		{when.PathContains, matching.OpContains},
		{when.PathRegex, matching.OpRegex},
		{when.PathGlob, matching.OpGlob},
	}
	for _, po := range pathOps {
		if po.val == "" {
			continue
		}
		if err := add(matching.NewStringMatcher("path", po.op, po.val, matching.FieldPath)); err != nil {
			return nil, invalidf("path: %v", err)
		}
	}

	if when.Scheme != "" {
		if err := add(matching.NewStringMatcher("scheme", matching.OpExact, when.Scheme, matching.FieldScheme)); err != nil {
			return nil, invalidf("scheme: %v", err)
		}
	}
	if when.Host != "" {
		if err := add(matching.NewStringMatcher("host", matching.OpExact, when.Host, matching.FieldHost)); err != nil {
			return nil, invalidf("host: %v", err)
		}
	}
	if when.Port != "" {
		if err := add(matching.NewStringMatcher("port", matching.OpExact, when.Port, matching.FieldPort)); err != nil {
			return nil, invalidf("port: %v", err)
		}
	}

	for _, name := range when.HeaderPresence {
		if err := rejectCRLF("header", name); err != nil {
			return nil, err
		}
		out = append(out, matching.NewHeaderPresenceMatcher(name))
	}
	for _, name := range when.HeaderMissing {
		if err := rejectCRLF("header", name); err != nil {
			return nil, err
		}
		out = append(out, matching.NewHeaderMissingMatcher(name))
	}
	for name, value := range when.HeaderExact {
		if err := rejectCRLF("header", name); err != nil {
			return nil, err
		}
		out = append(out, matching.NewHeaderExactMatcher(name, value))
	}
	for name, pattern := range when.HeaderRegex {
		if err := rejectCRLF("header", name); err != nil {
			return nil, err
		}
		if err := add(matching.NewHeaderRegexMatcher(name, pattern)); err != nil {
			return nil, invalidf("headerRegex[%s]: %v", name, err)
		}
	}
	for name, count := range when.HeaderCount {
		if err := rejectCRLF("header", name); err != nil {
			return nil, err
		}
		out = append(out, matching.NewHeaderCountMatcher(name, count))
	}
	if len(when.HeaderExactSet) > 0 {
		for name := range when.HeaderExactSet {
			if err := rejectCRLF("header", name); err != nil {
				return nil, err
			}
		}
		out = append(out, matching.NewHeaderExactSetMatcher(when.HeaderExactSet))
	}

	for _, key := range when.QueryPresence {
		if err := rejectCRLF("query", key); err != nil {
			return nil, err
		}
		out = append(out, matching.NewQueryPresenceMatcher(key))
	}
	for _, key := range when.QueryMissing {
		if err := rejectCRLF("query", key); err != nil {
			return nil, err
		}
		out = append(out, matching.NewQueryMissingMatcher(key))
	}
	for key, value := range when.QueryExact {
		if err := rejectCRLF("query", key); err != nil {
			return nil, err
		}
		out = append(out, matching.NewQueryExactMatcher(key, value))
	}
	for key, count := range when.QueryCount {
		if err := rejectCRLF("query", key); err != nil {
			return nil, err
		}
		out = append(out, matching.NewQueryCountMatcher(key, count))
	}

	for _, name := range when.CookiePresence {
		if err := rejectCRLF("cookie", name); err != nil {
			return nil, err
		}
		out = append(out, matching.NewCookiePresenceMatcher(name))
	}
	for name, value := range when.CookieExact {
		if err := rejectCRLF("cookie", name); err != nil {
			return nil, err
		}
		out = append(out, matching.NewCookieExactMatcher(name, value))
	}

	if when.BodyExact != "" {
		out = append(out, matching.NewBodyExactMatcher([]byte(when.BodyExact)))
	}
	if when.BodyContains != "" {
		out = append(out, matching.NewBodyContainsMatcher([]byte(when.BodyContains)))
	}
	if when.BodyRegex != "" {
		if err := add(matching.NewBodyRegexMatcher(when.BodyRegex)); err != nil {
			return nil, invalidf("bodyRegex: %v", err)
		}
	}
	if len(when.BodyFormSubset) > 0 {
		out = append(out, matching.NewBodyFormSubsetMatcher(when.BodyFormSubset))
	}
	if when.BodyJSONSubset != nil {
		out = append(out, matching.NewBodyJSONSubsetMatcher(when.BodyJSONSubset))
	}
	for _, jp := range when.BodyJSONPath {
		if err := add(matching.NewBodyJSONPathMatcher(jp.Path, jp.Equals)); err != nil {
			return nil, invalidf("bodyJsonPath[%s]: %v", jp.Path, err)
		}
	}

	if when.IsTrue != "" {
		if err := add(matching.NewIsTrueMatcher(when.IsTrue)); err != nil {
			return nil, invalidf("isTrue: %v", err)
		}
	}
	if when.IsFalse != "" {
		if err := add(matching.NewIsFalseMatcher(when.IsFalse)); err != nil {
			return nil, invalidf("isFalse: %v", err)
		}
	}

	if when.Not != nil {
		sub, err := compileWhen(*when.Not)
		if err != nil {
			return nil, err
		}
		out = append(out, matching.NewNot(matching.NewAnd(sub...)))
	}
	for _, all := range when.All {
		sub, err := compileWhen(all)
		if err != nil {
			return nil, err
		}
		out = append(out, matching.NewAnd(sub...))
	}

	return out, nil
}

func compileThen(then ThenSpec) (*Response, error) {
	if then.Status == 0 && then.BodyClosure == "" {
		return nil, &errs.InvalidDefinitionError{Reason: "then.status is required when no dynamic responder is supplied"}
	}

	if then.BodyClosure != "" {
		resp, err := compileClosureResponse(then.BodyClosure)
		if err != nil {
			return nil, &errs.InvalidDefinitionError{Reason: err.Error()}
		}
		resp.Status = then.Status
		resp.Headers = kvSpecsToKV(then.Headers)
		resp.DelayMs = then.DelayMs
		return resp, nil
	}

	var body []byte
	switch {
	case then.BodyBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(then.BodyBase64)
		if err != nil {
			return nil, &errs.InvalidDefinitionError{Reason: "bodyBase64 is not valid base64: " + err.Error()}
		}
		body = decoded
	case then.Body != "":
		body = []byte(then.Body)
	}

	return &Response{
		Status:  then.Status,
		Headers: kvSpecsToKV(then.Headers),
		Body:    body,
		DelayMs: then.DelayMs,
	}, nil
}

func kvSpecsToKV(in []KVSpec) []matching.KV {
	if len(in) == 0 {
		return nil
	}
	out := make([]matching.KV, len(in))
	for i, kv := range in {
		out[i] = matching.KV{Key: kv.Name, Value: kv.Value}
	}
	return out
}

// rejectCRLF enforces spec.md §4.2: header/cookie/query keys containing CR
// or LF are rejected at compile time (they would otherwise allow header/request
// splitting if ever echoed back into a wire response).
func rejectCRLF(kind, key string) error {
	if strings.ContainsAny(key, "\r\n") {
		return &errs.InvalidDefinitionError{Reason: kind + " key contains CR or LF: " + key}
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return &errs.InvalidDefinitionError{Reason: fmt.Sprintf(format, args...)}
}
