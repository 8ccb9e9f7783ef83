package matching

import (
	"bytes"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

func parseJSON(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	return oj.Parse(body)
}

// jsonPathFirst evaluates a JSONPath expression against a parsed JSON value
// and returns the first result, if any.
func jsonPathFirst(expr string, value any) (any, bool) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, false
	}
	results := x.Get(value)
	if len(results) == 0 {
		return nil, false
	}
	return results[0], true
}
