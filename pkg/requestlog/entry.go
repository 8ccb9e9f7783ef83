// Package requestlog holds the bounded request history spec.md §3 requires:
// a FIFO of the last N dispatched requests, each annotated with the outcome
// of matching and response dispatch.
package requestlog

import "time"

// Entry is one completed request/response pair as recorded for the
// management API's history endpoint.
type Entry struct {
	ID        string
	Timestamp time.Time

	Method      string
	Scheme      string
	Host        string
	Path        string
	QueryString string
	Headers     map[string][]string
	Body        []byte
	BodySize    int
	RemoteAddr  string

	// Outcome describes which matching-order step (spec.md §4.4) produced
	// the response: "respond", "forward", "proxy", or "not_found".
	Outcome       string
	MatchedMockID int64 // 0 when Outcome != "respond"

	ResponseStatus int
	ResponseBody   []byte
	DurationMs     int64

	Error string
}
