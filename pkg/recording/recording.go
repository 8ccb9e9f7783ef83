// Package recording implements the capture/playback subsystem of spec.md
// §4.7: a Recording accumulates RecordedEntry values as traffic matching its
// filter completes dispatch (whatever the outcome), and can be serialized to
// and reloaded from the `---`-separated YAML document format.
package recording

import (
	"time"

	"github.com/httpmockd/httpmockd/pkg/matching"
	"github.com/httpmockd/httpmockd/pkg/mock"
)

// Recording is a named, filtered capture session. It implements
// matching.Candidate so its filter uses the same matchers as forwarding/proxy
// rule filters; the dispatch pipeline captures into every recording whose
// matchers all accept the request (pkg/dispatch/record.go).
type Recording struct {
	ID        int64
	Name      string
	Matchers_ []matching.Matcher
	CreatedAt time.Time
	Entries   []RecordedEntry

	sequence int64
}

func (r *Recording) Matchers() []matching.Matcher { return r.Matchers_ }
func (r *Recording) CandidateID() int64           { return r.ID }
func (r *Recording) Sequence() int64              { return r.sequence }
func (r *Recording) SetSequence(seq int64)        { r.sequence = seq }
func (r *Recording) Active() bool                 { return true }

// RecordedEntry is one captured request/response exchange, spec.md §3
// "RecordedEntry: when (the normalized request at capture time), then (the
// response as observed), captured_at."
type RecordedEntry struct {
	CapturedAt time.Time

	Method  string
	Scheme  string
	Host    string
	Port    string
	Path    string
	Query   []matching.KV
	Headers []matching.KV // flattened, order preserved; multi-valued headers repeat the key
	Body    []byte

	ResponseStatus  int
	ResponseHeaders []matching.KV
	ResponseBody    []byte
}

// EntryToMockSpec builds an exact-match MockSpec that reproduces a recorded
// exchange on playback, per spec.md §4.7 "playback reconstructs exact-match
// MockDefinitions in original sequence order."
func EntryToMockSpec(e RecordedEntry) mock.MockSpec {
	when := mock.WhenSpec{
		Method: e.Method,
		Path:   e.Path,
	}
	if e.Scheme != "" {
		when.Scheme = e.Scheme
	}
	if e.Host != "" {
		when.Host = e.Host
	}
	if len(e.Body) > 0 {
		when.BodyExact = string(e.Body)
	}
	if q := kvToExactMap(e.Query); len(q) > 0 {
		when.QueryExact = q
	}
	if h := kvToExactMap(e.Headers); len(h) > 0 {
		when.HeaderExact = h
	}

	headers := make([]mock.KVSpec, len(e.ResponseHeaders))
	for i, kv := range e.ResponseHeaders {
		headers[i] = mock.KVSpec{Name: kv.Key, Value: kv.Value}
	}

	return mock.MockSpec{
		When: when,
		Then: mock.ThenSpec{
			Status:  e.ResponseStatus,
			Headers: headers,
			Body:    string(e.ResponseBody),
		},
	}
}

// kvToExactMap collapses a flattened KV slice into a single-valued exact-
// match map (last value wins for a repeated key). WhenSpec's HeaderExact and
// QueryExact are single-valued per spec.md §3, so a multi-valued captured
// header or query key can only be reproduced approximately on replay.
func kvToExactMap(kvs []matching.KV) map[string]string {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}
