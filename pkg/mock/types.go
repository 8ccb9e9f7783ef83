// Package mock holds the core data model — MockDefinition, ForwardingRule,
// ProxyRule, and their shared response template — plus the rule compiler
// that turns a user-facing when/then spec into matchers from pkg/matching.
package mock

import (
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/httpmockd/httpmockd/pkg/matching"
)

// Response is the template a matched mock (or forwarding/playback entry)
// evaluates to produce an outbound HTTP response.
type Response struct {
	Status  int
	Headers []matching.KV // ordered, transmitted without normalization
	Body    []byte

	// ClosureSource, when non-empty, is the source of an expr program
	// compiled at rule-compile time (see compileClosureResponse) that is
	// invoked with a read-only request view and returns either a bare body
	// string or a map with optional status, headers, and body (see
	// closure_response.go) — spec.md §3 "body (bytes | dynamic closure)".
	ClosureSource  string
	closureProgram *vm.Program

	DelayMs int
}

// MockDefinition is a compiled, ready-to-match mock rule.
type MockDefinition struct {
	ID        int64
	Name      string
	Matchers_ []matching.Matcher
	Response  *Response
	Limit     int // 0 = unlimited
	CreatedAt time.Time

	sequence int64
	hits     int64 // read and updated only through sync/atomic (see TryReserveHit)
}

// Matchers implements matching.Candidate.
func (m *MockDefinition) Matchers() []matching.Matcher { return m.Matchers_ }

// CandidateID implements matching.Candidate.
func (m *MockDefinition) CandidateID() int64 { return m.ID }

// Sequence implements matching.Candidate.
func (m *MockDefinition) Sequence() int64 { return m.sequence }

// SetSequence is called once by the state manager at insertion time.
func (m *MockDefinition) SetSequence(seq int64) { m.sequence = seq }

// Active implements matching.Candidate: a mock with hits >= limit is
// invisible to the matcher but remains fetchable/deletable (spec.md §3
// invariants).
func (m *MockDefinition) Active() bool {
	if m.Limit <= 0 {
		return true
	}
	return atomic.LoadInt64(&m.hits) < int64(m.Limit)
}

// Hits returns the current hit count.
func (m *MockDefinition) Hits() int64 { return atomic.LoadInt64(&m.hits) }

// TryReserveHit atomically reserves one hit against Limit and reports
// whether the reservation succeeded. Selection (Active) and reservation must
// be tied together with a CAS loop, not a separate check-then-increment —
// otherwise N concurrent requests racing a limit=1 mock can all observe
// Active()==true before any of them increments, over-serving the limit
// (spec.md §8 Property 4). A caller that loses the race must treat the mock
// as ineligible and fall through to the next candidate.
func (m *MockDefinition) TryReserveHit() bool {
	if m.Limit <= 0 {
		atomic.AddInt64(&m.hits, 1)
		return true
	}
	for {
		cur := atomic.LoadInt64(&m.hits)
		if cur >= int64(m.Limit) {
			return false
		}
		if atomic.CompareAndSwapInt64(&m.hits, cur, cur+1) {
			return true
		}
	}
}

// Filterable is the shared shape of anything whose selection is governed by
// a when-matcher set identical to a mock's (forwarding rules, proxy rules,
// recording filters) — spec.md §3: "A rule's filter semantics are exactly
// those of a mock's when."
type Filterable struct {
	ID        int64
	Name      string
	Matchers_ []matching.Matcher
	CreatedAt time.Time
	sequence  int64
}

func (f *Filterable) Matchers() []matching.Matcher { return f.Matchers_ }
func (f *Filterable) CandidateID() int64           { return f.ID }
func (f *Filterable) Sequence() int64              { return f.sequence }
func (f *Filterable) SetSequence(seq int64)        { f.sequence = seq }
func (f *Filterable) Active() bool                 { return true }

// ForwardingRule rewrites the target and forwards matching requests to a
// fixed upstream origin.
type ForwardingRule struct {
	Filterable
	Target          string // absolute origin URL
	InjectedHeaders []matching.KV
	TLSSkipVerify   bool
}

// ProxyRule makes the server act as a forward proxy for matching requests.
type ProxyRule struct {
	Filterable
	InterceptTLS  bool
	TLSSkipVerify bool
}
