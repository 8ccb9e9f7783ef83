// Package state implements the State Manager of spec.md §4.3: the single
// owner of mock, forwarding-rule, proxy-rule, and recording registries, plus
// the request history. Registry mutation happens under one RWMutex; mock hit
// counts are updated atomically on each MockDefinition and the history has
// its own lock. IDs and insertion sequence numbers are assigned here so every other component
// treats them as opaque identity/ordering, never reconstructing them.
package state

import (
	"sync"
	"time"

	"github.com/httpmockd/httpmockd/pkg/errs"
	"github.com/httpmockd/httpmockd/pkg/matching"
	"github.com/httpmockd/httpmockd/pkg/mock"
	"github.com/httpmockd/httpmockd/pkg/recording"
	"github.com/httpmockd/httpmockd/pkg/requestlog"
)

// Manager owns every piece of mutable server state. Reads that only need a
// consistent snapshot (matching, verify, listing) take the read lock;
// registry writes (create/delete/reset) take the write lock. Hit increments
// (MockDefinition.TryReserveHit) and history appends (requestlog.Store) do
// not take this lock.
type Manager struct {
	mu sync.RWMutex

	mocks           []*mock.MockDefinition
	forwardingRules []*mock.ForwardingRule
	proxyRules      []*mock.ProxyRule
	recordings      []*recording.Recording

	mockSeq      int64
	forwardSeq   int64
	proxySeq     int64
	recordingSeq int64

	mockID      int64
	forwardID   int64
	proxyID     int64
	recordingID int64

	history *requestlog.Store
}

// NewManager builds an empty Manager. historyLimit is the bound on request
// history entries (spec.md §6 HTTPMOCK_REQUEST_HISTORY_LIMIT, default 100).
func NewManager(historyLimit int) *Manager {
	return &Manager{history: requestlog.NewStore(historyLimit)}
}

// ---- mocks ----

// CreateMock compiles and registers a mock, assigning it the next ID and
// sequence number in the "mock" category.
func (m *Manager) CreateMock(spec mock.MockSpec) (*mock.MockDefinition, error) {
	def, err := mock.Compile(spec)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mockID++
	def.ID = m.mockID
	m.mockSeq++
	def.SetSequence(m.mockSeq)
	m.mocks = append(m.mocks, def)
	return def, nil
}

// FetchMock returns the mock with the given ID.
func (m *Manager) FetchMock(id int64) (*mock.MockDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.mocks {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, &errs.MockNotFoundError{Category: "mock", ID: id}
}

// ListMocks returns a snapshot of every mock, in insertion order.
func (m *Manager) ListMocks() []*mock.MockDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*mock.MockDefinition, len(m.mocks))
	copy(out, m.mocks)
	return out
}

// DeleteMock removes the mock with the given ID.
func (m *Manager) DeleteMock(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.mocks {
		if d.ID == id {
			m.mocks = append(m.mocks[:i], m.mocks[i+1:]...)
			return nil
		}
	}
	return &errs.MockNotFoundError{Category: "mock", ID: id}
}

// DeleteAllMocks clears the mock registry.
func (m *Manager) DeleteAllMocks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mocks = nil
}

// ---- forwarding rules ----

func (m *Manager) CreateForwardingRule(spec mock.RuleSpec) (*mock.ForwardingRule, error) {
	rule, err := mock.CompileForwardingRule(spec)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwardID++
	rule.ID = m.forwardID
	m.forwardSeq++
	rule.SetSequence(m.forwardSeq)
	m.forwardingRules = append(m.forwardingRules, rule)
	return rule, nil
}

func (m *Manager) ListForwardingRules() []*mock.ForwardingRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*mock.ForwardingRule, len(m.forwardingRules))
	copy(out, m.forwardingRules)
	return out
}

func (m *Manager) DeleteForwardingRule(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.forwardingRules {
		if r.ID == id {
			m.forwardingRules = append(m.forwardingRules[:i], m.forwardingRules[i+1:]...)
			return nil
		}
	}
	return &errs.MockNotFoundError{Category: "forwarding_rule", ID: id}
}

// ---- proxy rules ----

func (m *Manager) CreateProxyRule(spec mock.RuleSpec) (*mock.ProxyRule, error) {
	rule, err := mock.CompileProxyRule(spec)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxyID++
	rule.ID = m.proxyID
	m.proxySeq++
	rule.SetSequence(m.proxySeq)
	m.proxyRules = append(m.proxyRules, rule)
	return rule, nil
}

func (m *Manager) ListProxyRules() []*mock.ProxyRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*mock.ProxyRule, len(m.proxyRules))
	copy(out, m.proxyRules)
	return out
}

func (m *Manager) DeleteProxyRule(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.proxyRules {
		if r.ID == id {
			m.proxyRules = append(m.proxyRules[:i], m.proxyRules[i+1:]...)
			return nil
		}
	}
	return &errs.MockNotFoundError{Category: "proxy_rule", ID: id}
}

// ---- recordings ----

// BeginRecording registers a new, empty Recording eligible to capture
// traffic matching filter.
func (m *Manager) BeginRecording(name string, filter mock.WhenSpec) (*recording.Recording, error) {
	matchers, err := mock.CompileFilter(filter)
	if err != nil {
		return nil, err
	}
	rec := &recording.Recording{Name: name, Matchers_: matchers, CreatedAt: time.Now()}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordingID++
	rec.ID = m.recordingID
	m.recordingSeq++
	rec.SetSequence(m.recordingSeq)
	m.recordings = append(m.recordings, rec)
	return rec, nil
}

func (m *Manager) ListRecordings() []*recording.Recording {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*recording.Recording, len(m.recordings))
	copy(out, m.recordings)
	return out
}

func (m *Manager) FetchRecording(id int64) (*recording.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.recordings {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, &errs.MockNotFoundError{Category: "recording", ID: id}
}

func (m *Manager) DeleteRecording(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.recordings {
		if r.ID == id {
			m.recordings = append(m.recordings[:i], m.recordings[i+1:]...)
			return nil
		}
	}
	return &errs.MockNotFoundError{Category: "recording", ID: id}
}

// AppendRecordedEntry appends a captured exchange to rec, under lock so
// concurrent captures on the same recording serialize.
func (m *Manager) AppendRecordedEntry(recID int64, entry recording.RecordedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recordings {
		if r.ID == recID {
			r.Entries = append(r.Entries, entry)
			return nil
		}
	}
	return &errs.MockNotFoundError{Category: "recording", ID: recID}
}

// ImportRecordingAsMocks compiles every entry of a loaded recording document
// into mocks, installed in the document's original order (spec.md §4.7
// "playback reconstructs exact-match MockDefinitions in original sequence
// order").
func (m *Manager) ImportRecordingAsMocks(entries []recording.RecordedEntry) ([]*mock.MockDefinition, error) {
	installed := make([]*mock.MockDefinition, 0, len(entries))
	for _, e := range entries {
		def, err := m.CreateMock(recording.EntryToMockSpec(e))
		if err != nil {
			return installed, err
		}
		installed = append(installed, def)
	}
	return installed, nil
}

// ---- matching accessors ----

// ForwardingCandidates returns the current forwarding rules as
// matching.Candidate values, in a form safe to hand to matching.SelectForward
// without holding the Manager's lock.
func (m *Manager) ForwardingCandidates() []matching.Candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]matching.Candidate, len(m.forwardingRules))
	for i, r := range m.forwardingRules {
		out[i] = r
	}
	return out
}

// ProxyCandidates returns the current proxy rules as matching.Candidate values.
func (m *Manager) ProxyCandidates() []matching.Candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]matching.Candidate, len(m.proxyRules))
	for i, r := range m.proxyRules {
		out[i] = r
	}
	return out
}

// MockCandidates returns the current mocks as matching.Candidate values.
func (m *Manager) MockCandidates() []matching.Candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]matching.Candidate, len(m.mocks))
	for i, d := range m.mocks {
		out[i] = d
	}
	return out
}

// RecordingCandidates returns the current recordings' filters as
// matching.Candidate values, used for capture eligibility (spec.md §4.4
// step 4).
func (m *Manager) RecordingCandidates() []matching.Candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]matching.Candidate, len(m.recordings))
	for i, r := range m.recordings {
		out[i] = r
	}
	return out
}

// ReserveMockHit atomically reserves one hit against d's limit, reporting
// whether the reservation succeeded. Safe to call without the Manager's
// write lock: the counter lives on the MockDefinition itself.
func (m *Manager) ReserveMockHit(d *mock.MockDefinition) bool {
	return d.TryReserveHit()
}

// ---- verify / history / reset ----

// Verify implements spec.md §8 "closest match" diagnostic: scored across all
// registered mocks regardless of hit-limit exhaustion, since verify is meant
// to explain why a request was NOT_FOUND even against an exhausted mock.
func (m *Manager) Verify(r *matching.Request) (matching.ClosestMatch, bool) {
	return matching.Closest(m.MockCandidates(), r)
}

// AppendHistory records one completed dispatch.
func (m *Manager) AppendHistory(e requestlog.Entry) {
	m.history.Append(e)
}

// History returns a snapshot of the request history, oldest first.
func (m *Manager) History() []requestlog.Entry {
	return m.history.List()
}

// Reset clears every registry and the request history, per spec.md §4.8
// POST /reset. It does not reset the ID/sequence counters: IDs remain
// unique and monotonically increasing for the lifetime of the process
// (spec.md §3 invariants).
func (m *Manager) Reset() {
	m.mu.Lock()
	m.mocks = nil
	m.forwardingRules = nil
	m.proxyRules = nil
	m.recordings = nil
	m.mu.Unlock()
	m.history.Clear()
}
