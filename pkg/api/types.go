package api

import (
	"time"

	"github.com/httpmockd/httpmockd/pkg/matching"
	"github.com/httpmockd/httpmockd/pkg/mock"
)

// ErrorResponse is the uniform error body for every non-2xx response,
// grounded on the teacher's pkg/engine/api ErrorResponse.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MockResponse is the wire representation of a compiled mock, returned by
// create/get/list.
type MockResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name,omitempty"`
	Hits      int64  `json:"hits"`
	Limit     int    `json:"limit,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func mockToResponse(d *mock.MockDefinition) MockResponse {
	return MockResponse{
		ID:        d.ID,
		Name:      d.Name,
		Hits:      d.Hits(),
		Limit:     d.Limit,
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// MockListResponse wraps ListMocks.
type MockListResponse struct {
	Mocks []MockResponse `json:"mocks"`
	Count int            `json:"count"`
}

// RuleResponse is the wire representation of a forwarding or proxy rule.
type RuleResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name,omitempty"`
	Target    string `json:"target,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func forwardingRuleToResponse(r *mock.ForwardingRule) RuleResponse {
	return RuleResponse{ID: r.ID, Name: r.Name, Target: r.Target, CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339)}
}

func proxyRuleToResponse(r *mock.ProxyRule) RuleResponse {
	return RuleResponse{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339)}
}

// RuleListResponse wraps ListForwardingRules/ListProxyRules.
type RuleListResponse struct {
	Rules []RuleResponse `json:"rules"`
	Count int            `json:"count"`
}

// RecordingResponse is the wire representation of a recording's metadata
// (not its entries — those are only returned by the export endpoint).
type RecordingResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	EntryCount int    `json:"entryCount"`
	CreatedAt  string `json:"createdAt"`
}

// BeginRecordingRequest is the POST /recordings body.
type BeginRecordingRequest struct {
	Name   string        `json:"name,omitempty"`
	Filter mock.WhenSpec `json:"filter"`
}

// ImportRecordingRequest is the POST /recordings/import body: a full
// `---`-separated YAML document, decoded server-side.
type ImportRecordingRequest struct {
	Document string `json:"document"`
}

// ImportRecordingResponse reports how many mocks playback installed.
type ImportRecordingResponse struct {
	Installed int `json:"installed"`
}

// VerifyRequest is the POST /verify body: a concrete candidate request to
// score against every registered mock, per spec.md §4.3/§8 property 8
// ("verify(R) returns a ClosestMatch whose matcher-breakdown sums to the
// minimum distance across all mocks").
type VerifyRequest struct {
	Method  string            `json:"method"`
	Scheme  string            `json:"scheme,omitempty"`
	Host    string            `json:"host,omitempty"`
	Port    string            `json:"port,omitempty"`
	Path    string            `json:"path"`
	Query   map[string]string `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// toMatchingRequest builds the normalized request the matching engine
// evaluates distance against.
func (v VerifyRequest) toMatchingRequest() *matching.Request {
	headers := matching.NewHeader()
	for k, val := range v.Headers {
		headers.Add(k, val)
	}
	var query, cookies []matching.KV
	for k, val := range v.Query {
		query = append(query, matching.KV{Key: k, Value: val})
	}
	for k, val := range v.Cookies {
		cookies = append(cookies, matching.KV{Key: k, Value: val})
	}
	return &matching.Request{
		Method:  v.Method,
		Scheme:  v.Scheme,
		Host:    v.Host,
		Port:    v.Port,
		Path:    v.Path,
		Query:   query,
		Headers: headers,
		Cookies: cookies,
		Body:    []byte(v.Body),
	}
}

// VerifyResponse reports spec.md §4.3's closest-match diagnostic.
type VerifyResponse struct {
	Matched        bool                 `json:"matched"`
	MockID         int64                `json:"mockId,omitempty"`
	TotalDistance  uint64               `json:"totalDistance"`
	UnmatchedCount int                  `json:"unmatchedCount"`
	Breakdown      []MatcherDistanceDTO `json:"breakdown"`
}

// MatcherDistanceDTO is one line of a verify breakdown.
type MatcherDistanceDTO struct {
	Description string `json:"description"`
	Distance    uint64 `json:"distance"`
	Matched     bool   `json:"matched"`
}

func closestMatchToResponse(cm matching.ClosestMatch, found bool) VerifyResponse {
	if !found {
		return VerifyResponse{Matched: false}
	}
	breakdown := make([]MatcherDistanceDTO, len(cm.Breakdown))
	for i, b := range cm.Breakdown {
		breakdown[i] = MatcherDistanceDTO{Description: b.Description, Distance: b.Distance, Matched: b.Matched}
	}
	return VerifyResponse{
		Matched:        cm.TotalDistance == 0 && cm.UnmatchedCount == 0,
		MockID:         cm.Candidate.CandidateID(),
		TotalDistance:  cm.TotalDistance,
		UnmatchedCount: cm.UnmatchedCount,
		Breakdown:      breakdown,
	}
}

// HistoryEntryResponse is one entry of GET /history.
type HistoryEntryResponse struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	Method         string `json:"method"`
	Scheme         string `json:"scheme"`
	Host           string `json:"host"`
	Path           string `json:"path"`
	QueryString    string `json:"queryString,omitempty"`
	Outcome        string `json:"outcome"`
	MatchedMockID  int64  `json:"matchedMockId,omitempty"`
	ResponseStatus int    `json:"responseStatus"`
	DurationMs     int64  `json:"durationMs"`
	Error          string `json:"error,omitempty"`
}

// HistoryListResponse wraps GET /history.
type HistoryListResponse struct {
	Entries []HistoryEntryResponse `json:"entries"`
	Count   int                    `json:"count"`
}
