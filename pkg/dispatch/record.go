package dispatch

import (
	"time"

	"github.com/httpmockd/httpmockd/pkg/matching"
	"github.com/httpmockd/httpmockd/pkg/recording"
	"github.com/httpmockd/httpmockd/pkg/state"
)

// captureRecordings appends one RecordedEntry per recording whose filter
// matches req, independent of the dispatch outcome (spec.md §4.5: RECORDED?
// is evaluated after RESPOND, FORWARD, PROXY, or NOT_FOUND alike, "every
// recording whose filter matches" rather than first-match, since recordings
// are observers, not a selection step).
func captureRecordings(mgr *state.Manager, req *matching.Request, status int, respHeaders []matching.KV, respBody []byte) {
	candidates := mgr.RecordingCandidates()
	if len(candidates) == 0 {
		return
	}

	entry := recording.RecordedEntry{
		CapturedAt:      time.Now(),
		Method:          req.Method,
		Scheme:          req.Scheme,
		Host:            req.Host,
		Port:            req.Port,
		Path:            req.Path,
		Query:           req.Query,
		Headers:         flattenHeaders(req.Headers),
		Body:            req.Body,
		ResponseStatus:  status,
		ResponseHeaders: respHeaders,
		ResponseBody:    respBody,
	}

	for _, c := range candidates {
		if !matchesAll(c.Matchers(), req) {
			continue
		}
		_ = mgr.AppendRecordedEntry(c.CandidateID(), entry)
	}
}

func matchesAll(matchers []matching.Matcher, r *matching.Request) bool {
	for _, m := range matchers {
		if !m.Matches(r) {
			return false
		}
	}
	return true
}

func flattenHeaders(h *matching.Header) []matching.KV {
	if h == nil {
		return nil
	}
	var out []matching.KV
	for _, k := range h.Keys() {
		for _, v := range h.Values(k) {
			out = append(out, matching.KV{Key: k, Value: v})
		}
	}
	return out
}
