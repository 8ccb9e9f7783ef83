package api

import (
	"net/http"
	"time"

	"github.com/httpmockd/httpmockd/pkg/requestlog"
)

func (s *Server) handleListHistory(w http.ResponseWriter, _ *http.Request) {
	entries := s.mgr.History()
	resp := HistoryListResponse{Entries: make([]HistoryEntryResponse, len(entries)), Count: len(entries)}
	for i, e := range entries {
		resp.Entries[i] = historyEntryToResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func historyEntryToResponse(e requestlog.Entry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:             e.ID,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339),
		Method:         e.Method,
		Scheme:         e.Scheme,
		Host:           e.Host,
		Path:           e.Path,
		QueryString:    e.QueryString,
		Outcome:        e.Outcome,
		MatchedMockID:  e.MatchedMockID,
		ResponseStatus: e.ResponseStatus,
		DurationMs:     e.DurationMs,
		Error:          e.Error,
	}
}
