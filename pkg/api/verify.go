package api

import "net/http"

// handleVerify implements spec.md §4.3/§8's verify operation: score a
// candidate request against every registered mock (regardless of hit-limit
// exhaustion) and return the closest match's breakdown.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Method == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "method and path are required")
		return
	}

	cm, found := s.mgr.Verify(req.toMatchingRequest())
	if found && cm.TotalDistance == 0 && cm.UnmatchedCount == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, closestMatchToResponse(cm, found))
}

// handleReset implements spec.md §4.8 POST /reset: clears every registry and
// the request history, leaving ID/sequence counters untouched.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.mgr.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"message": "reset"})
}
