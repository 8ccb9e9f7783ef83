package api

import (
	"net/http"
	"time"

	"github.com/httpmockd/httpmockd/pkg/httputil"
	"github.com/httpmockd/httpmockd/pkg/recording"
)

func (s *Server) handleListRecordings(w http.ResponseWriter, _ *http.Request) {
	recs := s.mgr.ListRecordings()
	out := make([]RecordingResponse, len(recs))
	for i, rec := range recs {
		out[i] = RecordingResponse{
			ID:         rec.ID,
			Name:       rec.Name,
			EntryCount: len(rec.Entries),
			CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBeginRecording(w http.ResponseWriter, r *http.Request) {
	var req BeginRecordingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	rec, err := s.mgr.BeginRecording(req.Name, req.Filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RecordingResponse{
		ID: rec.ID, Name: rec.Name, EntryCount: 0, CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "recording id must be an integer")
		return
	}
	if err := s.mgr.DeleteRecording(id); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// handleExportRecording renders a recording's captured entries as the
// `---`-separated YAML document format of spec.md §4.7.
func (s *Server) handleExportRecording(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "recording id must be an integer")
		return
	}
	rec, err := s.mgr.FetchRecording(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	doc, err := recording.Encode(rec.Entries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleImportRecording decodes a YAML document and installs it as
// exact-match mocks in original sequence order (spec.md §4.7 playback).
func (s *Server) handleImportRecording(w http.ResponseWriter, r *http.Request) {
	var req ImportRecordingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	entries, err := recording.Decode([]byte(req.Document))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_recording", err.Error())
		return
	}
	installed, err := s.mgr.ImportRecordingAsMocks(entries)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportRecordingResponse{Installed: len(installed)})
}
