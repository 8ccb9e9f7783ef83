package api

import (
	"net/http"

	"github.com/httpmockd/httpmockd/pkg/httputil"
	"github.com/httpmockd/httpmockd/pkg/mock"
)

func (s *Server) handleListMocks(w http.ResponseWriter, _ *http.Request) {
	mocks := s.mgr.ListMocks()
	resp := MockListResponse{Mocks: make([]MockResponse, len(mocks)), Count: len(mocks)}
	for i, d := range mocks {
		resp.Mocks[i] = mockToResponse(d)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateMock(w http.ResponseWriter, r *http.Request) {
	var spec mock.MockSpec
	if err := decodeJSONBody(w, r, &spec); err != nil {
		writeDecodeError(w, err)
		return
	}
	def, err := s.mgr.CreateMock(spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mockToResponse(def))
}

func (s *Server) handleGetMock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "mock id must be an integer")
		return
	}
	def, err := s.mgr.FetchMock(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mockToResponse(def))
}

func (s *Server) handleDeleteMock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "mock id must be an integer")
		return
	}
	if err := s.mgr.DeleteMock(id); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleDeleteAllMocks(w http.ResponseWriter, _ *http.Request) {
	s.mgr.DeleteAllMocks()
	httputil.WriteNoContent(w)
}
