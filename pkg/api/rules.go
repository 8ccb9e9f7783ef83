package api

import (
	"net/http"

	"github.com/httpmockd/httpmockd/pkg/httputil"
	"github.com/httpmockd/httpmockd/pkg/mock"
)

func (s *Server) handleListForwardingRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.mgr.ListForwardingRules()
	resp := RuleListResponse{Rules: make([]RuleResponse, len(rules)), Count: len(rules)}
	for i, r := range rules {
		resp.Rules[i] = forwardingRuleToResponse(r)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateForwardingRule(w http.ResponseWriter, r *http.Request) {
	var spec mock.RuleSpec
	if err := decodeJSONBody(w, r, &spec); err != nil {
		writeDecodeError(w, err)
		return
	}
	rule, err := s.mgr.CreateForwardingRule(spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, forwardingRuleToResponse(rule))
}

func (s *Server) handleDeleteForwardingRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "rule id must be an integer")
		return
	}
	if err := s.mgr.DeleteForwardingRule(id); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleListProxyRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.mgr.ListProxyRules()
	resp := RuleListResponse{Rules: make([]RuleResponse, len(rules)), Count: len(rules)}
	for i, r := range rules {
		resp.Rules[i] = proxyRuleToResponse(r)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateProxyRule(w http.ResponseWriter, r *http.Request) {
	var spec mock.RuleSpec
	if err := decodeJSONBody(w, r, &spec); err != nil {
		writeDecodeError(w, err)
		return
	}
	rule, err := s.mgr.CreateProxyRule(spec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proxyRuleToResponse(rule))
}

func (s *Server) handleDeleteProxyRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "rule id must be an integer")
		return
	}
	if err := s.mgr.DeleteProxyRule(id); err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
