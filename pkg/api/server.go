// Package api implements the management API of spec.md §4.8: a plain
// net/http.ServeMux exposing mock/rule/recording CRUD, verify, and reset
// under the /__httpmock__ prefix. Grounded on the teacher's
// pkg/engine/api (same bind-to-loopback posture, same ServeMux-with-
// pattern-methods routing, same writeJSON/writeError/ErrorResponse
// convention) — trimmed to this server's actual surface, since the
// teacher's admin API additionally covers chaos injection, stateful
// resources, custom operations, and five other wire protocols that have
// no referent here.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/httpmockd/httpmockd/pkg/logging"
	"github.com/httpmockd/httpmockd/pkg/state"
)

const maxRequestBodySize = 1 << 20 // management API bodies are small JSON documents, not proxied traffic

// Server is the management API server: one ServeMux bound to the address
// the serve command chooses (loopback by default, per spec.md §6).
type Server struct {
	mgr        *state.Manager
	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds a Server listening on addr (host:port, already resolved
// by the caller per spec.md §6's bind/expose rules).
func NewServer(mgr *state.Manager, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{mgr: mgr, log: log}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// RegisterOn mounts this server's routes onto an externally owned mux, so
// the mock server and the management API can share a single listener
// (spec.md §6: "reserved path prefix /__httpmock__/...; all other paths
// are subject to dispatch").
func (s *Server) RegisterOn(mux *http.ServeMux) {
	s.registerRoutes(mux)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /__httpmock__/health", s.handleHealth)

	mux.HandleFunc("GET /__httpmock__/mocks", s.handleListMocks)
	mux.HandleFunc("POST /__httpmock__/mocks", s.handleCreateMock)
	mux.HandleFunc("GET /__httpmock__/mocks/{id}", s.handleGetMock)
	mux.HandleFunc("DELETE /__httpmock__/mocks/{id}", s.handleDeleteMock)
	mux.HandleFunc("DELETE /__httpmock__/mocks", s.handleDeleteAllMocks)

	mux.HandleFunc("GET /__httpmock__/forwarding-rules", s.handleListForwardingRules)
	mux.HandleFunc("POST /__httpmock__/forwarding-rules", s.handleCreateForwardingRule)
	mux.HandleFunc("DELETE /__httpmock__/forwarding-rules/{id}", s.handleDeleteForwardingRule)

	mux.HandleFunc("GET /__httpmock__/proxy-rules", s.handleListProxyRules)
	mux.HandleFunc("POST /__httpmock__/proxy-rules", s.handleCreateProxyRule)
	mux.HandleFunc("DELETE /__httpmock__/proxy-rules/{id}", s.handleDeleteProxyRule)

	mux.HandleFunc("GET /__httpmock__/recordings", s.handleListRecordings)
	mux.HandleFunc("POST /__httpmock__/recordings", s.handleBeginRecording)
	mux.HandleFunc("DELETE /__httpmock__/recordings/{id}", s.handleDeleteRecording)
	mux.HandleFunc("GET /__httpmock__/recordings/{id}/export", s.handleExportRecording)
	mux.HandleFunc("POST /__httpmock__/recordings/import", s.handleImportRecording)

	mux.HandleFunc("GET /__httpmock__/history", s.handleListHistory)

	mux.HandleFunc("POST /__httpmock__/verify", s.handleVerify)
	mux.HandleFunc("POST /__httpmock__/reset", s.handleReset)
}

// Start begins serving in the background, returning once the listener is
// bound so callers can read back the actual port (spec.md §6 "port 0 binds
// an ephemeral port").
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("management API listen: %w", err)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("management API server error", "error", err)
		}
	}()
	return ln.Addr(), nil
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
