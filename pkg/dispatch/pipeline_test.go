package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/httpmockd/httpmockd/pkg/errs"
	"github.com/httpmockd/httpmockd/pkg/logging"
	"github.com/httpmockd/httpmockd/pkg/mock"
	"github.com/httpmockd/httpmockd/pkg/state"
	"github.com/httpmockd/httpmockd/pkg/tlsproxy"
)

func newTestPipeline(t *testing.T) (*Pipeline, *state.Manager) {
	t.Helper()
	mgr := state.NewManager(50)
	cfg := DefaultConfig()
	cfg.ClosurePoolSize = 4
	p := NewPipeline(mgr, cfg, logging.Nop(), nil)
	return p, mgr
}

// TestDispatch_RespondMock covers S1 of spec.md §8: a single mock responds
// with its configured status/body, and registers a hit.
func TestDispatch_RespondMock(t *testing.T) {
	p, mgr := newTestPipeline(t)

	def, err := mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Method: "GET", Path: "/hello"},
		Then: mock.ThenSpec{Status: 200, Body: "hi there"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "hi there", rec.Body.String())
	require.Equal(t, "8", rec.Header().Get("Content-Length"))
	require.Equal(t, int64(1), def.Hits())
}

// TestDispatch_ReverseInsertionOrder covers spec.md §4.4 step 3: the most
// recently created mock wins when two mocks both match.
func TestDispatch_ReverseInsertionOrder(t *testing.T) {
	p, mgr := newTestPipeline(t)

	_, err := mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Path: "/x"},
		Then: mock.ThenSpec{Status: 200, Body: "first"},
	})
	require.NoError(t, err)
	_, err = mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Path: "/x"},
		Then: mock.ThenSpec{Status: 200, Body: "second"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, "second", rec.Body.String())
}

// TestDispatch_MockLimitExhaustion covers spec.md §3: a mock with Limit=1
// stops matching after its first hit, falling through to NOT_FOUND.
func TestDispatch_MockLimitExhaustion(t *testing.T) {
	p, mgr := newTestPipeline(t)

	_, err := mgr.CreateMock(mock.MockSpec{
		When:  mock.WhenSpec{Path: "/once"},
		Then:  mock.ThenSpec{Status: 200, Body: "ok"},
		Limit: 1,
	})
	require.NoError(t, err)

	req1 := httptest.NewRequest(http.MethodGet, "/once", nil)
	rec1 := httptest.NewRecorder()
	p.ServeHTTP(rec1, req1)
	require.Equal(t, 200, rec1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/once", nil)
	rec2 := httptest.NewRecorder()
	p.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusNotFound, rec2.Code)
}

// TestDispatch_MockLimitExhaustionConcurrent covers spec.md §8 Property 4
// under concurrency: N goroutines firing at once against a limit=1 mock with
// a nonzero delay must not all observe it as eligible — exactly one gets the
// 200, the rest get NOT_FOUND.
func TestDispatch_MockLimitExhaustionConcurrent(t *testing.T) {
	p, mgr := newTestPipeline(t)
	_, err := mgr.CreateMock(mock.MockSpec{
		When:  mock.WhenSpec{Path: "/racy"},
		Then:  mock.ThenSpec{Status: 200, Body: "ok", DelayMs: 20},
		Limit: 1,
	})
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	var hits int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/racy", nil)
			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, req)
			if rec.Code == http.StatusOK {
				atomic.AddInt64(&hits, 1)
			} else {
				require.Equal(t, http.StatusNotFound, rec.Code)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), hits)
}

// TestDispatch_NotFoundRecordsHistory covers spec.md §4.5: even an
// unmatched request is appended to history with outcome "not_found".
func TestDispatch_NotFoundRecordsHistory(t *testing.T) {
	p, mgr := newTestPipeline(t)

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	hist := mgr.History()
	require.Len(t, hist, 1)
	require.Equal(t, "not_found", hist[0].Outcome)
}

// TestDispatch_Forward covers FORWARD dispatch: a forwarding rule rewrites
// the target origin while preserving path and query.
func TestDispatch_Forward(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/widgets", r.URL.Path)
		require.Equal(t, "color=red", r.URL.RawQuery)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("forwarded"))
	}))
	defer upstream.Close()

	p, mgr := newTestPipeline(t)
	_, err := mgr.CreateForwardingRule(mock.RuleSpec{
		Filter: mock.WhenSpec{PathPrefix: "/widgets"},
		Target: upstream.URL,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/widgets?color=red", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "forwarded", rec.Body.String())
	require.Equal(t, "yes", rec.Header().Get("X-Upstream"))

	hist := mgr.History()
	require.Len(t, hist, 1)
	require.Equal(t, "forward", hist[0].Outcome)
}

// TestDispatch_ForwardTakesPrecedenceOverMock covers spec.md §4.4's
// documented matching order: forwarding rules are evaluated before mocks.
func TestDispatch_ForwardTakesPrecedenceOverMock(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("from upstream"))
	}))
	defer upstream.Close()

	p, mgr := newTestPipeline(t)
	_, err := mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Path: "/shared"},
		Then: mock.ThenSpec{Status: 200, Body: "from mock"},
	})
	require.NoError(t, err)
	_, err = mgr.CreateForwardingRule(mock.RuleSpec{
		Filter: mock.WhenSpec{Path: "/shared"},
		Target: upstream.URL,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/shared", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, "from upstream", rec.Body.String())
}

// TestDispatch_RecordingCapturesMatchingTraffic covers spec.md §4.7: a
// recording with a matching filter captures a RESPOND exchange.
func TestDispatch_RecordingCapturesMatchingTraffic(t *testing.T) {
	p, mgr := newTestPipeline(t)
	_, err := mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Path: "/tracked"},
		Then: mock.ThenSpec{Status: 200, Body: "tracked body"},
	})
	require.NoError(t, err)

	rec, err := mgr.BeginRecording("capture", mock.WhenSpec{PathPrefix: "/tracked"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/tracked", nil)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	require.Len(t, rec.Entries, 1)
	require.Equal(t, 200, rec.Entries[0].ResponseStatus)
	require.Equal(t, []byte("tracked body"), rec.Entries[0].ResponseBody)
}

// TestDispatch_Proxy covers plain-HTTP PROXY dispatch: a proxy rule matching
// the request's authority forwards an absolute-form request verbatim,
// distinct from FORWARD in that the target comes from the request itself.
func TestDispatch_Proxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("proxied"))
	}))
	defer upstream.Close()
	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	p, mgr := newTestPipeline(t)
	_, err = mgr.CreateProxyRule(mock.RuleSpec{
		Filter: mock.WhenSpec{Host: upstreamURL.Hostname(), Port: upstreamURL.Port()},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/anything", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "proxied", rec.Body.String())

	hist := mgr.History()
	require.Len(t, hist, 1)
	require.Equal(t, "proxy", hist[0].Outcome)
}

// TestDispatch_ForwardUpstreamUnreachableMapsTo502 covers spec.md §7's error
// table: an upstream round-trip failure (here, connection refused) surfaces
// as 502, not a bare 500.
func TestDispatch_ForwardUpstreamUnreachableMapsTo502(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadTarget := "http://" + l.Addr().String()
	require.NoError(t, l.Close()) // nothing listens here anymore

	p, mgr := newTestPipeline(t)
	_, err = mgr.CreateForwardingRule(mock.RuleSpec{
		Filter: mock.WhenSpec{PathPrefix: "/dead"},
		Target: deadTarget,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/dead/x", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
}

// TestStatusForError covers the full spec.md §7 error-to-status mapping in
// isolation, without needing a live upstream for each case.
func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"payload too large", &errs.PayloadTooLargeError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{"upstream failure", &errs.UpstreamFailureError{Reason: "dial"}, http.StatusBadGateway},
		{"timeout", &errs.TimeoutExceededError{Phase: "upstream"}, http.StatusGatewayTimeout},
		{"invalid definition", &errs.InvalidDefinitionError{Reason: "bad regex"}, http.StatusBadRequest},
		{"mock not found", &errs.MockNotFoundError{ID: 9}, http.StatusNotFound},
		{"tls negotiation", &errs.TLSNegotiationError{Reason: "handshake"}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, statusForError(c.err))
		})
	}
}

// TestDispatch_ConnectTunnelsToTarget covers spec.md §4.6's default CONNECT
// behavior: absent an intercepting proxy rule, the server relays bytes
// transparently between client and target without inspecting them.
func TestDispatch_ConnectTunnelsToTarget(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer target.Close()
	go func() {
		conn, err := target.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		_, _ = io.ReadFull(conn, buf)
		_, _ = conn.Write(buf)
	}()

	p, _ := newTestPipeline(t)
	srv := httptest.NewServer(p)
	defer srv.Close()

	srvURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	conn, err := net.DialTimeout("tcp", srvURL.Host, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	authority := target.Addr().String()
	_, err = conn.Write([]byte("CONNECT " + authority + " HTTP/1.1\r\nHost: " + authority + "\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "200")
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	echoed := make([]byte, 5)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(reader, echoed)
	require.NoError(t, err)
	require.Equal(t, "hello", string(echoed))
}

// TestDispatch_ConnectServesHTTP2WhenNegotiated covers spec.md §4.6: when an
// intercepted client negotiates "h2" over the MITM'd TLS connection, it
// actually gets served HTTP/2 (via golang.org/x/net/http2), not dropped or
// silently mishandled as HTTP/1.1 text.
func TestDispatch_ConnectServesHTTP2WhenNegotiated(t *testing.T) {
	ca := tlsproxy.NewCAManager("", "")
	require.NoError(t, ca.EnsureCA())
	caPEM, err := ca.CACertPEM()
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(caPEM))

	mgr := state.NewManager(10)
	_, err = mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Path: "/h2"},
		Then: mock.ThenSpec{Status: 200, Body: "h2 ok"},
	})
	require.NoError(t, err)
	_, err = mgr.CreateProxyRule(mock.RuleSpec{
		Filter:       mock.WhenSpec{Host: "mitm.example"},
		InterceptTLS: true,
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ClosurePoolSize = 4
	p := NewPipeline(mgr, cfg, logging.Nop(), ca)

	srv := httptest.NewServer(p)
	defer srv.Close()
	srvURL, err := url.Parse(srv.URL)
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", srvURL.Host, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	authority := "mitm.example:443"
	_, err = conn.Write([]byte("CONNECT " + authority + " HTTP/1.1\r\nHost: " + authority + "\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "200")
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: "mitm.example",
		RootCAs:    pool,
		NextProtos: []string{"h2"},
	})
	require.NoError(t, tlsConn.HandshakeContext(context.Background()))
	require.Equal(t, "h2", tlsConn.ConnectionState().NegotiatedProtocol)

	tr := &http2.Transport{}
	cc, err := tr.NewClientConn(tlsConn)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "https://mitm.example/h2", nil)
	require.NoError(t, err)
	resp, err := cc.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "h2 ok", string(body))
}

// TestDispatch_ClosureResponse exercises a dynamic response body (spec.md
// §9): the closure runs under the blocking pool and its returned map
// controls status/body/headers.
func TestDispatch_ClosureResponse(t *testing.T) {
	p, mgr := newTestPipeline(t)
	_, err := mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Path: "/echo-method"},
		Then: mock.ThenSpec{
			BodyClosure: `{"status": 201, "body": Method}`,
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/echo-method", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, 201, rec.Code)
	require.Equal(t, "POST", rec.Body.String())
}
