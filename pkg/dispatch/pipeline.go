// Package dispatch implements the per-request state machine of spec.md
// §4.5: given a normalized request, decide RESPOND / FORWARD / PROXY /
// NOT_FOUND, run the matched branch, then independently evaluate RECORDED?
// and append to history — grounded on the teacher's pkg/engine.Handler
// (matching-and-respond) fused with pkg/proxy (forward/CONNECT handling),
// since this module's dispatch pipeline is a single ServeHTTP that both
// repos keep as two separate handlers.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/httpmockd/httpmockd/pkg/matching"
	"github.com/httpmockd/httpmockd/pkg/mock"
	"github.com/httpmockd/httpmockd/pkg/requestlog"
	"github.com/httpmockd/httpmockd/pkg/state"
	"github.com/httpmockd/httpmockd/pkg/tlsproxy"
)

// Config holds the dispatch-level knobs spec.md §5 calls out as
// configurable per-phase timeouts, plus the request body cap spec.md §6
// exposes as HTTPMOCK's MaxRequestBody.
type Config struct {
	MaxRequestBodySize int64

	UpstreamConnectTimeout  time.Duration
	UpstreamResponseTimeout time.Duration

	// H2Enabled controls whether intercepted TLS connections offer "h2" in
	// ALPN (spec.md §4.6).
	H2Enabled bool

	// ClosurePoolSize bounds concurrent user-closure evaluation (spec.md §5).
	ClosurePoolSize int
}

// DefaultConfig returns the documented defaults for the fields Config does
// not require the caller to set explicitly.
func DefaultConfig() Config {
	return Config{
		MaxRequestBodySize:      10 << 20,
		UpstreamConnectTimeout:  10 * time.Second,
		UpstreamResponseTimeout: 30 * time.Second,
		H2Enabled:               true,
		ClosurePoolSize:         64,
	}
}

// Pipeline is the single http.Handler that fronts every inbound connection:
// mock traffic, forwarding, plain-HTTP proxying, and CONNECT tunneling/MITM
// all enter through ServeHTTP.
type Pipeline struct {
	mgr *state.Manager
	cfg Config
	log *slog.Logger
	ca  *tlsproxy.CAManager

	pool *blockingPool

	upstreamClient         *http.Client
	upstreamClientInsecure *http.Client
}

// NewPipeline wires a Pipeline over mgr. ca may be nil, in which case
// CONNECT requests are always tunneled transparently and never intercepted
// (spec.md §4.6 "interception requires a configured CA").
func NewPipeline(mgr *state.Manager, cfg Config, log *slog.Logger, ca *tlsproxy.CAManager) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		mgr:                    mgr,
		cfg:                    cfg,
		log:                    log,
		ca:                     ca,
		pool:                   newBlockingPool(cfg.ClosurePoolSize),
		upstreamClient:         newUpstreamClient(cfg.UpstreamConnectTimeout, cfg.UpstreamResponseTimeout, false),
		upstreamClientInsecure: newUpstreamClient(cfg.UpstreamConnectTimeout, cfg.UpstreamResponseTimeout, true),
	}
}

// ServeHTTP is the pipeline's entry point. CONNECT requests are tunnel/MITM
// candidates (handled entirely in connect.go); everything else goes through
// the ordered RESPOND/FORWARD/PROXY/NOT_FOUND dispatch of spec.md §4.4.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.dispatch(w, r)
}

// dispatch implements the non-CONNECT branch of spec.md §4.5: read and cap
// the body, select a branch in matching-order, run it, write the response,
// then independently run RECORDED? and append to history.
func (p *Pipeline) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	body, err := readLimited(r.Body, p.cfg.MaxRequestBodySize)
	if err != nil {
		p.writeError(w, r, nil, requestlog.Entry{Timestamp: start, RemoteAddr: r.RemoteAddr}, start, err)
		return
	}

	req := matching.FromHTTPRequest(r, body)
	entry := requestlog.Entry{
		ID:          uuid.NewString(),
		Timestamp:   start,
		Method:      req.Method,
		Scheme:      req.Scheme,
		Host:        req.Host,
		Path:        req.Path,
		QueryString: r.URL.RawQuery,
		Headers:     r.Header,
		Body:        body,
		BodySize:    len(body),
		RemoteAddr:  r.RemoteAddr,
	}

	status, headers, respBody, outcome, mockID, err := p.route(ctx, r, req)
	entry.Outcome = outcome
	entry.MatchedMockID = mockID

	if err != nil {
		entry.Error = err.Error()
		p.writeError(w, r, req, entry, start, err)
		return
	}

	writeResponse(w, status, headers, respBody)

	entry.ResponseStatus = status
	entry.ResponseBody = respBody
	entry.DurationMs = time.Since(start).Milliseconds()
	p.mgr.AppendHistory(entry)

	if ctx.Err() == nil {
		captureRecordings(p.mgr, req, status, headers, respBody)
	}
}

// route implements spec.md §4.4's matching order: forwarding rules, then
// proxy rules, then mocks (reverse insertion order), then NOT_FOUND.
func (p *Pipeline) route(ctx context.Context, r *http.Request, req *matching.Request) (status int, headers []matching.KV, body []byte, outcome string, mockID int64, err error) {
	if c, ok := matching.SelectForward(p.mgr.ForwardingCandidates(), req); ok {
		rule := c.(*mock.ForwardingRule)
		target, terr := forwardTarget(rule.Target, r.URL)
		if terr != nil {
			return 0, nil, nil, "forward", 0, terr
		}
		client := p.clientFor(rule.TLSSkipVerify)
		result, ferr := p.doForward(ctx, r, req.Body, target, rule.InjectedHeaders, client)
		if ferr != nil {
			return 0, nil, nil, "forward", 0, ferr
		}
		stripHopByHop(result.header)
		return result.status, setContentLength(headersFromHTTP(result.header), len(result.body)), result.body, "forward", 0, nil
	}

	if c, ok := matching.SelectForward(p.mgr.ProxyCandidates(), req); ok {
		rule := c.(*mock.ProxyRule)
		target := proxyTarget(r)
		client := p.clientFor(rule.TLSSkipVerify)
		result, ferr := p.doForward(ctx, r, req.Body, target, nil, client)
		if ferr != nil {
			return 0, nil, nil, "proxy", 0, ferr
		}
		stripHopByHop(result.header)
		return result.status, setContentLength(headersFromHTTP(result.header), len(result.body)), result.body, "proxy", 0, nil
	}

	if def, ok := p.selectMock(req); ok {
		s, h, b, rerr := p.respondMock(ctx, def, req)
		if rerr != nil {
			return 0, nil, nil, "respond", def.ID, rerr
		}
		return s, h, b, "respond", def.ID, nil
	}

	return http.StatusNotFound, nil, []byte("not found\n"), "not_found", 0, nil
}

// selectMock implements spec.md §4.4 step 3 with selection and hit-limit
// reservation tied together: Select alone only checks a stale Active()
// snapshot, which lets concurrent requests against a low-limit mock all pass
// the check before any of them records a hit. Here each selected candidate
// must win TryReserveHit before it is used; a candidate that loses the race
// is excluded and the next-best candidate (if any) is tried instead.
func (p *Pipeline) selectMock(req *matching.Request) (*mock.MockDefinition, bool) {
	all := p.mgr.MockCandidates()
	excluded := make(map[int64]bool)
	for {
		pool := all
		if len(excluded) > 0 {
			pool = make([]matching.Candidate, 0, len(all))
			for _, c := range all {
				if !excluded[c.CandidateID()] {
					pool = append(pool, c)
				}
			}
		}
		c, ok := matching.Select(pool, req)
		if !ok {
			return nil, false
		}
		def := c.(*mock.MockDefinition)
		if def.TryReserveHit() {
			return def, true
		}
		excluded[def.CandidateID()] = true
	}
}

func (p *Pipeline) clientFor(skipVerify bool) *http.Client {
	if skipVerify {
		return p.upstreamClientInsecure
	}
	return p.upstreamClient
}

// writeError maps err to a status code and writes it, unless headers may
// already have been flushed (not possible here since dispatch buffers the
// full response before writing), per spec.md §7.
func (p *Pipeline) writeError(w http.ResponseWriter, r *http.Request, req *matching.Request, entry requestlog.Entry, start time.Time, err error) {
	status := statusForError(err)
	if status == 0 {
		return
	}
	p.log.Warn("dispatch error", "method", r.Method, "path", r.URL.Path, "error", err)
	writeResponse(w, status, nil, []byte(err.Error()+"\n"))

	entry.Error = err.Error()
	entry.ResponseStatus = status
	entry.DurationMs = time.Since(start).Milliseconds()
	p.mgr.AppendHistory(entry)
}

func writeResponse(w http.ResponseWriter, status int, headers []matching.KV, body []byte) {
	h := w.Header()
	for _, kv := range headers {
		h.Add(kv.Key, kv.Value)
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func headersFromHTTP(h http.Header) []matching.KV {
	var out []matching.KV
	for _, k := range sortedKeys(h) {
		for _, v := range h[k] {
			out = append(out, matching.KV{Key: k, Value: v})
		}
	}
	return out
}

func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
