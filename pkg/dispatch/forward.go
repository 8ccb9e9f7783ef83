package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/httpmockd/httpmockd/pkg/errs"
	"github.com/httpmockd/httpmockd/pkg/matching"
)

// maxUpstreamResponseBody bounds how much of an upstream response this
// server will buffer before returning it to the client. Distinct from the
// inbound request body cap (pkg/config), since upstreams are trusted less
// than the operator's own configuration but must still not exhaust memory.
const maxUpstreamResponseBody = 25 << 20

// forwardResult captures everything POST_PROCESS and RECORDED? need from a
// completed upstream round trip.
type forwardResult struct {
	status   int
	header   http.Header
	body     []byte
	duration time.Duration
}

// newUpstreamClient builds the shared client used for FORWARD and PROXY
// upstream round trips, grounded on the teacher's pkg/proxy.New client
// (no redirect following — a proxy/forwarder must return the upstream's
// response verbatim, not whatever the redirect chain ends at).
func newUpstreamClient(connectTimeout, responseTimeout time.Duration, skipVerify bool) *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: responseTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: skipVerify}, //nolint:gosec // operator-opted-in via rule's TLSSkipVerify
		},
	}
}

// forwardTarget computes the absolute target URL for a FORWARD rule: the
// rule's configured origin, with the inbound request's path and query
// preserved verbatim (spec.md §4.5 "rewrite target URI using rule's target
// origin, preserving path and query").
func forwardTarget(base string, orig *url.URL) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid forwarding target %q: %w", base, err)
	}
	out := *u
	out.Path = orig.Path
	out.RawPath = orig.RawPath
	out.RawQuery = orig.RawQuery
	return out.String(), nil
}

// proxyTarget computes the absolute target URL for a plain-HTTP PROXY
// dispatch: the wire authority the client addressed, scheme as seen by
// this server. Grounded on the teacher's pkg/proxy/handler.go
// forwardRequest, which falls back to r.Host + RequestURI() when the
// request line was not already in absolute form.
func proxyTarget(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// doForward performs one upstream round trip: build the outbound request
// from r/body, copy and clean headers, inject any rule-supplied headers,
// send it, and buffer the response. Hop-by-hop stripping and
// Content-Length recomputation happen in the caller's POST_PROCESS step,
// not here, so this function is reusable for both FORWARD and PROXY.
func (p *Pipeline) doForward(ctx context.Context, r *http.Request, body []byte, targetURL string, inject []matching.KV, client *http.Client) (*forwardResult, error) {
	start := time.Now()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, &errs.UpstreamFailureError{Reason: "build outbound request", Err: err}
	}
	copyHeaders(outReq.Header, r.Header)
	stripHopByHop(outReq.Header)
	for _, kv := range inject {
		outReq.Header.Set(kv.Key, kv.Value)
	}
	outReq.Header.Set("X-Forwarded-For", stripPort(r.RemoteAddr))
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	outReq.Host = outReq.URL.Host

	resp, err := client.Do(outReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &errs.TimeoutExceededError{Phase: "upstream"}
		}
		return nil, &errs.UpstreamFailureError{Reason: "round trip to " + targetURL, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := readLimited(resp.Body, maxUpstreamResponseBody)
	if err != nil {
		return nil, &errs.UpstreamFailureError{Reason: "read upstream response body", Err: err}
	}

	return &forwardResult{
		status:   resp.StatusCode,
		header:   resp.Header,
		body:     respBody,
		duration: time.Since(start),
	}, nil
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// readLimited reads at most limit+1 bytes from r, returning
// errs.PayloadTooLargeError if the body does not fit in limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, &errs.PayloadTooLargeError{Limit: limit}
	}
	return buf, nil
}
