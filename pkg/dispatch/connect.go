package dispatch

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/httpmockd/httpmockd/pkg/matching"
	"github.com/httpmockd/httpmockd/pkg/mock"
)

// handleConnect implements spec.md §4.6: a CONNECT request either becomes a
// transparent TCP tunnel, or — when a matching proxy rule has
// InterceptTLS set and a CA is configured — gets MITM'd so its inner
// requests can flow through the same RESPOND/FORWARD/PROXY dispatch as
// plain HTTP. Grounded on the teacher's pkg/proxy/https.go handleConnect.
func (p *Pipeline) handleConnect(w http.ResponseWriter, r *http.Request) {
	authority := r.Host
	if _, _, err := net.SplitHostPort(authority); err != nil {
		authority += ":443"
	}
	host, _, _ := net.SplitHostPort(authority)

	connectReq := &matching.Request{
		Method: "CONNECT",
		Scheme: "https",
		Host:   host,
		Path:   "/",
		Headers: matching.NewHeader(),
	}

	var intercept bool
	if c, ok := matching.SelectForward(p.mgr.ProxyCandidates(), connectReq); ok {
		rule := c.(*mock.ProxyRule)
		intercept = rule.InterceptTLS
	}

	if !intercept || p.ca == nil {
		p.tunnelConnect(w, authority)
		return
	}
	p.mitmConnect(w, authority, host)
}

// tunnelConnect establishes a raw bidirectional TCP relay to authority
// without inspecting traffic, for CONNECT requests not covered by an
// intercepting proxy rule.
func (p *Pipeline) tunnelConnect(w http.ResponseWriter, authority string) {
	targetConn, err := net.DialTimeout("tcp", authority, p.cfg.UpstreamConnectTimeout)
	if err != nil {
		http.Error(w, "error connecting to target", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = targetConn.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		_ = targetConn.Close()
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = clientConn.Close()
		_ = targetConn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(targetConn, clientConn)
		_ = targetConn.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(clientConn, targetConn)
		_ = clientConn.Close()
	}()
	wg.Wait()
}

// mitmConnect terminates TLS at this server using a leaf certificate minted
// for host, then loops reading HTTP requests off the decrypted stream,
// routing each one through the same dispatch() the plain-HTTP path uses
// (scheme forced to "https").
func (p *Pipeline) mitmConnect(w http.ResponseWriter, authority, host string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = clientConn.Close()
		return
	}

	tlsConn := tls.Server(clientConn, p.ca.ServerTLSConfig(authority, p.cfg.H2Enabled))
	if err := tlsConn.Handshake(); err != nil {
		p.log.Warn("MITM TLS handshake failed", "host", host, "error", err)
		_ = clientConn.Close()
		return
	}
	defer func() { _ = tlsConn.Close() }()

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		p.serveH2(tlsConn, host)
		return
	}

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF {
				p.log.Debug("MITM connection read ended", "host", host, "error", err)
			}
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = host
		req.Host = host
		cs := tlsConn.ConnectionState()
		req.TLS = &cs
		req.RemoteAddr = clientConn.RemoteAddr().String()

		cw := &connResponseWriter{conn: tlsConn, header: make(http.Header)}
		p.dispatch(cw, req)
		if err := cw.flush(); err != nil {
			return
		}
		if strings.EqualFold(req.Header.Get("Connection"), "close") {
			return
		}
	}
}

// serveH2 runs an HTTP/2 server directly over conn, an already-terminated
// TLS connection that negotiated "h2" via ALPN (spec.md §4.6), routing each
// request through the same dispatch() the HTTP/1.1 MITM loop above uses.
func (p *Pipeline) serveH2(conn net.Conn, host string) {
	srv := &http2.Server{}
	srv.ServeConn(conn, &http2.ServeConnOpts{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.URL.Scheme = "https"
			r.URL.Host = host
			r.Host = host
			p.dispatch(w, r)
		}),
	})
}

// connResponseWriter is a minimal http.ResponseWriter that buffers status
// and headers, then serializes the whole HTTP/1.1 response to conn on
// flush — dispatch() never streams, so this need not support Flusher.
type connResponseWriter struct {
	conn       net.Conn
	header     http.Header
	statusCode int
	body       []byte
	wroteHead  bool
}

func (c *connResponseWriter) Header() http.Header { return c.header }

func (c *connResponseWriter) Write(b []byte) (int, error) {
	if !c.wroteHead {
		c.WriteHeader(http.StatusOK)
	}
	c.body = append(c.body, b...)
	return len(b), nil
}

func (c *connResponseWriter) WriteHeader(status int) {
	if c.wroteHead {
		return
	}
	c.statusCode = status
	c.wroteHead = true
}

func (c *connResponseWriter) flush() error {
	if !c.wroteHead {
		c.WriteHeader(http.StatusOK)
	}
	resp := &http.Response{
		StatusCode: c.statusCode,
		Status:     http.StatusText(c.statusCode),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     c.header,
	}
	resp.Body = io.NopCloser(bytes.NewReader(c.body))
	resp.ContentLength = int64(len(c.body))
	_ = c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return resp.Write(c.conn)
}
