package tlsproxy

import (
	"crypto/tls"
	"strings"
)

// ServerTLSConfig builds a *tls.Config for terminating an intercepted
// connection to authority (host[:port]), minting a leaf certificate on the
// fly. Per spec.md §4.6: "TLS version >= 1.2; ALPN negotiates HTTP/1.1 (and
// HTTP/2 if feature enabled). If ALPN negotiation fails, fall back to
// HTTP/1.1." enableH2 controls whether "h2" is offered in NextProtos at
// all; when the client negotiates "h2", pkg/dispatch serves the connection
// with golang.org/x/net/http2.Server.ServeConn.
func (m *CAManager) ServerTLSConfig(authority string, enableH2 bool) *tls.Config {
	host := authority
	if h, _, ok := strings.Cut(authority, ":"); ok {
		host = h
	}

	nextProtos := []string{"http/1.1"}
	if enableH2 {
		nextProtos = []string{"h2", "http/1.1"}
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: nextProtos,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			requested := host
			if hello.ServerName != "" {
				requested = hello.ServerName
			}
			pair, err := m.MintLeaf(requested)
			if err != nil {
				return nil, err
			}
			return &tls.Certificate{
				Certificate: [][]byte{pair.Cert.Raw},
				PrivateKey:  pair.Key,
			}, nil
		},
	}
}
