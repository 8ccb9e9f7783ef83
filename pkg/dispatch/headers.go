package dispatch

import "net/http"

// hopByHopHeaders lists headers that must not be forwarded across a proxy
// hop, matching the teacher's pkg/proxy/handler.go removeHopByHopHeaders.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders copies every header value from src to dst, preserving
// multi-value headers.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// stripHopByHop removes the hop-by-hop headers from h in place, per
// spec.md §4.5 POST_PROCESS: "strip hop-by-hop headers on forwarded
// responses."
func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
