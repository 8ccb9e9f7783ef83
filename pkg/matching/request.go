// Package matching implements the matcher algebra and matching engine: pure
// predicates over a normalized request, each exposing both a boolean
// acceptance test and a nonnegative distance used only for diagnostics.
package matching

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// KV is an ordered key/value pair, used for query parameters and cookies
// where insertion order must be preserved end-to-end.
type KV struct {
	Key   string
	Value string
}

// Header is a case-insensitive, order-preserving multimap of HTTP headers.
type Header struct {
	order  []string
	values map[string][]string
}

// NewHeader returns an empty Header; populate it with Add, which keeps
// header names in the order they are first added.
func NewHeader() *Header {
	return &Header{values: make(map[string][]string)}
}

// Add appends a value for key, preserving first-seen key order.
func (h *Header) Add(key, value string) {
	lk := strings.ToLower(key)
	if _, ok := h.values[lk]; !ok {
		h.order = append(h.order, lk)
	}
	h.values[lk] = append(h.values[lk], value)
}

// Get returns the first value for key and whether it was present.
func (h *Header) Get(key string) (string, bool) {
	vs, ok := h.values[strings.ToLower(key)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns all values for key in insertion order.
func (h *Header) Values(key string) []string {
	return h.values[strings.ToLower(key)]
}

// Has reports whether key is present at all.
func (h *Header) Has(key string) bool {
	_, ok := h.values[strings.ToLower(key)]
	return ok
}

// Count returns the number of values recorded for key.
func (h *Header) Count(key string) int {
	return len(h.values[strings.ToLower(key)])
}

// Keys returns header names in first-seen order (lowercase canonical form).
func (h *Header) Keys() []string {
	return h.order
}

// Request is the normalized view of an HTTP request that matchers, dispatch,
// and recording all operate on.
type Request struct {
	Method  string
	Scheme  string
	Host    string
	Port    string
	Path    string // percent-decoded, used for matching
	RawPath string // as received on the wire
	Query   []KV   // ordered, as received
	Headers *Header
	Cookies []KV
	Body    []byte

	jsonCache    any
	jsonCacheErr error
	jsonParsed   bool
}

// FromHTTPRequest builds a normalized Request from a stdlib request and an
// already-read body. The Host header (or :authority surfaced identically by
// net/http as Request.Host) is used for host matching on the wire, per
// spec.md §9 Open Question (b).
func FromHTTPRequest(r *http.Request, body []byte) *Request {
	host := r.Host
	port := ""
	if h, p, ok := strings.Cut(host, ":"); ok {
		host, port = h, p
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if r.URL.Scheme != "" {
		scheme = r.URL.Scheme
	}

	headers := NewHeader()
	for _, k := range sortedHeaderKeys(r.Header) {
		for _, v := range r.Header[k] {
			headers.Add(k, v)
		}
	}

	var cookies []KV
	for _, c := range r.Cookies() {
		cookies = append(cookies, KV{Key: c.Name, Value: c.Value})
	}

	return &Request{
		Method:  strings.ToUpper(r.Method),
		Scheme:  scheme,
		Host:    host,
		Port:    port,
		Path:    r.URL.Path,
		RawPath: r.URL.EscapedPath(),
		Query:   parseOrderedQuery(r.URL.RawQuery),
		Headers: headers,
		Cookies: cookies,
		Body:    body,
	}
}

// sortedHeaderKeys returns header names sorted lexicographically. Go's map
// iteration is randomized, so sorting makes FromHTTPRequest deterministic;
// real wire order is not recoverable once net/http has parsed into a map,
// which is an accepted limitation of building on net/http rather than a raw
// wire reader.
func sortedHeaderKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseOrderedQuery(raw string) []KV {
	if raw == "" {
		return nil
	}
	var out []KV
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		dk, err := url.QueryUnescape(k)
		if err != nil {
			dk = k
		}
		dv, err := url.QueryUnescape(v)
		if err != nil {
			dv = v
		}
		out = append(out, KV{Key: dk, Value: dv})
	}
	return out
}

// JSON lazily parses the request body as JSON and caches the result.
func (r *Request) JSON() (any, error) {
	if !r.jsonParsed {
		r.jsonCache, r.jsonCacheErr = parseJSON(r.Body)
		r.jsonParsed = true
	}
	return r.jsonCache, r.jsonCacheErr
}

// QueryValues returns all values for a query key in insertion order.
func (r *Request) QueryValues(key string) []string {
	var out []string
	for _, kv := range r.Query {
		if kv.Key == key {
			out = append(out, kv.Value)
		}
	}
	return out
}

// QueryCount returns how many times key appears in the query string.
func (r *Request) QueryCount(key string) int {
	return len(r.QueryValues(key))
}

// CookieValue returns the value of the first cookie named key.
func (r *Request) CookieValue(key string) (string, bool) {
	for _, kv := range r.Cookies {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}
