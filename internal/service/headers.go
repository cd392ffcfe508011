package service

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are connection-scoped headers that must not cross a proxy
// boundary in either direction (RFC 9110 §7.6.1). Entries are stored in
// canonical form because the skip maps are keyed by CanonicalHeaderKey.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te", // canonicalized form of "TE"
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// clientConnHeaders identify the client's connection to this proxy and are
// stripped from outbound requests so local network details do not leak to
// arbitrary targets.
var clientConnHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Real-Ip",
}

// copyRequestHeaders copies inbound request headers into dst, excluding
// hop-by-hop headers, Host (rewritten to the target by the client), and
// client-connection identifiers.
func copyRequestHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopByHopHeaders)+len(clientConnHeaders)+1)
	for _, h := range hopByHopHeaders {
		skip[http.CanonicalHeaderKey(h)] = true
	}
	for _, h := range clientConnHeaders {
		skip[http.CanonicalHeaderKey(h)] = true
	}
	skip["Host"] = true
	// Headers the inbound Connection header names are hop-by-hop too.
	for _, name := range connectionOptions(src) {
		skip[http.CanonicalHeaderKey(name)] = true
	}

	for k, vals := range src {
		if skip[http.CanonicalHeaderKey(k)] {
			continue
		}
		dst[http.CanonicalHeaderKey(k)] = vals
	}
}

// filterResponseHeaders returns a copy of the target's response headers with
// hop-by-hop headers removed. Everything else passes through untouched; the
// CORS overlay is applied later and wins over any same-named survivor.
func filterResponseHeaders(src http.Header) http.Header {
	skip := make(map[string]bool, len(hopByHopHeaders))
	for _, h := range hopByHopHeaders {
		skip[http.CanonicalHeaderKey(h)] = true
	}
	for _, name := range connectionOptions(src) {
		skip[http.CanonicalHeaderKey(name)] = true
	}

	dst := make(http.Header, len(src))
	for k, vals := range src {
		if skip[http.CanonicalHeaderKey(k)] {
			continue
		}
		dst[k] = vals
	}
	return dst
}

// connectionOptions lists the header names carried in Connection header values.
func connectionOptions(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
