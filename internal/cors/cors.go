// Package cors implements the origin policy and CORS header overlay.
package cors

import (
	"net/http"

	"cors-proxy-go/internal/config"
)

// AllowedMethods is the Access-Control-Allow-Methods value sent on every
// proxied and error response.
const AllowedMethods = "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS"

const maxAge = "86400"

// corsHeaders are the header names the overlay owns. They always win over
// same-named headers the target may have returned, so the browser-visible
// contract stays correct regardless of the target's own CORS setup.
var corsHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Access-Control-Expose-Headers",
	"Access-Control-Max-Age",
	"Access-Control-Allow-Credentials",
}

// Decision is the per-request outcome of the origin check.
type Decision struct {
	Allowed bool
	// AllowOrigin is the Access-Control-Allow-Origin value to send: the
	// echoed origin, or "*" when the request carried no Origin header.
	AllowOrigin string
}

// Check decides whether a request with the given Origin header value is
// permitted. An absent Origin header (empty string) is allowed: non-browser
// clients like curl never send one, and the deployment boundary, not origin
// checking, is this proxy's security line. Pure function of its inputs.
func Check(origin string, allow *config.AllowList) Decision {
	if origin == "" {
		return Decision{Allowed: true, AllowOrigin: "*"}
	}
	if allow.Contains(origin) {
		return Decision{Allowed: true, AllowOrigin: origin}
	}
	return Decision{Allowed: false}
}

// IsPreflight reports whether the request is a CORS preflight. Browsers send
// OPTIONS with both Origin and Access-Control-Request-Method; either marker
// is accepted so hand-written preflights work too. A bare OPTIONS with
// neither header is forwarded like any other method.
func IsPreflight(method string, h http.Header) bool {
	if method != http.MethodOptions {
		return false
	}
	return h.Get("Origin") != "" || h.Get("Access-Control-Request-Method") != ""
}

// Apply overlays the CORS response headers for an allowed decision onto h.
// reqHeader is the inbound request's header set, used to echo the headers a
// preflight asked for. Any same-named header already in h is replaced.
func Apply(h http.Header, d Decision, reqHeader http.Header) {
	for _, name := range corsHeaders {
		h.Del(name)
	}

	h.Set("Access-Control-Allow-Origin", d.AllowOrigin)
	h.Set("Access-Control-Allow-Methods", AllowedMethods)

	if requested := reqHeader.Get("Access-Control-Request-Headers"); requested != "" {
		h.Set("Access-Control-Allow-Headers", requested)
	} else {
		h.Set("Access-Control-Allow-Headers", "*")
	}

	h.Set("Access-Control-Expose-Headers", "*")
	h.Set("Access-Control-Max-Age", maxAge)
	h.Set("Access-Control-Allow-Credentials", "true")
}
