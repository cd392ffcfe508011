// Package target extracts and validates the destination URL from the request path.
package target

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrInvalidTarget is returned when the request path does not name a
// forwardable http/https URL.
var ErrInvalidTarget = errors.New("invalid target URL")

// Resolver turns inbound request paths of the form /{TARGET_URL} into parsed
// absolute URLs. It performs no network I/O; the self-recursion check only
// looks at literal loopback hosts.
type Resolver struct {
	listenPort string
}

// NewResolver creates a Resolver. listenPort is the proxy's own listen port,
// used to reject targets that would loop back into the proxy itself.
func NewResolver(listenPort int) *Resolver {
	return &Resolver{listenPort: fmt.Sprintf("%d", listenPort)}
}

// Resolve parses the target URL out of the inbound path and query string.
// path is the percent-decoded request path; rawQuery is the inbound query
// string, reattached verbatim so the target receives it unchanged.
//
// Accepted forms, after stripping the leading slash:
//   - https://host/rest and http://host/rest
//   - https:/host/rest (separator collapsed by path-normalizing clients)
//   - host.tld/rest or host.tld:8443/rest (bare domain; https:// is assumed)
//
// Everything else fails with ErrInvalidTarget before any network I/O.
func (r *Resolver) Resolve(path, rawQuery string) (*url.URL, error) {
	raw := strings.TrimPrefix(path, "/")
	if raw == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidTarget)
	}

	raw = repairScheme(raw)

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		// Bare domain fallback: "api.github.com/users" is common enough from
		// hand-typed URLs to be worth assuming https.
		if bareDomainLike(raw) {
			raw = "https://" + raw
		} else {
			return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidTarget, raw)
		}
	}

	if rawQuery != "" {
		raw = raw + "?" + rawQuery
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	if r.pointsAtSelf(u) {
		return nil, fmt.Errorf("%w: target loops back into the proxy", ErrInvalidTarget)
	}

	return u, nil
}

// repairScheme restores a scheme separator that a path-normalizing client or
// intermediary collapsed ("https:/host" or "https:host" instead of "https://host").
func repairScheme(raw string) string {
	for _, scheme := range []string{"http", "https"} {
		prefix := scheme + ":"
		if !strings.HasPrefix(raw, prefix) {
			continue
		}
		rest := strings.TrimLeft(raw[len(prefix):], "/")
		return prefix + "//" + rest
	}
	return raw
}

// bareDomainLike reports whether raw looks like a schemeless host (optionally
// host:port) plus path, e.g. "api.github.com/users" or "example.com:8443/x".
// Scheme-bearing strings like "ftp://host" never qualify: a ':' is only
// accepted when everything after it up to the first '/' is a numeric port.
func bareDomainLike(raw string) bool {
	host := raw
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		host = raw[:i]
	}
	if host == "" || strings.ContainsAny(host, " ") {
		return false
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		port := host[i+1:]
		if port == "" {
			return false
		}
		for _, c := range port {
			if c < '0' || c > '9' {
				return false
			}
		}
		host = host[:i]
	}
	return strings.Contains(host, ".")
}

// pointsAtSelf reports whether the target is a loopback or link-local host on
// the proxy's own listen port, which would recurse forever. Loopback targets
// on other ports stay reachable; proxying to local dev APIs is the point of
// the tool.
func (r *Resolver) pointsAtSelf(u *url.URL) bool {
	host := u.Hostname()

	loopback := host == "localhost" || strings.HasSuffix(host, ".localhost")
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		loopback = addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
	}
	if !loopback {
		return false
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return port == r.listenPort
}
