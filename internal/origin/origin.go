// Package origin checks browser Origin headers against the configured
// allow-list before a signaling WebSocket or a browser-facing HTTP endpoint
// is served.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// Wildcard allows any origin.
	Wildcard = "*"
	// Null is the opaque origin sent by sandboxed frames and file:// pages.
	Null = "null"
)

// Policy is an immutable origin allow-list. With no entries only same-host
// origins are accepted.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a Policy. Entries must already be normalized (see
// NormalizeHeader), "*" or "null".
func NewPolicy(allowedOrigins []string) Policy {
	p := Policy{}
	for _, o := range allowedOrigins {
		if o == Wildcard {
			p.any = true
			continue
		}
		if p.allowed == nil {
			p.allowed = make(map[string]struct{}, len(allowedOrigins))
		}
		p.allowed[o] = struct{}{}
	}
	return p
}

// Check reports whether r may be served. Requests without an Origin header
// come from non-browser clients and are allowed with an empty origin. More
// than one Origin header is rejected.
func (p Policy) Check(r *http.Request) (normalized string, ok bool) {
	values := r.Header.Values("Origin")
	switch len(values) {
	case 0:
		return "", true
	case 1:
	default:
		return "", false
	}
	if strings.TrimSpace(values[0]) == "" {
		return "", true
	}
	normalized, host, ok := NormalizeHeader(values[0])
	if !ok || !p.Allows(normalized, host, r.Host) {
		return "", false
	}
	return normalized, true
}

// Allows reports whether a normalized origin may reach requestHost.
func (p Policy) Allows(normalizedOrigin, originHost, requestHost string) bool {
	if p.any {
		return true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalizedOrigin]
		return ok
	}

	// Same host:port only. The scheme is ignored since a TLS-terminating proxy
	// in front of the server turns https into http.
	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found {
		return false
	}
	hostname, port, ok := splitHostPort(strings.TrimSpace(requestHost))
	if !ok {
		return false
	}
	reqHost, ok := canonicalHost(scheme, hostname, port)
	return ok && reqHost == originHost
}

// NormalizeHeader validates a browser Origin header and returns it as
// scheme://host[:port] together with the host[:port] part. Default ports are
// dropped and "null" is returned unchanged.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case Null:
		return Null, "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	hostname, port, ok := splitHostPort(u.Host)
	if !ok {
		return "", "", false
	}
	host, ok = canonicalHost(scheme, hostname, port)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// canonicalHost lowercases the hostname, brackets IPv6 literals and drops the
// scheme's default port.
func canonicalHost(scheme, hostname, port string) (string, bool) {
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != "" {
		host += ":" + port
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed; the
// returned hostname has the brackets removed. The port is not validated.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if rest, found := strings.CutPrefix(authority, "["); found {
		hostname, rest, found = strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		return hostname, port, found && port != ""
	}

	hostname, port, found := strings.Cut(authority, ":")
	if !found {
		return hostname, "", hostname != ""
	}
	if hostname == "" || port == "" || strings.Contains(port, ":") {
		return "", "", false
	}
	return hostname, port, true
}
