// Package origin validates browser Origin headers against the configured
// allow-list.
package origin

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port], default ports
// removed) and the host[:port] portion for same-host comparisons. The special
// Origin value "null" is accepted and returned as-is with an empty host.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides which origins may open signaling connections and read the
// ICE configuration.
//
// An empty policy allows same-host requests only. Otherwise an origin must be
// listed, or the list must contain "*".
type Policy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewPolicy builds a policy from raw allow-list entries. Each entry must be
// "*" or a valid origin; entries are normalized.
func NewPolicy(entries []string) (Policy, error) {
	var p Policy
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			p.allowAll = true
			continue
		}
		normalized, _, ok := NormalizeHeader(entry)
		if !ok {
			return Policy{}, fmt.Errorf("invalid origin %q", entry)
		}
		if p.allowed == nil {
			p.allowed = make(map[string]struct{})
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

// SameHostOnly reports whether the policy falls back to same-host checks.
func (p Policy) SameHostOnly() bool {
	return !p.allowAll && len(p.allowed) == 0
}

// AllowsAny reports whether the policy contains the "*" wildcard.
func (p Policy) AllowsAny() bool { return p.allowAll }

// Allow reports whether originHeader may access a server reached as
// requestHost. It also returns the normalized origin for CORS echoing.
func (p Policy) Allow(originHeader, requestHost string) (normalized string, ok bool) {
	normalized, originHost, valid := NormalizeHeader(originHeader)
	if !valid {
		return "", false
	}
	if p.allowAll {
		return normalized, true
	}
	if !p.SameHostOnly() {
		_, listed := p.allowed[normalized]
		return normalized, listed
	}

	// Same host:port only. The scheme is not compared because a TLS-terminating
	// proxy may forward HTTPS origins over plain HTTP.
	var scheme string
	switch {
	case strings.HasPrefix(normalized, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalized, "https://"):
		scheme = "https"
	default:
		return normalized, false
	}
	reqHost, valid := canonicalAuthority(strings.TrimSpace(requestHost), scheme)
	return normalized, valid && reqHost == originHost
}

// CheckRequest applies the policy to r. Requests without an Origin header are
// not from browsers and are allowed; a repeated Origin header is rejected.
func (p Policy) CheckRequest(r *http.Request) bool {
	values := r.Header.Values("Origin")
	switch len(values) {
	case 0:
		return true
	case 1:
		_, ok := p.Allow(values[0], r.Host)
		return ok
	default:
		return false
	}
}

// canonicalAuthority lower-cases host[:port], brackets IPv6 literals and drops
// the scheme's default port.
func canonicalAuthority(authority, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port] string. IPv6 literals are
// returned without brackets; the port is returned unvalidated.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}

	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := raw[1:end], raw[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		hostname, port, _ = strings.Cut(raw, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 literals are not valid in the authority component.
		return "", "", false
	}
}
