// Package rewrite classifies URLs found in link-bearing attributes and maps
// them onto the proxy, and maps inbound proxy request URIs back to the
// upstream URLs they stand for.
//
// Two forms are produced. The local form keeps the upstream path and query
// and swaps the origin base for the proxy base. The opaque form carries the
// whole absolute URL, query-escaped, in the "url" parameter of the proxy root.
package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// OpaqueParam is the query parameter that carries a cross-origin URL.
const OpaqueParam = "url"

// ErrBadOpaqueURL is returned when the "url" parameter of an inbound request
// cannot be decoded into an absolute http(s) URL.
var ErrBadOpaqueURL = errors.New("invalid opaque url parameter")

// Kind tells which form a link was rewritten into.
type Kind int

const (
	// Passthrough links are emitted unchanged.
	Passthrough Kind = iota
	// Local links point at the origin and keep their path on the proxy.
	Local
	// Opaque links point elsewhere and travel inside the url parameter.
	Opaque
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Opaque:
		return "opaque"
	default:
		return "passthrough"
	}
}

// Result is a classified, rewritten link.
type Result struct {
	Kind Kind
	URL  string
}

// Link returns the string to emit in place of raw.
func Link(raw, proxyBase, originBase string) string {
	return Classify(raw, proxyBase, originBase).URL
}

// Classify rewrites raw, a URL as written in markup, relative to the proxy
// base and the upstream origin base (both scheme://host[:port], no trailing
// slash). It never fails: anything it cannot place is passed through.
//
// Base comparison is an exact string match; hosts are not case-folded.
func Classify(raw, proxyBase, originBase string) Result {
	abs := raw
	base, ok := splitBase(raw)
	if !ok {
		switch {
		case strings.HasPrefix(raw, "//"):
			// Protocol-relative. A link to the origin's own authority is
			// treated exactly like its absolute form.
			if sameAuthority(raw, originBase) {
				abs = originBase + raw[len(authorityOf(originBase)):]
				base = originBase
			} else {
				abs = "http:" + raw
				base, _ = splitBase(abs)
			}
		case strings.HasPrefix(raw, "/"):
			abs = originBase + raw
			base = originBase
		default:
			// Empty, fragment-only, non-hierarchical schemes (mailto:,
			// javascript:, data:) and document-relative paths resolve
			// correctly against the proxied page as they are.
			return Result{Kind: Passthrough, URL: raw}
		}
	}

	if base == originBase {
		rest := abs[len(base):]
		if !strings.HasPrefix(rest, "/") {
			rest = "/" + rest
		}
		return Result{Kind: Local, URL: proxyBase + rest}
	}
	return Result{Kind: Opaque, URL: proxyBase + "/?" + OpaqueParam + "=" + url.QueryEscape(abs)}
}

// Target is the upstream URL an inbound request URI resolves to.
type Target struct {
	URL    string
	Opaque bool
}

// Resolve maps an inbound request URI (path and query as received) onto the
// upstream URL to fetch. A URI whose query ends in url=<value> is opaque:
// the value is unescaped and fetched as is. Anything else is appended to
// the origin base.
func Resolve(requestURI, originBase string) (Target, error) {
	if value, ok := opaqueValue(requestURI); ok {
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrBadOpaqueURL, err)
		}
		u, err := url.Parse(decoded)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrBadOpaqueURL, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Target{}, fmt.Errorf("%w: %q is not an absolute http(s) url", ErrBadOpaqueURL, decoded)
		}
		return Target{URL: decoded, Opaque: true}, nil
	}

	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	return Target{URL: originBase + requestURI}, nil
}

// opaqueValue returns everything after the last "url=" that starts a query
// parameter.
func opaqueValue(requestURI string) (string, bool) {
	key := OpaqueParam + "="
	s := requestURI
	for {
		i := strings.LastIndex(s, key)
		if i < 0 {
			return "", false
		}
		if i > 0 && (s[i-1] == '?' || s[i-1] == '&') {
			return requestURI[i+len(key):], true
		}
		s = s[:i]
	}
}

// splitBase extracts scheme://authority from u. It reports false when u has
// no scheme-and-authority prefix.
func splitBase(u string) (string, bool) {
	i := strings.Index(u, "://")
	if i <= 0 {
		return "", false
	}
	for _, r := range u[:i] {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return "", false
		}
	}
	start := i + len("://")
	end := strings.IndexAny(u[start:], "/?#")
	if end < 0 {
		return u, true
	}
	return u[:start+end], true
}

// authorityOf returns the "//host[:port]" part of a base without its scheme.
func authorityOf(base string) string {
	i := strings.Index(base, "://")
	if i < 0 {
		return ""
	}
	return base[i+1:]
}

// sameAuthority reports whether the protocol-relative link points at the
// authority of base.
func sameAuthority(link, base string) bool {
	authority := authorityOf(base)
	if authority == "" || !strings.HasPrefix(link, authority) {
		return false
	}
	rest := link[len(authority):]
	return rest == "" || strings.ContainsAny(rest[:1], "/?#")
}
