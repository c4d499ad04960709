// Package model defines shared types for the proxy.
package model

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is the scheme://host[:port] base of either the proxy itself
// (its public identity) or the upstream origin being mirrored.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int // 0 when the base carries no explicit port
}

// ParseEndpoint parses a base URL such as "https://origin.example" or
// "http://127.0.0.1:8232". Paths, queries and fragments are rejected;
// a single trailing slash is tolerated.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("endpoint %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing host", raw)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: must be scheme://host[:port] only", raw)
	}

	ep := Endpoint{Scheme: u.Scheme, Host: u.Hostname()}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return Endpoint{}, fmt.Errorf("endpoint %q: invalid port %q", raw, p)
		}
		ep.Port = n
	}
	return ep, nil
}

// String renders the endpoint as a URL prefix without a trailing slash.
// The host keeps the case it was configured with.
func (e Endpoint) String() string {
	host := e.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if e.Port != 0 {
		return fmt.Sprintf("%s://%s:%d", e.Scheme, host, e.Port)
	}
	return e.Scheme + "://" + host
}

// ProxyResponse represents the upstream response handed to the service.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Page is the fully rewritten document written back to the client.
type Page struct {
	StatusCode  int
	ContentType string
	Body        []byte
}
