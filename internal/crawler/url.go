package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL so syntactically different but
// semantically identical URLs compare equal. It lowercases the scheme and
// host, strips default ports, drops the fragment, removes a single trailing
// slash from the path (the root path stays "/"), and sorts query parameters
// by key. The function is idempotent.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	switch u.Scheme {
	case "http":
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case "https":
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if u.Path == "" || u.Path == "/" {
		u.Path = "/"
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	// Values.Encode sorts keys; values for a repeated key keep their
	// original order.
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// Scope binds a crawl to one base domain. A host is in scope when it equals
// the base domain or is a strict subdomain of it.
type Scope struct {
	baseDomain string
}

// NewScope builds a Scope from a bare domain such as "example.org".
func NewScope(baseDomain string) Scope {
	domain := strings.ToLower(strings.TrimSpace(baseDomain))
	domain = strings.TrimPrefix(domain, "www.")
	return Scope{baseDomain: domain}
}

// ScopeFromURL derives the Scope from a seed URL's host.
func ScopeFromURL(rawURL string) (Scope, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Scope{}, fmt.Errorf("parse scope url: %w", err)
	}
	if u.Hostname() == "" {
		return Scope{}, fmt.Errorf("url %q has no host", rawURL)
	}
	return NewScope(u.Hostname()), nil
}

// BaseDomain returns the domain the scope is bound to.
func (s Scope) BaseDomain() string {
	return s.baseDomain
}

// IsInternal reports whether the URL's host is the base domain or one of
// its subdomains. Unparsable URLs are external.
func (s Scope) IsInternal(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == s.baseDomain || strings.HasSuffix(host, "."+s.baseDomain)
}
