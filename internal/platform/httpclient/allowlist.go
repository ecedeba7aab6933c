package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const maxRedirects = 10

// ErrHostNotAllowed reports a URL, or a redirect target, outside an AllowList.
var ErrHostNotAllowed = errors.New("host not allowed")

// AllowList restricts outbound requests to a set of hosts and their
// subdomains. A nil AllowList allows any host.
type AllowList struct {
	hosts []string
}

// NewAllowList returns an AllowList for hosts, or nil when no host is given.
// Entries are matched case-insensitively; ports are ignored.
func NewAllowList(hosts []string) *AllowList {
	var clean []string
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			clean = append(clean, h)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return &AllowList{hosts: clean}
}

// Allows reports whether u is an http(s) URL whose host is listed, or is a
// subdomain of a listed host.
func (a *AllowList) Allows(u *url.URL) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if a == nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range a.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// CheckRedirect is an http.Client redirect policy that applies the list to
// every hop and keeps the stdlib limit of 10 redirects.
func (a *AllowList) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if !a.Allows(req.URL) {
		return fmt.Errorf("%w: redirect to %s", ErrHostNotAllowed, req.URL.Hostname())
	}
	return nil
}

// Restrict returns a copy of c that shares its transport but follows
// redirects only within the list.
func (a *AllowList) Restrict(c *http.Client) *http.Client {
	cp := *c
	cp.CheckRedirect = a.CheckRedirect
	return &cp
}
