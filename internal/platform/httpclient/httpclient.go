package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

// New returns a client for origin fetches. The timeout bounds the whole
// exchange including the body; timeout <= 0 selects DefaultTimeout.
// Redirects are followed (the stdlib default of 10 hops); use
// AllowList.Restrict to confine them.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}
