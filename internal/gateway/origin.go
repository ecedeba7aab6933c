package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"stream-gateway/internal/platform/httpclient"
	"stream-gateway/internal/platform/metrics"
)

// DefaultUserAgent is sent upstream when none is configured. Some origins
// refuse requests that do not look like they come from a browser.
const DefaultUserAgent = "Mozilla/5.0"

const maxManifestBytes = 4 << 20

// Upstream fetches manifests and segments from stream origins.
type Upstream interface {
	// FetchManifest returns the manifest text and the URL it was finally
	// served from, after redirects.
	FetchManifest(ctx context.Context, u *url.URL) (string, *url.URL, error)
	// OpenSegment returns the segment body; the caller must close it.
	OpenSegment(ctx context.Context, u *url.URL) (*Segment, error)
}

// OriginConfig holds the request headers presented to origins and the hosts
// segment fetches may be redirected to.
type OriginConfig struct {
	UserAgent    string
	Referer      string
	SegmentHosts *httpclient.AllowList
}

// Origin is the HTTP implementation of Upstream. Each call is a single
// attempt; failures are reported as ErrUpstreamUnavailable and never retried.
// A segment redirect to a host outside SegmentHosts is ErrBadRequest.
type Origin struct {
	client    *http.Client
	segClient *http.Client
	cfg       OriginConfig
	limiter   *httpclient.HostLimiter
	metrics   *metrics.Metrics
}

// NewOrigin returns an Origin. limiter and m may be nil.
func NewOrigin(client *http.Client, cfg OriginConfig, limiter *httpclient.HostLimiter, m *metrics.Metrics) *Origin {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Origin{
		client:    client,
		segClient: cfg.SegmentHosts.Restrict(client),
		cfg:       cfg,
		limiter:   limiter,
		metrics:   m,
	}
}

// FetchManifest implements Upstream.
func (o *Origin) FetchManifest(ctx context.Context, u *url.URL) (string, *url.URL, error) {
	resp, err := o.get(ctx, o.client, "manifest", u)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("%w: manifest read: %v", ErrUpstreamUnavailable, err)
	}
	if len(b) > maxManifestBytes {
		return "", nil, fmt.Errorf("%w: manifest exceeds %d bytes", ErrUpstreamUnavailable, maxManifestBytes)
	}

	final := u
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	return string(b), final, nil
}

// OpenSegment implements Upstream.
func (o *Origin) OpenSegment(ctx context.Context, u *url.URL) (*Segment, error) {
	resp, err := o.get(ctx, o.segClient, "segment", u)
	if err != nil {
		return nil, err
	}
	return &Segment{Body: resp.Body, Length: resp.ContentLength}, nil
}

func (o *Origin) get(ctx context.Context, client *http.Client, kind string, u *url.URL) (*http.Response, error) {
	if err := o.limiter.Wait(ctx, u.Host); err != nil {
		return nil, fmt.Errorf("%w: %s pacing: %v", ErrUpstreamUnavailable, kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request: %v", ErrUpstreamUnavailable, kind, err)
	}
	req.Header.Set("User-Agent", o.cfg.UserAgent)
	if o.cfg.Referer != "" {
		req.Header.Set("Referer", o.cfg.Referer)
	}

	start := time.Now()
	resp, err := client.Do(req)
	failed := err != nil || resp.StatusCode < 200 || resp.StatusCode > 299
	if o.metrics != nil {
		o.metrics.ObserveUpstream(kind, time.Since(start), failed)
	}
	if errors.Is(err, httpclient.ErrHostNotAllowed) {
		return nil, fmt.Errorf("%w: %s fetch: %v", ErrBadRequest, kind, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s fetch: %v", ErrUpstreamUnavailable, kind, err)
	}
	if failed {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s fetch: status %d", ErrUpstreamUnavailable, kind, resp.StatusCode)
	}
	return resp, nil
}
