package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stream-gateway/internal/platform/httpclient"
	"stream-gateway/internal/platform/metrics"
)

func TestOrigin_FetchManifest_sends_browser_headers(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotReferer = r.Referer()
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer srv.Close()

	o := NewOrigin(srv.Client(), OriginConfig{Referer: "https://www.fancode.com/"}, nil, metrics.New())
	body, final, err := o.FetchManifest(context.Background(), mustParseURL(t, srv.URL+"/live/index.m3u8"))
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if body != "#EXTM3U\n" {
		t.Errorf("body = %q", body)
	}
	if final.Path != "/live/index.m3u8" {
		t.Errorf("final url = %s", final)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, DefaultUserAgent)
	}
	if gotReferer != "https://www.fancode.com/" {
		t.Errorf("Referer = %q", gotReferer)
	}
}

func TestOrigin_FetchManifest_reports_redirect_target(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start.m3u8", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/edge/7/index.m3u8", http.StatusFound)
	})
	mux.HandleFunc("/edge/7/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\nseg.ts\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := NewOrigin(srv.Client(), OriginConfig{}, nil, nil)
	_, final, err := o.FetchManifest(context.Background(), mustParseURL(t, srv.URL+"/start.m3u8"))
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if final.Path != "/edge/7/index.m3u8" {
		t.Errorf("final path = %s, want redirect target", final.Path)
	}
}

func TestOrigin_non_2xx_is_upstream_unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	o := NewOrigin(srv.Client(), OriginConfig{}, nil, metrics.New())
	if _, _, err := o.FetchManifest(context.Background(), mustParseURL(t, srv.URL+"/x.m3u8")); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("manifest: expected ErrUpstreamUnavailable, got %v", err)
	}
	if _, err := o.OpenSegment(context.Background(), mustParseURL(t, srv.URL+"/x.ts")); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("segment: expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestOrigin_network_error_is_upstream_unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	o := NewOrigin(http.DefaultClient, OriginConfig{}, nil, nil)
	if _, err := o.OpenSegment(context.Background(), mustParseURL(t, addr+"/x.ts")); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestOrigin_timeout_is_upstream_unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	o := NewOrigin(httpclient.New(50*time.Millisecond), OriginConfig{}, nil, nil)
	if _, _, err := o.FetchManifest(context.Background(), mustParseURL(t, srv.URL+"/slow.m3u8")); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestOrigin_OpenSegment_streams_body(t *testing.T) {
	payload := []byte{0x47, 0x40, 0x00, 0x10}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	}))
	defer srv.Close()

	o := NewOrigin(srv.Client(), OriginConfig{}, nil, nil)
	seg, err := o.OpenSegment(context.Background(), mustParseURL(t, srv.URL+"/seg.ts"))
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	defer seg.Body.Close()

	got, _ := io.ReadAll(seg.Body)
	if string(got) != string(payload) {
		t.Errorf("body = %x", got)
	}
	if seg.Length != int64(len(payload)) {
		t.Errorf("length = %d", seg.Length)
	}
}

func TestOrigin_pacing_honours_context(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	o := NewOrigin(srv.Client(), OriginConfig{}, httpclient.NewHostLimiter(0.001, 1), nil)
	u := mustParseURL(t, srv.URL+"/seg.ts")

	seg, err := o.OpenSegment(context.Background(), u)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	seg.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := o.OpenSegment(ctx, u); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable while paced, got %v", err)
	}
}

func TestOrigin_FetchManifest_rejects_oversized(t *testing.T) {
	body := "#EXTM3U\n" + strings.Repeat("#EXT-X-PROGRAM-DATE-TIME:2024-01-01T00:00:00Z\n", maxManifestBytes/40) + "#EXT-X-ENDLIST\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	o := NewOrigin(srv.Client(), OriginConfig{}, nil, nil)
	got, _, err := o.FetchManifest(context.Background(), mustParseURL(t, srv.URL+"/big.m3u8"))
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable for %d-byte manifest, got err=%v len=%d", len(body), err, len(got))
	}
}

func TestOrigin_FetchManifest_at_size_limit(t *testing.T) {
	body := strings.Repeat("#", maxManifestBytes)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	o := NewOrigin(srv.Client(), OriginConfig{}, nil, nil)
	got, _, err := o.FetchManifest(context.Background(), mustParseURL(t, srv.URL+"/full.m3u8"))
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if len(got) != maxManifestBytes {
		t.Errorf("len = %d, want %d", len(got), maxManifestBytes)
	}
}

// newInternalServer stands in for a host outside the allow-list. It listens on
// loopback but is addressed as "localhost" so it has a distinct host name.
func newInternalServer(t *testing.T) (string, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("SECRET-INTERNAL"))
	}))
	t.Cleanup(srv.Close)
	return strings.Replace(srv.URL, "127.0.0.1", "localhost", 1), &hits
}

func TestOrigin_OpenSegment_redirect_outside_allow_list(t *testing.T) {
	internal, hits := newInternalServer(t)
	allowed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internal+"/admin.ts", http.StatusFound)
	}))
	defer allowed.Close()

	o := NewOrigin(allowed.Client(), OriginConfig{SegmentHosts: httpclient.NewAllowList([]string{"127.0.0.1"})}, nil, nil)
	seg, err := o.OpenSegment(context.Background(), mustParseURL(t, allowed.URL+"/seg.ts"))
	if err == nil {
		seg.Body.Close()
	}
	if !errors.Is(err, ErrBadRequest) {
		t.Errorf("expected ErrBadRequest, got %v", err)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("internal host contacted %d times", n)
	}
}

func TestOrigin_OpenSegment_redirect_within_allow_list(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/seg.ts", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/edge/seg.ts", http.StatusFound)
	})
	mux.HandleFunc("/edge/seg.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0x47})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := NewOrigin(srv.Client(), OriginConfig{SegmentHosts: httpclient.NewAllowList([]string{"127.0.0.1"})}, nil, nil)
	seg, err := o.OpenSegment(context.Background(), mustParseURL(t, srv.URL+"/seg.ts"))
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	seg.Body.Close()
}

func TestOrigin_manifest_redirects_unrestricted(t *testing.T) {
	internal, hits := newInternalServer(t)
	start := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internal+"/index.m3u8", http.StatusFound)
	}))
	defer start.Close()

	// Manifest origins come from the stream mapping, not from clients.
	o := NewOrigin(start.Client(), OriginConfig{SegmentHosts: httpclient.NewAllowList([]string{"127.0.0.1"})}, nil, nil)
	if _, _, err := o.FetchManifest(context.Background(), mustParseURL(t, start.URL+"/index.m3u8")); err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}
