package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// StreamResolver maps a match to its origin manifest URL. Implementations
// return ErrNotFound for unmapped matches; the gateway never exposes the
// returned URL to clients.
type StreamResolver interface {
	Resolve(ctx context.Context, id MatchID) (*url.URL, error)
}

// StaticResolver is a fixed, read-only lookup table.
type StaticResolver struct {
	streams map[MatchID]*url.URL
}

// NewStaticResolver validates every entry as an absolute http(s) URL.
func NewStaticResolver(streams map[MatchID]string) (*StaticResolver, error) {
	r := &StaticResolver{streams: make(map[MatchID]*url.URL, len(streams))}
	for id, raw := range streams {
		if id == "" {
			return nil, errors.New("stream map: empty match id")
		}
		u, err := parseHTTPURL(raw)
		if err != nil {
			return nil, fmt.Errorf("stream map: match %q: %w", id, err)
		}
		r.streams[id] = u
	}
	return r, nil
}

// streamMapFile is the on-disk layout read by LoadStaticResolver:
//
//	streams:
//	  "12345": https://origin.example/live/12345/index.m3u8
type streamMapFile struct {
	Streams map[string]string `yaml:"streams"`
}

// LoadStaticResolver reads a YAML stream map from path.
func LoadStaticResolver(path string) (*StaticResolver, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stream map: %w", err)
	}
	var f streamMapFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("stream map %s: %w", path, err)
	}
	streams := make(map[MatchID]string, len(f.Streams))
	for id, u := range f.Streams {
		streams[MatchID(id)] = u
	}
	return NewStaticResolver(streams)
}

// Resolve implements StreamResolver.
func (r *StaticResolver) Resolve(_ context.Context, id MatchID) (*url.URL, error) {
	u, ok := r.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Len returns the number of mapped matches.
func (r *StaticResolver) Len() int {
	return len(r.streams)
}

// MatchIDPlaceholder is substituted by TemplateResolver.
const MatchIDPlaceholder = "{match_id}"

var templateSafeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TemplateResolver derives the origin URL from a template such as
// "https://origin.example/live/{match_id}/index.m3u8". Only IDs made of
// letters, digits, '-' and '_' are substituted; anything else is unmapped.
type TemplateResolver struct {
	template string
}

// NewTemplateResolver checks that tmpl carries the placeholder and yields an
// absolute http(s) URL.
func NewTemplateResolver(tmpl string) (*TemplateResolver, error) {
	if !strings.Contains(tmpl, MatchIDPlaceholder) {
		return nil, fmt.Errorf("stream template %q: missing %s", tmpl, MatchIDPlaceholder)
	}
	if _, err := parseHTTPURL(strings.ReplaceAll(tmpl, MatchIDPlaceholder, "probe")); err != nil {
		return nil, fmt.Errorf("stream template: %w", err)
	}
	return &TemplateResolver{template: tmpl}, nil
}

// Resolve implements StreamResolver.
func (r *TemplateResolver) Resolve(_ context.Context, id MatchID) (*url.URL, error) {
	if !templateSafeID.MatchString(string(id)) {
		return nil, ErrNotFound
	}
	u, err := parseHTTPURL(strings.ReplaceAll(r.template, MatchIDPlaceholder, string(id)))
	if err != nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// ChainResolver consults resolvers in order. The first hit wins; an error
// other than ErrNotFound stops the chain.
type ChainResolver []StreamResolver

// Resolve implements StreamResolver.
func (c ChainResolver) Resolve(ctx context.Context, id MatchID) (*url.URL, error) {
	for _, r := range c {
		u, err := r.Resolve(ctx, id)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// parseHTTPURL accepts only absolute http and https URLs with a host.
func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q: missing host", raw)
	}
	return u, nil
}
