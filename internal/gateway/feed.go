package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultFeedTTL is how long a decoded match feed is reused.
	DefaultFeedTTL = 5 * time.Minute

	// maxFeedAttempts caps fetch attempts per refresh across the primary
	// feed and its mirrors.
	maxFeedAttempts = 3

	maxFeedBytes = 8 << 20
)

// FeedResolver resolves matches through the external match-listing feed,
// using each entry's ad-free stream URL, or its DAI URL when there is none.
// Only HLS (.m3u8) URLs are mapped.
type FeedResolver struct {
	client    *http.Client
	urls      []string
	ttl       time.Duration
	userAgent string
	log       *slog.Logger
	now       func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	streams   map[MatchID]*url.URL
	fetchedAt time.Time
}

// NewFeedResolver returns a resolver reading the first of urls and falling
// back to the others as mirrors.
func NewFeedResolver(client *http.Client, urls []string, ttl time.Duration, userAgent string, log *slog.Logger) *FeedResolver {
	if ttl <= 0 {
		ttl = DefaultFeedTTL
	}
	return &FeedResolver{
		client:    client,
		urls:      urls,
		ttl:       ttl,
		userAgent: userAgent,
		log:       log,
		now:       time.Now,
	}
}

// Resolve implements StreamResolver. A feed that cannot be fetched yields
// ErrUpstreamUnavailable; a stale copy is never served.
func (r *FeedResolver) Resolve(ctx context.Context, id MatchID) (*url.URL, error) {
	streams, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *FeedResolver) snapshot(ctx context.Context) (map[MatchID]*url.URL, error) {
	r.mu.RLock()
	streams, fetchedAt := r.streams, r.fetchedAt
	r.mu.RUnlock()
	if streams != nil && r.now().Sub(fetchedAt) < r.ttl {
		return streams, nil
	}

	// Detached from the caller so one cancelled request does not fail
	// every waiter on the shared refresh; the client timeout still applies.
	v, err, _ := r.group.Do("feed", func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(map[MatchID]*url.URL), nil
}

func (r *FeedResolver) refresh(ctx context.Context) (map[MatchID]*url.URL, error) {
	if len(r.urls) == 0 {
		return nil, fmt.Errorf("%w: no match feed configured", ErrUpstreamUnavailable)
	}

	var lastErr error
	for attempt := 0; attempt < maxFeedAttempts; attempt++ {
		src := r.urls[attempt%len(r.urls)]
		feed, err := r.fetch(ctx, src)
		if err != nil {
			lastErr = err
			r.log.Warn("match feed fetch failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}

		streams := streamsFromFeed(feed)
		r.mu.Lock()
		r.streams = streams
		r.fetchedAt = r.now()
		r.mu.Unlock()

		r.log.Debug("match feed refreshed",
			slog.Int("matches", len(feed.Matches)),
			slog.Int("streams", len(streams)))
		return streams, nil
	}
	return nil, fmt.Errorf("%w: match feed: %v", ErrUpstreamUnavailable, lastErr)
}

func (r *FeedResolver) fetch(ctx context.Context, src string) (*MatchFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var feed MatchFeed
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedBytes)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &feed, nil
}

func streamsFromFeed(feed *MatchFeed) map[MatchID]*url.URL {
	streams := make(map[MatchID]*url.URL, len(feed.Matches))
	for _, m := range feed.Matches {
		if m.MatchID == "" {
			continue
		}
		u, err := parseHTTPURL(m.StreamURL())
		if err != nil || !strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") {
			continue
		}
		streams[MatchID(m.MatchID)] = u
	}
	return streams
}
