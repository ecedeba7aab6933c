package gateway

import (
	"context"
	"fmt"

	"stream-gateway/internal/platform/httpclient"
)

// Service is the access gateway: it issues tokens, serves rewritten
// playlists for verified requests and proxies segments.
type Service struct {
	tokens       *TokenService
	resolver     StreamResolver
	upstream     Upstream
	rewriter     *Rewriter
	allowedHosts *httpclient.AllowList
}

// NewService wires the gateway. allowedHosts restricts which hosts the
// segment proxy will contact; nil allows any http(s) host. The same list
// should be given to the Upstream so redirects are held to it too.
func NewService(tokens *TokenService, resolver StreamResolver, upstream Upstream, rewriter *Rewriter, allowedHosts *httpclient.AllowList) *Service {
	if rewriter == nil {
		rewriter = NewRewriter(nil, "")
	}
	return &Service{
		tokens:       tokens,
		resolver:     resolver,
		upstream:     upstream,
		rewriter:     rewriter,
		allowedHosts: allowedHosts,
	}
}

// IssueToken returns a fresh access token for matchID.
func (s *Service) IssueToken(matchID MatchID) (AccessToken, error) {
	return s.tokens.Issue(matchID)
}

// GetPlaylist verifies the token, resolves the match to its origin manifest,
// fetches it once and returns it with segment references rewritten.
// Nothing is resolved or fetched for a request that fails verification.
func (s *Service) GetPlaylist(ctx context.Context, matchID MatchID, token, expiry string) (string, error) {
	if err := s.tokens.Verify(matchID, token, expiry); err != nil {
		return "", err
	}

	origin, err := s.resolver.Resolve(ctx, matchID)
	if err != nil {
		return "", err
	}

	manifest, final, err := s.upstream.FetchManifest(ctx, origin)
	if err != nil {
		return "", err
	}
	return s.rewriter.Rewrite(manifest, final), nil
}

// FetchSegment opens the upstream segment at rawURL. The URL must be an
// absolute http(s) URL, as emitted by the rewriter.
func (s *Service) FetchSegment(ctx context.Context, rawURL string) (*Segment, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrBadRequest)
	}
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: url must be absolute http(s)", ErrBadRequest)
	}
	if !s.allowedHosts.Allows(u) {
		return nil, fmt.Errorf("%w: host %s not allowed", ErrBadRequest, u.Hostname())
	}
	return s.upstream.OpenSegment(ctx, u)
}
