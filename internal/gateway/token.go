package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 5 * time.Minute

// TokenService issues and verifies HMAC-SHA256 access tokens bound to a match.
// The signed message is the match ID immediately followed by the decimal
// expiry in epoch milliseconds.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService returns a TokenService signing with secret. An empty secret
// is accepted so the failure surfaces as ErrMisconfigured per call.
// If ttl <= 0, DefaultTokenTTL is used.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: secret, ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue returns a token for matchID expiring TTL from now.
func (s *TokenService) Issue(matchID MatchID) (AccessToken, error) {
	if matchID == "" {
		return AccessToken{}, fmt.Errorf("%w: match_id is required", ErrBadRequest)
	}
	if len(s.secret) == 0 {
		return AccessToken{}, ErrMisconfigured
	}

	expiry := s.now().UnixMilli() + s.ttl.Milliseconds()
	return AccessToken{
		MatchID: matchID,
		Token:   s.sign(matchID, strconv.FormatInt(expiry, 10)),
		Expiry:  expiry,
	}, nil
}

// Verify checks a token presented with its match ID and expiry as received
// from the client. Expiry is checked before the signature, so an expired
// token reports ErrExpired even when correctly signed. The signature covers
// the expiry text exactly as given.
func (s *TokenService) Verify(matchID MatchID, token, expiry string) error {
	if matchID == "" || token == "" || expiry == "" {
		return fmt.Errorf("%w: match_id, token and expiry are required", ErrBadRequest)
	}
	expiresAt, err := strconv.ParseInt(expiry, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: expiry must be an integer", ErrBadRequest)
	}
	if len(s.secret) == 0 {
		return ErrMisconfigured
	}

	if s.now().UnixMilli() > expiresAt {
		return ErrExpired
	}

	expected := s.sign(matchID, expiry)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrInvalidToken
	}
	return nil
}

func (s *TokenService) sign(matchID MatchID, expiry string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(matchID))
	mac.Write([]byte(expiry))
	return hex.EncodeToString(mac.Sum(nil))
}
