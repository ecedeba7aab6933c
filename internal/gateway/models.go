package gateway

import (
	"encoding/json"
	"io"
	"strings"
)

// MatchID identifies a match in the listing feed and binds an access token.
type MatchID string

// AccessToken is the self-describing bearer capability returned by /token.
// Nothing about it is stored server side; Verify re-derives the signature.
type AccessToken struct {
	MatchID MatchID `json:"-"`
	Token   string  `json:"token"`  // lowercase hex HMAC-SHA256
	Expiry  int64   `json:"expiry"` // epoch milliseconds
}

// Segment is an open upstream media segment. Length is -1 when the origin
// did not announce one.
type Segment struct {
	Body   io.ReadCloser
	Length int64
}

// MatchFeed is the external match-listing document.
type MatchFeed struct {
	Matches []Match `json:"matches"`
}

// Match is one feed entry. Only the ID and stream URLs matter to the gateway;
// the rest is decoded for completeness and tolerated when missing.
type Match struct {
	MatchID       FeedID `json:"match_id"`
	Title         string `json:"title"`
	Team1         string `json:"team_1"`
	Team2         string `json:"team_2"`
	EventName     string `json:"event_name"`
	EventCategory string `json:"event_category"`
	Status        string `json:"status"`
	StartTime     string `json:"startTime"`
	Src           string `json:"src"`
	AdfreeURL     string `json:"adfree_url"`
	DaiURL        string `json:"dai_url"`
}

// StreamURL prefers the ad-free stream and falls back to the DAI one.
func (m Match) StreamURL() string {
	if u := strings.TrimSpace(m.AdfreeURL); u != "" {
		return u
	}
	return strings.TrimSpace(m.DaiURL)
}

// FeedID accepts match_id as either a JSON string or a JSON number.
type FeedID string

// UnmarshalJSON implements json.Unmarshaler. Numbers keep their literal
// text, so 140317 and "140317" decode to the same ID; null decodes to "".
func (id *FeedID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FeedID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = FeedID(n.String())
	return nil
}
