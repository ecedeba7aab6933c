package gateway

import (
	"errors"
	"net/http"
)

var (
	// ErrBadRequest is returned for missing or malformed request parameters.
	ErrBadRequest = errors.New("bad request")

	// ErrMisconfigured is returned when no signing secret is configured.
	ErrMisconfigured = errors.New("signing secret not configured")

	// ErrExpired is returned when a token's expiry lies in the past,
	// whether or not its signature is valid.
	ErrExpired = errors.New("token expired")

	// ErrInvalidToken is returned when the signature does not match.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotFound is returned when no stream is mapped to a match.
	ErrNotFound = errors.New("match not found")

	// ErrUpstreamUnavailable is returned when an origin or feed fetch fails.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// StatusFor maps a gateway error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrExpired), errors.Is(err, ErrInvalidToken):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ReasonFor returns the machine-readable reason sent in error bodies.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrMisconfigured):
		return "misconfigured"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}
