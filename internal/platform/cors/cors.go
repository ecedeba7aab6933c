// Package cors configures cross-origin access for the gateway endpoints.
// Media players such as hls.js fetch playlists and segments cross-origin.
package cors

import (
	"net/http"
	"strings"

	chicors "github.com/go-chi/cors"
)

const preflightMaxAge = 300

// Middleware allows GET requests from the listed origins. A "*" entry (or an
// empty list) allows any origin. Trailing slashes on entries are ignored.
func Middleware(allowed []string) func(next http.Handler) http.Handler {
	origins := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSuffix(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return chicors.Handler(chicors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         preflightMaxAge,
	})
}
