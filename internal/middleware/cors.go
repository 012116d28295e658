package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS allows the configured frontend origins. An empty value or "*" allows
// any origin. Several origins may be given comma-separated.
func CORS(frontendURL string) func(http.Handler) http.Handler {
	origins := []string{"*"}
	if v := strings.TrimSpace(frontendURL); v != "" && v != "*" {
		origins = origins[:0]
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{"Retry-After", RequestIDHeader},
		MaxAge:         300,
	})
}
