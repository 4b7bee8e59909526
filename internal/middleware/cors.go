// Package middleware provides HTTP middleware for the chat bridge.
package middleware

import (
	"net/http"
	"slices"

	"github.com/ashureev/conceptlab-chat/internal/identity"
	"github.com/go-chi/cors"
)

// CORS returns middleware that lets the page shell call the bridge. An empty
// list allows any origin. Credentials are only allowed for explicit origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wildcard := slices.Contains(origins, "*")

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", identity.SessionHeaderName},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
