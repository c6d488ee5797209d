package interceptors

import (
	"net/http"

	"github.com/rs/cors"
)

// NewCORS allows browser clients from origins to call the API with a bearer
// token.
func NewCORS(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		MaxAge:           600,
		AllowCredentials: false,
	})
	return c.Handler
}
