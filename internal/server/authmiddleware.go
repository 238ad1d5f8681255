package server

import (
	"net/http"

	"github.com/modelcascade/cascade/internal/auth"
)

// AuthMiddleware rejects requests whose bearer key does not match a
// configured key hash. A nil authenticator disables the check.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator == nil {
				next.ServeHTTP(w, r)
				return
			}

			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			if _, err := authenticator.ValidateAPIKey(apiKey); err != nil {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
