package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/crmport/internal/config"
	"github.com/JonMunkholm/crmport/internal/core"
)

// APIKeyAuth returns middleware that validates the X-API-Key header and puts
// the key's owner into the request context as the acting user.
//
// If RequireAPIKey is false, requests without a key pass through as
// defaultActor; a valid key still identifies its owner.
// If RequireAPIKey is true but no keys are configured, all requests are rejected.
func APIKeyAuth(cfg *config.SecurityConfig, defaultActor string) func(http.Handler) http.Handler {
	actors := cfg.APIKeyActors()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")

			if apiKey == "" {
				if cfg.RequireAPIKey {
					slog.Warn("auth: missing API key",
						"path", r.URL.Path,
						"method", r.Method,
						"remote_addr", r.RemoteAddr,
					)
					writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
					return
				}
				next.ServeHTTP(w, r.WithContext(core.ContextWithActor(r.Context(), defaultActor)))
				return
			}

			actor, ok := lookupAPIKey(apiKey, actors)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			next.ServeHTTP(w, r.WithContext(core.ContextWithActor(r.Context(), actor)))
		})
	}
}

// lookupAPIKey finds the owner of key. Every configured key is compared in
// constant time so the timing does not reveal which key matched.
func lookupAPIKey(key string, actors map[string]string) (string, bool) {
	var actor string
	found := 0
	for validKey, name := range actors {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			actor = name
			found = 1
		}
	}
	return actor, found == 1
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
