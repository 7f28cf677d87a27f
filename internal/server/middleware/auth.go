package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the operator API with a single static key, presented either as
// "Authorization: Bearer <key>" or in the X-API-Key header. An empty
// configured key disables the check, the default for local runs.
func Auth(apiKey string) func(http.Handler) http.Handler {
	secret := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			presented := requestKey(r)
			if presented == "" {
				reject(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), secret) != 1 {
				reject(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestKey pulls the presented key out of the request, preferring the
// Authorization header over X-API-Key.
func requestKey(r *http.Request) string {
	if scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func reject(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
