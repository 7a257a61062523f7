package daemon

import (
	"net/http"
	"strings"
)

// APIKeyMiddleware guards /v1/ routes behind an opaque key. The key is
// accepted either as a bearer token or, for websocket clients that cannot
// set headers, as an api_key query parameter.
func APIKeyMiddleware(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		if requestAPIKey(r) != key {
			writeError(w, http.StatusUnauthorized, ServiceErrorUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestAPIKey(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}
