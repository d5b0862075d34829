package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/auth"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/pkg/api"
)

// AdminKey requires the X-Admin-Key header to match the configured key
// hash. An empty hash disables the check, for deployments where the admin
// surface is reachable only over an internal network.
func AdminKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if keyHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Verify(r.Header.Get("X-Admin-Key"), keyHash) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "invalid or missing admin key",
					Code:  "401",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
