package middleware

import (
	"net/http"
	"strings"
	"time"

	"domstyle-sync-server/internal/service"
	"domstyle-sync-server/pkg/response"
	"domstyle-sync-server/pkg/token"
)

// TokenRelayMiddleware captures bearer tokens riding on API requests and
// deposits them for outbound backend calls. Requests without a bearer pass
// through untouched; endpoints needing a token fail later with an auth
// error if none was ever deposited.
func TokenRelayMiddleware(authService *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			raw := parts[1]
			if token.Expired(raw, time.Now()) {
				response.Unauthorized(w, "Token is expired")
				return
			}

			if err := authService.StoreToken(raw); err != nil {
				response.Unauthorized(w, err.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
