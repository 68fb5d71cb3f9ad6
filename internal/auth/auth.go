package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shareloft/shareloft/internal/config"
)

type contextKey struct{}

var userKey contextKey

// UserID returns the authenticated caller id placed by Middleware, or empty
// on anonymous paths.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userKey).(string); ok {
		return id
	}
	return ""
}

// Middleware validates the bearer token and hands the verified subject to
// downstream handlers. The engine itself never inspects tokens.
func Middleware(cnf *config.JWTConfig) func(http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cnf.Secret), nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing auth token", http.StatusUnauthorized)
				return
			}
			claims := &jwt.RegisteredClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, keyFunc)
			if err != nil || !parsed.Valid || claims.Subject == "" {
				http.Error(w, "invalid auth token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
