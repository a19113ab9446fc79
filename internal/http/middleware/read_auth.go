package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/whatsapp-leads/internal/http/respond"
)

type contextKey string

const readClaimsKey contextKey = "readAPIClaims"

// ReadAPIJWT requires an HMAC-signed bearer token on the read API. An empty
// secret disables the check.
func ReadAPIJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(tokenString) == "" {
				respond.Error(w, http.StatusUnauthorized, respond.CodeAuthFailed, "missing bearer token")
				return
			}
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				respond.Error(w, http.StatusUnauthorized, respond.CodeAuthFailed, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), readClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ReadClaimsFromContext returns the caller's JWT claims if the request was
// authenticated.
func ReadClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(readClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
