package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/consult-escrow/internal/reqctx"
)

// Authenticate enforces an HMAC-signed JWT and stores its subject as the
// caller's user id, together with the raw token, in the request context.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			subject := strings.TrimSpace(claims.Subject)
			if subject == "" {
				http.Error(w, "token has no subject", http.StatusUnauthorized)
				return
			}
			ctx := reqctx.WithUserID(r.Context(), subject)
			ctx = reqctx.WithToken(ctx, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header, falling back to the access_token
// query parameter for websocket upgrades where browsers cannot set headers.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		tok := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		return tok, tok != ""
	}
	if auth == "" && r.Header.Get("Upgrade") != "" {
		tok := strings.TrimSpace(r.URL.Query().Get("access_token"))
		return tok, tok != ""
	}
	return "", false
}
