package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/transitx/transitx/internal/api/models"
	"github.com/transitx/transitx/internal/auth"
)

type claimsKey struct{}

// Auth requires a valid operator bearer token and stores its claims in the
// request context.
func Auth(tokens *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeProblem(w, r, models.KindUnauthorized, "missing or malformed bearer token")
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				detail := "invalid access token"
				if errors.Is(err, auth.ErrTokenExpired) {
					detail = "access token has expired"
				}
				writeProblem(w, r, models.KindUnauthorized, detail)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// RequireRole rejects authenticated callers without role with 403. It must
// run after Auth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				writeProblem(w, r, models.KindUnauthorized, "authentication required")
				return
			}
			if claims.Role != role {
				writeProblem(w, r, models.KindForbidden, "role "+role+" required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// GetClaims returns the validated token claims, or nil.
func GetClaims(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// GetSubject returns the authenticated operator, or "".
func GetSubject(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}
