package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
)

type contextKey string

const ctxPrincipalKey contextKey = "principal_id"

// TokenValidator resolves a bearer token to a principal id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// Authenticate requires a valid Bearer token and stores the principal id in
// the request context. It runs before any rate limiting or billing.
func Authenticate(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				apperr.WriteHTTP(w, apperr.Unauthenticated("missing or malformed Authorization header"))
				return
			}
			id, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				apperr.WriteHTTP(w, apperr.Unauthenticated("invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipalID(r.Context(), id)))
		})
	}
}

// PrincipalIDFromCtx returns the authenticated principal, if any.
func PrincipalIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxPrincipalKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// WithPrincipalID returns a context carrying the given principal id.
func WithPrincipalID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, id)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
