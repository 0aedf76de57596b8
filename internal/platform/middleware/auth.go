package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"umoja/pkg/domain"
	dErrors "umoja/pkg/domain-errors"
	"umoja/pkg/platform/httputil"
	"umoja/pkg/requestcontext"
)

// JWTValidator checks a bearer token and returns its claims.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

type JWTClaims struct {
	// Subject is the acting principal: a member id or the system principal.
	Subject string
	TokenID string
}

// RequireAuth resolves the bearer token to the acting principal. Every
// command is attributed to that principal, so anonymous calls are refused.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(reason string, desc string, err error) {
				logger.WarnContext(ctx, "unauthorized request",
					"reason", reason,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, desc))
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				reject("missing token", "missing or invalid Authorization header", nil)
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				reject("invalid token", "invalid or expired token", err)
				return
			}
			actor, err := domain.ParseUserID(claims.Subject)
			if err != nil {
				reject("invalid subject", "invalid or expired token", err)
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithActorID(ctx, actor)))
		})
	}
}
