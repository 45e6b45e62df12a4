package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go-auth-service/internal/model"
)

const (
	msgMissingHeader = "missing or invalid authorization header"
	msgInvalidToken  = "invalid or expired token"
	msgAccessDenied  = "access denied"
)

type tokenValidator interface {
	ValidateAccessToken(token string) (*model.AuthClaims, error)
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

// AuthMiddleware is the authorization gate in front of protected routes.
type AuthMiddleware struct {
	validator tokenValidator
}

func NewAuthMiddleware(validator tokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth admits any request bearing a valid access token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return m.Require()(next)
}

// RequireRoles checks claims already placed in the context by RequireAuth.
func (m *AuthMiddleware) RequireRoles(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgMissingHeader)
				return
			}
			if !model.RoleAllowed(claims.Role, allowed) {
				slog.Warn("access denied", "user_id", claims.UserID, "role", claims.Role, "path", r.URL.Path)
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN", msgAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require authenticates and authorizes in one step. With no roles any
// authenticated principal passes; admin always passes.
func (m *AuthMiddleware) Require(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgMissingHeader)
				return
			}

			claims, err := m.validator.ValidateAccessToken(token)
			if err != nil {
				slog.Debug("access token rejected", "reason", decodeFailureKind(err), "path", r.URL.Path)
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", msgInvalidToken)
				return
			}

			if !model.RoleAllowed(claims.Role, allowed) {
				slog.Warn("access denied", "user_id", claims.UserID, "role", claims.Role, "path", r.URL.Path)
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN", msgAccessDenied)
				return
			}

			ctx := context.WithValue(r.Context(), authClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*model.AuthClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*model.AuthClaims)
	return claims, ok && claims != nil
}

// bearerToken extracts the token from "Bearer <token>". The scheme is case
// insensitive; anything else, including an empty token, is rejected.
func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

func decodeFailureKind(err error) string {
	switch {
	case errors.Is(err, model.ErrTokenExpired):
		return "expired"
	case errors.Is(err, model.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, model.ErrTokenMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}

func writeAuthError(w http.ResponseWriter, status int, code string, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    code,
			Message: message,
		},
	})
}
