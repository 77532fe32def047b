package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"go-foodie/internal/apperr"
	"go-foodie/internal/response"

	"github.com/google/uuid"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// TokenValidator decouples the middleware from the user package.
type TokenValidator interface {
	ValidateToken(tokenString string) (uuid.UUID, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle rejects the request before any data access unless it carries a valid bearer credential.
// The token may also come from the ?token= query parameter, which browsers need for websockets.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r.Header.Get("Authorization"))
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			response.Error(w, nil, apperr.Unauthorized("missing authentication token", nil))
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			response.Error(w, nil, apperr.Unauthorized("invalid token", err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, username)))
	})
}

func bearerToken(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func WithUser(ctx context.Context, userID uuid.UUID, username string) context.Context {
	ctx = context.WithValue(ctx, UserKey, userID)
	return context.WithValue(ctx, UsernameKey, username)
}

// UserFromContext returns the caller injected by Handle.
func UserFromContext(ctx context.Context) (uuid.UUID, string, bool) {
	userID, ok := ctx.Value(UserKey).(uuid.UUID)
	username, ok2 := ctx.Value(UsernameKey).(string)
	if !ok || !ok2 || userID == uuid.Nil {
		return uuid.Nil, "", false
	}
	return userID, username, true
}
