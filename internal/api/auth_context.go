package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/tagvoteapp/tagvote-server/internal/auth"
	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

// ctxKey is the type for context keys to avoid collisions.
type ctxKey string

// userIDKey is the context key for the authenticated user ID.
const userIDKey ctxKey = "userID"

// GetUserID returns the authenticated user ID from context, or "" for anonymous requests.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// setUserID stores the user ID in context.
func setUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// authMiddleware returns a middleware that validates Bearer tokens and stores user ID in context.
// If no token is present or invalid, continues without user in context.
// Handlers that need a caller reject anonymous requests in the service layer.
func authMiddleware(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.VerifyAccessToken(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(setUserID(r.Context(), claims.UserID)))
		})
	}
}

// caller resolves the authenticated user into a Caller. Moderator status is
// read from the store on every request so revocations apply immediately.
// Anonymous requests yield a nil Caller and no error.
func (s *Server) caller(ctx context.Context) (*domain.Caller, error) {
	userID := GetUserID(ctx)
	if userID == "" {
		return nil, nil
	}
	return s.services.Users.ResolveCaller(ctx, userID)
}

// resolveStreamCaller adapts caller for the SSE handler.
func (s *Server) resolveStreamCaller(r *http.Request) (*domain.Caller, error) {
	return s.caller(r.Context())
}
