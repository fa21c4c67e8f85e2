package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/jobchat/pkg/utils"
)

type userKey struct{}

// Authenticator resolves a token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID string, ok bool)
}

// StaticTokens is a fixed token to user id table.
type StaticTokens map[string]string

// Authenticate implements Authenticator.
func (s StaticTokens) Authenticate(_ context.Context, token string) (string, bool) {
	id, ok := s[token]
	return id, ok && id != ""
}

// TokenAuth rejects requests without a known token. The token is read from
// an "Authorization: Token x" header, or from the token query parameter for
// sockets that cannot set headers.
func TokenAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := RequestToken(r)
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "authentication credentials were not provided")
				return
			}
			userID, ok := auth.Authenticate(r.Context(), token)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// RequestToken extracts the caller's token, header first.
func RequestToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Token") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// WithUserID stores the authenticated user on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the authenticated user, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
