package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/rs/zerolog/log"
)

// TokenResolver maps an API token to a user id.
type TokenResolver interface {
	Lookup(ctx context.Context, token string) (string, error)
}

type ctxKey struct{}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// bearerToken parses "Authorization: Token|Bearer|JWT <token>".
func bearerToken(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok {
		return "", false
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer", "jwt":
	default:
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate rejects requests without a resolvable token before any
// handler runs.
func Authenticate(tokens TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, orders.ErrAuthenticationRequired)
				return
			}
			userID, err := tokens.Lookup(r.Context(), token)
			switch {
			case errors.Is(err, redisx.ErrUnknownToken), err == nil && userID == "":
				writeError(w, orders.ErrAuthenticationRequired)
				return
			case err != nil:
				log.Error().Err(err).Msg("httpx: token lookup failed")
				writeError(w, fmt.Errorf("%w: %w", orders.ErrPersistence, err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
