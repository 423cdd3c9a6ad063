package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/store"
)

type contextKey string

const UserKey contextKey = "user"

// UserLookup is the slice of the record store the gate needs.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Authenticator resolves bearer credentials to users.
type Authenticator struct {
	tokens *Manager
	users  UserLookup
}

func NewAuthenticator(tokens *Manager, users UserLookup) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

func (a *Authenticator) Tokens() *Manager { return a.tokens }

// Authenticate fails with apperr.Unauthorized for a missing, invalid or
// expired token and for tokens whose user no longer exists. Lookup failures
// are apperr.Internal.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, apperr.New(apperr.Unauthorized, "No token, authorization denied")
	}
	claims, err := a.tokens.ValidateToken(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, "Token is not valid", err)
	}
	user, err := a.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) || apperr.Is(err, apperr.NotFound) {
		return nil, apperr.Wrap(apperr.Unauthorized, "Token is not valid", err)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load token user", err)
	}
	return user, nil
}

// TokenFromRequest reads "Authorization: Bearer <t>" and falls back to the
// ?token= query parameter, which browsers need for websocket handshakes.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
		return strings.TrimSpace(h)
	}
	return r.URL.Query().Get("token")
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Authenticate(r.Context(), TokenFromRequest(r))
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, UserKey, u)
}

func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(UserKey).(*model.User)
	return u, ok && u != nil
}

func writeAuthError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		logging.Error().Err(err).Msg("authentication lookup failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperr.PublicMessage(err)})
}
