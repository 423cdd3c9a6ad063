package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/store"
)

const secret = "test-secret-0123456789"

type userMap map[string]*model.User

func (m userMap) GetUser(_ context.Context, id string) (*model.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, apperr.New(apperr.NotFound, "User not found")
}

type brokenLookup struct{}

func (brokenLookup) GetUser(context.Context, string) (*model.User, error) {
	return nil, errors.New("no hosts available")
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager(secret, time.Hour)

	token, err := m.GenerateToken("u1")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1", claims.Subject)
}

func TestValidateTokenRejects(t *testing.T) {
	m := NewManager(secret, time.Hour)
	other := NewManager("another-secret-9876543210", time.Hour)

	foreign, err := other.GenerateToken("u1")
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewManager(secret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.GenerateToken("u1")
	require.NoError(t, err)
	_, err = m.ValidateToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = m.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter22", 4)
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r))
}

func TestAuthenticate(t *testing.T) {
	m := NewManager(secret, time.Hour)
	alice := &model.User{ID: "u1", Username: "alice"}
	a := NewAuthenticator(m, userMap{"u1": alice})

	_, err := a.Authenticate(context.Background(), "")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	ghost, _ := m.GenerateToken("u2")
	_, err = a.Authenticate(context.Background(), ghost)
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	tok, _ := m.GenerateToken("u1")
	u, err := a.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Same(t, alice, u)

	_, err = NewAuthenticator(m, store.NewMemory()).Authenticate(context.Background(), tok)
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}

func TestAuthenticateLookupFailureIsInternal(t *testing.T) {
	m := NewManager(secret, time.Hour)
	a := NewAuthenticator(m, brokenLookup{})
	tok, _ := m.GenerateToken("u1")

	_, err := a.Authenticate(context.Background(), tok)
	assert.True(t, apperr.Is(err, apperr.Internal))

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Server error"}`, rec.Body.String())
}

func TestMiddleware(t *testing.T) {
	m := NewManager(secret, time.Hour)
	a := NewAuthenticator(m, userMap{"u1": {ID: "u1", Username: "alice"}})

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(u.Username))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"No token, authorization denied"}`, rec.Body.String())

	tok, _ := m.GenerateToken("u1")
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}
