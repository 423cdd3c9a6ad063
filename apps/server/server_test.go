package main

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatrelay/pkg/config"
	"github.com/mahaj/chatrelay/pkg/events"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/presence"
	"github.com/mahaj/chatrelay/pkg/store"
)

type testServer struct {
	t        *testing.T
	app      *app
	store    *store.Memory
	presence *presence.Memory
	handler  http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "server-test-secret-0123456789"
	cfg.Auth.BcryptCost = 4
	cfg.Server.UploadDir = t.TempDir()
	cfg.Server.MaxUploadBytes = 1 << 10
	cfg.RateLimit.AuthRequests = 0
	if mutate != nil {
		mutate(cfg)
	}

	st := store.NewMemory()
	p := presence.NewMemory()
	a, err := newApp(cfg, &deps{store: st, presence: p, publisher: events.Nop{}})
	require.NoError(t, err)
	require.NoError(t, a.svc.Bootstrap(context.Background()))
	return &testServer{t: t, app: a, store: st, presence: p, handler: a.routes()}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type authBody struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    model.User `json:"user"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *testServer) register(name string) authBody {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "secret123",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[authBody](s.t, rec)
}

func (s *testServer) channelByName(name string) *model.Channel {
	s.t.Helper()
	c, err := s.store.GetChannelByName(context.Background(), name)
	require.NoError(s.t, err)
	return c
}

func TestRegisterEnrollsIntoGeneral(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register("alice")
	assert.Equal(t, "User created successfully", alice.Message)
	assert.NotEmpty(t, alice.Token)
	assert.Equal(t, "alice", alice.User.Username)
	assert.NotContains(t, s.do(http.MethodGet, "/api/auth/me", alice.Token, nil).Body.String(), "$2a$")

	rec := s.do(http.MethodGet, "/api/channels", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Channels []model.ChannelView `json:"channels"`
	}](t, rec)
	require.Len(t, body.Channels, 4)

	var general *model.ChannelView
	for i := range body.Channels {
		if body.Channels[i].Name == "general" {
			general = &body.Channels[i]
		}
	}
	require.NotNil(t, general)
	assert.Equal(t, "system", general.CreatedBy.Username)
	var names []string
	for _, m := range general.Members {
		names = append(names, m.User.Username)
	}
	assert.Contains(t, names, "alice")
}

func TestRegisterConflictAndLogin(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("alice")

	rec := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User with this email or username already exists", decodeBody[errorBody](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid credentials", decodeBody[errorBody](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "alice@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[authBody](t, rec)
	assert.Equal(t, "Login successful", login.Message)
	assert.True(t, login.User.IsOnline)

	rec = s.do(http.MethodPost, "/api/auth/logout", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u, err := s.store.GetUser(context.Background(), login.User.ID)
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/channels", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No token, authorization denied", decodeBody[errorBody](t, rec).Error)

	rec = s.do(http.MethodGet, "/api/channels", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token is not valid", decodeBody[errorBody](t, rec).Error)
}

func TestChannelLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register("alice")
	bob := s.register("bob")

	rec := s.do(http.MethodPost, "/api/channels", alice.Token, map[string]any{"name": "gophers", "description": "Go talk"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[struct {
		Channel model.ChannelView `json:"channel"`
	}](t, rec).Channel
	require.Len(t, created.Members, 1)
	assert.Equal(t, "alice", created.Members[0].User.Username)
	assert.Equal(t, model.RoleAdmin, created.Members[0].Role)

	rec = s.do(http.MethodPost, "/api/channels", bob.Token, map[string]any{"name": "gophers"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Channel name already exists", decodeBody[errorBody](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/channels", bob.Token, map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	join := "/api/channels/" + created.ID + "/join"
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, join, bob.Token, nil).Code)
	rec = s.do(http.MethodPost, join, bob.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Already a member of this channel", decodeBody[errorBody](t, rec).Error)
	assert.Len(t, s.channelByName("gophers").Members, 2)

	leave := "/api/channels/" + created.ID + "/leave"
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, leave, bob.Token, nil).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, leave, bob.Token, nil).Code)
	assert.Len(t, s.channelByName("gophers").Members, 1)

	rec = s.do(http.MethodPost, "/api/channels/not-a-channel/join", bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Channel not found", decodeBody[errorBody](t, rec).Error)
}

func TestPostMessageUsesStrictPolicyByDefault(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register("alice")
	bob := s.register("bob")

	rec := s.do(http.MethodPost, "/api/channels", alice.Token, map[string]any{"name": "gophers"})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := s.channelByName("gophers")

	rec = s.do(http.MethodPost, "/api/messages", bob.Token, map[string]string{"channelId": c.ID, "content": "hello"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not a member of this channel", decodeBody[errorBody](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/messages", alice.Token, map[string]string{"channelId": c.ID, "content": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decodeBody[struct {
		Message string            `json:"message"`
		Data    model.MessageView `json:"data"`
	}](t, rec)
	assert.Equal(t, "Message sent successfully", sent.Message)
	assert.Equal(t, "alice", sent.Data.User.Username)
	assert.EqualValues(t, 1, s.channelByName("gophers").MessageCount)

	rec = s.do(http.MethodPost, "/api/messages", alice.Token, map[string]string{"channelId": "4d1c55b2-0b8e-4d0f-9f8c-0f9f4d2a6a11", "content": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageAutoEnrollWhenEnabled(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Chat.HTTPAutoEnroll = true })
	alice := s.register("alice")
	bob := s.register("bob")

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/channels", alice.Token, map[string]any{"name": "gophers"}).Code)
	c := s.channelByName("gophers")

	rec := s.do(http.MethodPost, "/api/messages", bob.Token, map[string]string{"channelId": c.ID, "content": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, s.channelByName("gophers").Members, 2)
}

func TestHistoryAndReactions(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register("alice")
	general := s.channelByName("general")

	for _, text := range []string{"one", "two", "three"} {
		rec := s.do(http.MethodPost, "/api/messages", alice.Token, map[string]string{"channelId": general.ID, "content": text})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/channels/"+general.ID+"/messages", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[struct {
		Messages []model.MessageView `json:"messages"`
	}](t, rec).Messages
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)

	react := "/api/messages/" + strconv.FormatInt(history[0].ID, 10) + "/react"
	rec = s.do(http.MethodPost, react, alice.Token, map[string]string{"emoji": "👍"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reactions := decodeBody[struct {
		Reactions []model.Reaction `json:"reactions"`
	}](t, rec).Reactions
	assert.Equal(t, []model.Reaction{{Emoji: "👍", Users: []string{alice.User.ID}}}, reactions)

	rec = s.do(http.MethodPost, react, alice.Token, map[string]string{"emoji": "👍"})
	require.Equal(t, http.StatusOK, rec.Code)
	reactions = decodeBody[struct {
		Reactions []model.Reaction `json:"reactions"`
	}](t, rec).Reactions
	assert.Empty(t, reactions)

	rec = s.do(http.MethodPost, "/api/messages/12345/react", alice.Token, map[string]string{"emoji": "👍"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Message not found", decodeBody[errorBody](t, rec).Error)
}

func TestUnreadCounters(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register("alice")
	bob := s.register("bob")
	general := s.channelByName("general")

	ctx := context.Background()
	require.NoError(t, s.app.svc.CountUnread(ctx, events.Event{
		Type: events.TypeMessageCreated, ChannelID: general.ID, MessageID: 1, UserID: alice.User.ID,
	}))

	rec := s.do(http.MethodGet, "/api/unread", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unread := decodeBody[struct {
		Unread []model.UnreadCount `json:"unread"`
	}](t, rec).Unread
	assert.Equal(t, []model.UnreadCount{{ChannelID: general.ID, Count: 1}}, unread)

	rec = s.do(http.MethodGet, "/api/unread", alice.Token, nil)
	assert.JSONEq(t, `{"unread":[]}`, rec.Body.String())

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/channels/"+general.ID+"/read", bob.Token, nil).Code)
	rec = s.do(http.MethodGet, "/api/unread", bob.Token, nil)
	assert.JSONEq(t, `{"unread":[]}`, rec.Body.String())
}

func TestChannelUsersFromPresence(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register("alice")
	general := s.channelByName("general")
	require.NoError(t, s.presence.Add(context.Background(), general.ID, alice.User.ID))

	rec := s.do(http.MethodGet, "/api/channels/"+general.ID+"/users", alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		ChannelID string             `json:"channelId"`
		Users     []model.MemberUser `json:"users"`
	}](t, rec)
	assert.Equal(t, general.ID, body.ChannelID)
	require.Len(t, body.Users, 1)
	assert.Equal(t, "alice", body.Users[0].Username)
}

func TestUploadFile(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.register("alice")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("hello"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody[struct {
		File struct {
			URL          string `json:"url"`
			OriginalName string `json:"originalName"`
			Size         int64  `json:"size"`
		} `json:"file"`
	}](t, rec)
	assert.Equal(t, "notes.txt", body.File.OriginalName)
	assert.EqualValues(t, 5, body.File.Size)

	rec = s.do(http.MethodGet, body.File.URL, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/upload/file", nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file uploaded", decodeBody[errorBody](t, rec).Error)
}

func TestAskAssistant(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"pong","done":true}`))
	}))
	defer ollama.Close()

	disabled := newTestServer(t, nil)
	tok := disabled.register("alice").Token
	rec := disabled.do(http.MethodPost, "/api/ai/ask", tok, map[string]string{"prompt": "ping"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s := newTestServer(t, func(c *config.Config) {
		c.AI.Enabled = true
		c.AI.URL = ollama.URL
	})
	tok = s.register("alice").Token

	rec = s.do(http.MethodPost, "/api/ai/ask", tok, map[string]string{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Prompt is required", decodeBody[errorBody](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/ai/ask", tok, map[string]string{"prompt": "ping"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"pong"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["connections"])
}
