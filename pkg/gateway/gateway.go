package gateway

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/auth"
	"github.com/mahaj/chatrelay/pkg/chat"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/metrics"
	"github.com/mahaj/chatrelay/pkg/model"
)

// Service is what the gateway needs from the chat service.
type Service interface {
	RoomAccess(ctx context.Context, channelID, userID string) (*model.Channel, error)
	UserChannels(ctx context.Context, userID string) ([]*model.Channel, error)
	SendMessage(ctx context.Context, in chat.SendInput, author *model.User, policy chat.Policy) (*model.MessageView, error)
	ToggleReaction(ctx context.Context, messageID int64, emoji string, user *model.User) ([]model.Reaction, error)
	SetOnline(ctx context.Context, userID string, online bool) error
}

type Options struct {
	// Policy applies to sends over the socket. Defaults to chat.AutoEnroll.
	Policy         chat.Policy
	SendBuffer     int
	AllowedOrigins []string
	// EventTimeout bounds store work done for one inbound event.
	EventTimeout time.Duration
}

type Gateway struct {
	hub      *Hub
	svc      Service
	auth     *auth.Authenticator
	upgrader websocket.Upgrader
	policy   chat.Policy
	buffer   int
	timeout  time.Duration
}

func New(hub *Hub, svc Service, authn *auth.Authenticator, opts Options) *Gateway {
	if opts.Policy.Name == "" {
		opts.Policy = chat.AutoEnroll
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 10 * time.Second
	}
	return &Gateway{
		hub:  hub,
		svc:  svc,
		auth: authn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		policy:  opts.Policy,
		buffer:  opts.SendBuffer,
		timeout: opts.EventTimeout,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP authenticates the handshake, upgrades, and joins the connection
// to the rooms of every channel the user belongs to.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := g.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		if apperr.Is(err, apperr.Internal) {
			logging.Error().Err(err).Str("remote", r.RemoteAddr).Msg("websocket handshake failed")
			http.Error(w, "Server error", http.StatusInternalServerError)
			return
		}
		logging.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket handshake rejected")
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(g.hub, conn, user, g.buffer)
	g.hub.Register(c)
	g.connected(c)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go c.writePump()
	go func() {
		c.readPump(g.handle)
		g.disconnected(c)
	}()
}

func (g *Gateway) connected(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	if err := g.svc.SetOnline(ctx, c.user.ID, true); err != nil {
		logging.Warn().Err(err).Str("user", c.user.Username).Msg("failed to mark user online")
	}
	chans, err := g.svc.UserChannels(ctx, c.user.ID)
	if err != nil {
		logging.Error().Err(err).Str("user", c.user.Username).Msg("failed to load user channels")
		return
	}
	for _, ch := range chans {
		g.hub.JoinRoom(c, ch.ID)
	}
	logging.Info().Str("user", c.user.Username).Int("rooms", len(chans)).Msg("user connected")
}

func (g *Gateway) disconnected(c *Client) {
	d := g.hub.Unregister(c)
	if !d.LastConnection {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	if err := g.svc.SetOnline(ctx, c.user.ID, false); err != nil {
		logging.Warn().Err(err).Str("user", c.user.Username).Msg("failed to mark user offline")
	}
	logging.Info().Str("user", c.user.Username).Msg("user disconnected")
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type channelRef struct {
	ChannelID string `json:"channelId"`
}

type reactionInput struct {
	MessageID json.RawMessage `json:"messageId"`
	Emoji     string          `json:"emoji"`
}

func (g *Gateway) handle(c *Client, frame []byte) {
	var in inbound
	if err := json.Unmarshal(bytes.TrimSpace(frame), &in); err != nil || in.Event == "" {
		g.fail(c, apperr.New(apperr.Validation, "Malformed event"), "")
		return
	}
	metrics.RealtimeEvents.WithLabelValues(eventLabel(in.Event)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	switch in.Event {
	case model.EventJoinChannel:
		g.joinChannel(ctx, c, channelID(in.Data))
	case model.EventLeaveChannel:
		g.leaveChannel(c, channelID(in.Data))
	case model.EventSendMessage:
		g.sendMessage(ctx, c, in.Data)
	case model.EventTypingStart:
		g.typing(c, channelID(in.Data), true)
	case model.EventTypingStop:
		g.typing(c, channelID(in.Data), false)
	case model.EventAddReaction:
		g.addReaction(ctx, c, in.Data)
	default:
		g.fail(c, apperr.New(apperr.Validation, "Unknown event"), "")
	}
}

func eventLabel(name string) string {
	switch name {
	case model.EventJoinChannel, model.EventLeaveChannel, model.EventSendMessage,
		model.EventTypingStart, model.EventTypingStop, model.EventAddReaction:
		return name
	}
	return "unknown"
}

// channelID accepts a bare string id or {"channelId": id}.
func channelID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var ref channelRef
	if err := json.Unmarshal(raw, &ref); err == nil {
		return strings.TrimSpace(ref.ChannelID)
	}
	return ""
}

// fail reports err to the originating connection only. Internal causes are
// logged and replaced by fallback.
func (g *Gateway) fail(c *Client, err error, fallback string) {
	msg := apperr.PublicMessage(err)
	if apperr.KindOf(err) == apperr.Internal {
		logging.Error().Err(err).Str("user", c.user.Username).Msg("realtime event failed")
		if fallback != "" {
			msg = fallback
		}
	}
	g.hub.Emit(c, model.EventError, model.ErrorNotice{Message: msg})
}

func (g *Gateway) joinChannel(ctx context.Context, c *Client, id string) {
	ch, err := g.svc.RoomAccess(ctx, id, c.user.ID)
	if err != nil {
		g.fail(c, err, "Failed to join channel")
		return
	}
	n := g.hub.JoinRoom(c, ch.ID)
	g.hub.broadcastExcept(ch.ID, model.EventUserJoined, model.PresenceNotice{
		User:    c.user.Username,
		Message: c.user.Username + " joined the channel",
	}, c)
	g.hub.BroadcastToRoom(ch.ID, model.EventMemberCount, model.MemberCount{ChannelName: ch.ID, MemberCount: n})
}

func (g *Gateway) leaveChannel(c *Client, id string) {
	if id == "" {
		g.fail(c, apperr.New(apperr.Validation, "channelId is required"), "")
		return
	}
	n, wasTyping := g.hub.LeaveRoom(c, id)
	if wasTyping {
		g.hub.BroadcastToRoom(id, model.EventUserStopTyping, model.TypingNotice{User: c.user.Username, ChannelID: id})
	}
	g.hub.BroadcastToRoom(id, model.EventUserLeft, model.PresenceNotice{
		User:    c.user.Username,
		Message: c.user.Username + " left the channel",
	})
	g.hub.BroadcastToRoom(id, model.EventMemberCount, model.MemberCount{ChannelName: id, MemberCount: n})
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, raw json.RawMessage) {
	var in chat.SendInput
	if err := json.Unmarshal(raw, &in); err != nil {
		g.fail(c, apperr.New(apperr.Validation, "Malformed message"), "")
		return
	}
	msg, err := g.svc.SendMessage(ctx, in, c.user, g.policy)
	if err != nil {
		g.fail(c, err, "Failed to send message")
		return
	}
	// an auto-enrolled sender starts receiving the room from here on
	if !g.hub.InRoom(c, msg.ChannelID) {
		g.hub.JoinRoom(c, msg.ChannelID)
	}
	if g.hub.SetTyping(c, msg.ChannelID, false) {
		g.hub.broadcastExcept(msg.ChannelID, model.EventUserStopTyping, model.TypingNotice{User: c.user.Username, ChannelID: msg.ChannelID}, c)
	}
}

func (g *Gateway) typing(c *Client, id string, on bool) {
	if id == "" || !g.hub.InRoom(c, id) {
		return
	}
	g.hub.SetTyping(c, id, on)
	event := model.EventUserStopTyping
	if on {
		event = model.EventUserTyping
	}
	g.hub.broadcastExcept(id, event, model.TypingNotice{User: c.user.Username, ChannelID: id}, c)
}

func (g *Gateway) addReaction(ctx context.Context, c *Client, raw json.RawMessage) {
	var in reactionInput
	if err := json.Unmarshal(raw, &in); err != nil {
		g.fail(c, apperr.New(apperr.Validation, "Malformed reaction"), "")
		return
	}
	id, err := chat.ParseMessageID(strings.Trim(string(in.MessageID), `"`))
	if err != nil {
		g.fail(c, err, "")
		return
	}
	if _, err := g.svc.ToggleReaction(ctx, id, in.Emoji, c.user); err != nil {
		g.fail(c, err, "Failed to update reaction")
	}
}
