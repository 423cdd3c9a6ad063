// Command client is a terminal chat client for the realtime gateway.
//
// Commands: /join <channel>, /typing, /stop, /react <emoji> [messageId], /quit.
// Anything else is sent as a message to the current channel.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
)

type session struct {
	api   string
	token string
	user  model.User

	mu       sync.Mutex
	channels map[string]string // name -> id
	names    map[string]string // id -> name
	current  string
	lastMsg  int64
}

func (s *session) post(path string, body, out any) error {
	raw, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, s.api+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *session) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, s.api+path, nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *session) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return json.Unmarshal(body, out)
}

func (s *session) login(email, password string) error {
	var resp struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	if err := s.post("/api/auth/login", map[string]string{"email": email, "password": password}, &resp); err != nil {
		return err
	}
	s.token, s.user = resp.Token, resp.User
	return nil
}

func (s *session) loadChannels() error {
	var resp struct {
		Channels []model.ChannelView `json:"channels"`
	}
	if err := s.get("/api/channels", &resp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]string, len(resp.Channels))
	s.names = make(map[string]string, len(resp.Channels))
	for _, c := range resp.Channels {
		s.channels[c.Name] = c.ID
		s.names[c.ID] = c.Name
	}
	return nil
}

func (s *session) channelName(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.names[id]; ok {
		return n
	}
	return id
}

func send(c *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(model.Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, raw)
}

func (s *session) render(frame []byte) {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		fmt.Printf("\rreceived raw: %s\n> ", frame)
		return
	}
	switch env.Event {
	case model.EventNewMessage:
		var m model.MessageView
		if json.Unmarshal(env.Data, &m) == nil {
			s.mu.Lock()
			s.lastMsg = m.ID
			s.mu.Unlock()
			fmt.Printf("\r[#%s] %s: %s\n> ", s.channelName(m.ChannelID), m.User.Username, m.Content)
		}
	case model.EventUserTyping, model.EventUserStopTyping:
		var t model.TypingNotice
		if json.Unmarshal(env.Data, &t) == nil && env.Event == model.EventUserTyping {
			fmt.Printf("\r%s is typing in #%s...\n> ", t.User, s.channelName(t.ChannelID))
		}
	case model.EventUserJoined, model.EventUserLeft, model.EventUserOffline:
		var p model.PresenceNotice
		if json.Unmarshal(env.Data, &p) == nil {
			msg := p.Message
			if msg == "" {
				msg = p.User + " went offline"
			}
			fmt.Printf("\r* %s\n> ", msg)
		}
	case model.EventMemberCount:
		var mc model.MemberCount
		if json.Unmarshal(env.Data, &mc) == nil {
			fmt.Printf("\r* #%s has %d connected\n> ", s.channelName(mc.ChannelName), mc.MemberCount)
		}
	case model.EventReactionUpdated:
		var r model.ReactionUpdate
		if json.Unmarshal(env.Data, &r) == nil {
			var parts []string
			for _, x := range r.Reactions {
				parts = append(parts, fmt.Sprintf("%s %d", x.Emoji, len(x.Users)))
			}
			fmt.Printf("\r* reactions on %d: %s\n> ", r.MessageID, strings.Join(parts, ", "))
		}
	case model.EventError:
		var e model.ErrorNotice
		_ = json.Unmarshal(env.Data, &e)
		fmt.Printf("\r! %s\n> ", e.Message)
	default:
		fmt.Printf("\r%s: %s\n> ", env.Event, env.Data)
	}
}

// command handles one input line. It returns false when the client should quit.
func (s *session) command(c *websocket.Conn, text string) (bool, error) {
	s.mu.Lock()
	current := s.current
	last := s.lastMsg
	s.mu.Unlock()

	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit":
		return false, nil
	case "/typing":
		return true, send(c, model.EventTypingStart, map[string]string{"channelId": current})
	case "/stop":
		return true, send(c, model.EventTypingStop, map[string]string{"channelId": current})
	case "/join":
		if len(fields) < 2 {
			return true, fmt.Errorf("usage: /join <channel>")
		}
		if err := s.loadChannels(); err != nil {
			return true, err
		}
		s.mu.Lock()
		id, ok := s.channels[fields[1]]
		if ok {
			s.current = id
		}
		s.mu.Unlock()
		if !ok {
			return true, fmt.Errorf("no channel named %s", fields[1])
		}
		return true, send(c, model.EventJoinChannel, id)
	case "/react":
		if len(fields) < 2 {
			return true, fmt.Errorf("usage: /react <emoji> [messageId]")
		}
		target := fmt.Sprint(last)
		if len(fields) > 2 {
			target = fields[2]
		}
		return true, send(c, model.EventAddReaction, map[string]string{"messageId": target, "emoji": fields[1], "channelId": current})
	}
	return true, send(c, model.EventSendMessage, map[string]string{"channelId": current, "content": text})
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "server address")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	channel := flag.String("channel", "general", "channel to start in")
	flag.Parse()
	logging.Init(logging.Config{Level: "info", Format: "console"})

	s := &session{api: "http://" + *serverAddr}
	if err := s.login(*email, *password); err != nil {
		logging.Fatal().Err(err).Msg("login failed")
	}
	logging.Info().Str("user", s.user.Username).Msg("logged in")
	if err := s.loadChannels(); err != nil {
		logging.Fatal().Err(err).Msg("failed to list channels")
	}
	id, ok := s.channels[*channel]
	if !ok {
		logging.Fatal().Str("channel", *channel).Msg("channel not found")
	}
	s.current = id

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+s.token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		logging.Fatal().Err(err).Str("url", u.String()).Msg("dial failed")
	}
	defer c.Close()

	// Rooms of existing memberships are joined by the server; this covers
	// public channels the user is not a member of yet.
	if err := send(c, model.EventJoinChannel, id); err != nil {
		logging.Fatal().Err(err).Msg("join failed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, frame, err := c.ReadMessage()
			if err != nil {
				logging.Info().Err(err).Msg("connection closed")
				return
			}
			s.render(frame)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	quit := make(chan struct{})

	go func() {
		defer close(quit)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				fmt.Print("> ")
				continue
			}
			more, err := s.command(c, text)
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
			if !more {
				return
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
		return
	case <-interrupt:
	case <-quit:
	}
	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
