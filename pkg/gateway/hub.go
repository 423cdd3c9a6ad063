// Package gateway is the realtime side of the service: the room registry
// (Hub), websocket clients and the inbound event dispatcher.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/metrics"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/presence"
)

const presenceTimeout = 2 * time.Second

type outbound struct {
	room    string
	target  *Client // set for a frame addressed to one connection
	except  *Client
	payload []byte
}

// Hub tracks which connections are joined to which channel rooms and fans
// frames out to them. It is owned by the server and torn down when the
// context passed to RunWithContext ends.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]bool
	rooms       map[string]map[*Client]bool // channel id -> connections
	userClients map[string]map[*Client]bool // user id -> connections
	typing      map[string]map[string]bool  // channel id -> typing user ids

	broadcast chan outbound
	done      chan struct{}
	closeOnce sync.Once

	presence presence.Store
}

func NewHub(p presence.Store) *Hub {
	if p == nil {
		p = presence.NewMemory()
	}
	return &Hub{
		clients:     make(map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		typing:      make(map[string]map[string]bool),
		broadcast:   make(chan outbound, 1024),
		done:        make(chan struct{}),
		presence:    p,
	}
}

// RunWithContext delivers queued frames until ctx ends, then closes every
// client and clears the registry.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// shutdown wins over pending frames
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case ob := <-h.broadcast:
			h.deliver(ob)
		}
	}
}

func (h *Hub) deliver(ob outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if ob.target != nil {
		if h.clients[ob.target] {
			h.push(ob.target, ob.payload)
		}
		return
	}
	for c := range h.rooms[ob.room] {
		if c != ob.except {
			h.push(c, ob.payload)
		}
	}
}

// push must run under h.mu; close(c.send) happens only under the write lock.
func (h *Hub) push(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		metrics.BroadcastDropped.Inc()
		logging.Warn().Str("user", c.user.Username).Uint64("conn", c.id).Msg("client send buffer full, dropping frame")
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	var mirror [][2]string
	for room, conns := range h.rooms {
		seen := make(map[string]bool)
		for c := range conns {
			if !seen[c.user.ID] {
				seen[c.user.ID] = true
				mirror = append(mirror, [2]string{room, c.user.ID})
			}
		}
	}
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[string]map[*Client]bool)
	h.userClients = make(map[string]map[*Client]bool)
	h.typing = make(map[string]map[string]bool)
	h.mu.Unlock()

	metrics.WSConnections.Sub(float64(n))
	for _, e := range mirror {
		h.mirror(false, e[0], e[1])
	}
	logging.Info().Int("clients", n).Msg("hub stopped, all clients closed")
}

func (h *Hub) enqueue(ob outbound) {
	select {
	case h.broadcast <- ob:
	case <-h.done:
	}
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(model.Envelope{Event: event, Data: data})
}

// BroadcastToRoom queues an event for every connection in room.
func (h *Hub) BroadcastToRoom(room, event string, data any) {
	h.broadcastExcept(room, event, data, nil)
}

func (h *Hub) broadcastExcept(room, event string, data any, except *Client) {
	payload, err := encode(event, data)
	if err != nil {
		logging.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	h.enqueue(outbound{room: room, except: except, payload: payload})
}

// Emit queues an event for a single connection.
func (h *Hub) Emit(c *Client, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		logging.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	h.enqueue(outbound{target: c, payload: payload})
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	if h.userClients[c.user.ID] == nil {
		h.userClients[c.user.ID] = make(map[*Client]bool)
	}
	h.userClients[c.user.ID][c] = true
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	logging.Debug().Str("user", c.user.Username).Uint64("conn", c.id).Msg("client registered")
}

// Departure describes what a disconnect left behind.
type Departure struct {
	Rooms          []string
	TypingIn       []string
	LastConnection bool
}

// Unregister removes c from every room and closes its send buffer. It
// announces the new room sizes and the user going offline to the rooms the
// connection was in. Calling it twice is a no-op.
func (h *Hub) Unregister(c *Client) Departure {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return Departure{}
	}
	var d Departure
	var vacated []string
	for room, conns := range h.rooms {
		if !conns[c] {
			continue
		}
		d.Rooms = append(d.Rooms, room)
		if h.leaveLocked(c, room) {
			vacated = append(vacated, room)
		}
		if h.typing[room][c.user.ID] && !h.userInRoomLocked(c.user.ID, room) {
			delete(h.typing[room], c.user.ID)
			d.TypingIn = append(d.TypingIn, room)
		}
	}
	delete(h.clients, c)
	delete(h.userClients[c.user.ID], c)
	if len(h.userClients[c.user.ID]) == 0 {
		delete(h.userClients, c.user.ID)
		d.LastConnection = true
	}
	close(c.send)
	counts := h.countsLocked(d.Rooms)
	h.mu.Unlock()

	metrics.WSConnections.Dec()
	for _, room := range vacated {
		h.mirror(false, room, c.user.ID)
	}
	for _, room := range d.TypingIn {
		h.BroadcastToRoom(room, model.EventUserStopTyping, model.TypingNotice{User: c.user.Username, ChannelID: room})
	}
	for _, room := range d.Rooms {
		h.BroadcastToRoom(room, model.EventMemberCount, model.MemberCount{ChannelName: room, MemberCount: counts[room]})
		h.BroadcastToRoom(room, model.EventUserOffline, model.PresenceNotice{User: c.user.Username})
	}
	logging.Debug().Str("user", c.user.Username).Uint64("conn", c.id).Strs("rooms", d.Rooms).Msg("client unregistered")
	return d
}

// JoinRoom adds c to room and returns the live connection count.
func (h *Hub) JoinRoom(c *Client, room string) int {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return 0
	}
	first := !h.userInRoomLocked(c.user.ID, room)
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	n := len(h.rooms[room])
	h.mu.Unlock()

	if first {
		h.mirror(true, room, c.user.ID)
	}
	return n
}

// LeaveRoom removes c from room. It returns the remaining count and whether
// the user had been marked as typing there.
func (h *Hub) LeaveRoom(c *Client, room string) (int, bool) {
	h.mu.Lock()
	if !h.rooms[room][c] {
		n := len(h.rooms[room])
		h.mu.Unlock()
		return n, false
	}
	vacated := h.leaveLocked(c, room)
	wasTyping := false
	if vacated && h.typing[room][c.user.ID] {
		delete(h.typing[room], c.user.ID)
		wasTyping = true
	}
	n := len(h.rooms[room])
	h.mu.Unlock()

	if vacated {
		h.mirror(false, room, c.user.ID)
	}
	return n, wasTyping
}

// leaveLocked reports whether the user has no connection left in room.
func (h *Hub) leaveLocked(c *Client, room string) bool {
	delete(h.rooms[room], c)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
	return !h.userInRoomLocked(c.user.ID, room)
}

func (h *Hub) userInRoomLocked(userID, room string) bool {
	for other := range h.rooms[room] {
		if other.user.ID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) countsLocked(rooms []string) map[string]int {
	out := make(map[string]int, len(rooms))
	for _, r := range rooms {
		out[r] = len(h.rooms[r])
	}
	return out
}

// SetTyping records typing state and reports whether it changed.
func (h *Hub) SetTyping(c *Client, room string, typing bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := h.typing[room][c.user.ID]
	if cur == typing {
		return false
	}
	if typing {
		if h.typing[room] == nil {
			h.typing[room] = make(map[string]bool)
		}
		h.typing[room][c.user.ID] = true
	} else {
		delete(h.typing[room], c.user.ID)
		if len(h.typing[room]) == 0 {
			delete(h.typing, room)
		}
	}
	return true
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[room][c]
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) mirror(add bool, room, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	var err error
	if add {
		err = h.presence.Add(ctx, room, userID)
	} else {
		err = h.presence.Remove(ctx, room, userID)
	}
	if err != nil {
		logging.Warn().Err(err).Str("channel", room).Str("user", userID).Msg("presence mirror update failed")
	}
}
