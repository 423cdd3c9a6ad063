package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/chatrelay/pkg/model"
)

// Memory is an in-process Store. Values are copied in and out so callers
// never share state with the store.
type Memory struct {
	mu sync.RWMutex

	users     map[string]*model.User
	userOrder []string
	emails    map[string]string
	usernames map[string]string
	channels  map[string]*model.Channel
	chanOrder []string
	names     map[string]string
	messages  map[int64]*model.Message
	byChannel map[string][]int64
	unread    map[string]map[string]int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]*model.User),
		emails:    make(map[string]string),
		usernames: make(map[string]string),
		channels:  make(map[string]*model.Channel),
		names:     make(map[string]string),
		messages:  make(map[int64]*model.Message),
		byChannel: make(map[string][]int64),
		unread:    make(map[string]map[string]int64),
	}
}

func (m *Memory) Close() error { return nil }

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

func copyChannel(ch *model.Channel) *model.Channel {
	c := *ch
	c.Members = slices.Clone(ch.Members)
	return &c
}

func copyMessage(msg *model.Message) *model.Message {
	c := *msg
	c.Reactions = make([]model.Reaction, len(msg.Reactions))
	for i, r := range msg.Reactions {
		c.Reactions[i] = model.Reaction{Emoji: r.Emoji, Users: slices.Clone(r.Users)}
	}
	return &c
}

func (m *Memory) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := m.emails[email]; ok {
		return ErrConflict
	}
	if _, ok := m.usernames[u.Username]; ok {
		return ErrConflict
	}
	if _, ok := m.users[u.ID]; ok {
		return ErrConflict
	}
	m.users[u.ID] = copyUser(u)
	m.userOrder = append(m.userOrder, u.ID)
	m.emails[email] = u.ID
	m.usernames[u.Username] = u.ID
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(m.users[id]), nil
}

func (m *Memory) GetUsers(_ context.Context, ids []string) (map[string]*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = copyUser(u)
		}
	}
	return out, nil
}

func (m *Memory) FirstUser(_ context.Context) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.userOrder) == 0 {
		return nil, ErrNotFound
	}
	return copyUser(m.users[m.userOrder[0]]), nil
}

func (m *Memory) SetPresence(_ context.Context, id string, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = at
	return nil
}

func (m *Memory) CreateChannel(_ context.Context, c *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[c.Name]; ok {
		return ErrConflict
	}
	if _, ok := m.channels[c.ID]; ok {
		return ErrConflict
	}
	m.channels[c.ID] = copyChannel(c)
	m.chanOrder = append(m.chanOrder, c.ID)
	m.names[c.Name] = c.ID
	return nil
}

func (m *Memory) GetChannel(_ context.Context, id string) (*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChannel(c), nil
}

func (m *Memory) GetChannelByName(_ context.Context, name string) (*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[name]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChannel(m.channels[id]), nil
}

func (m *Memory) ListPublicChannels(_ context.Context) ([]*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Channel
	// newest insertion first; stable sort keeps that for equal timestamps
	for i := len(m.chanOrder) - 1; i >= 0; i-- {
		if c := m.channels[m.chanOrder[i]]; !c.IsPrivate {
			out = append(out, copyChannel(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListUserChannels(_ context.Context, userID string) ([]*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Channel
	for _, id := range m.chanOrder {
		c := m.channels[id]
		if slices.ContainsFunc(c.Members, func(mb model.Member) bool { return mb.UserID == userID }) {
			out = append(out, copyChannel(c))
		}
	}
	return out, nil
}

func (m *Memory) CountChannels(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels), nil
}

// AddMember replaces an existing entry for the same user rather than duplicating it.
func (m *Memory) AddMember(_ context.Context, channelID string, mb model.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	for i := range c.Members {
		if c.Members[i].UserID == mb.UserID {
			c.Members[i] = mb
			return nil
		}
	}
	c.Members = append(c.Members, mb)
	return nil
}

func (m *Memory) RemoveMember(_ context.Context, channelID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	c.Members = slices.DeleteFunc(c.Members, func(mb model.Member) bool { return mb.UserID == userID })
	return nil
}

func (m *Memory) IncrementMessageCount(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[channelID]
	if !ok {
		return ErrNotFound
	}
	c.MessageCount++
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return ErrConflict
	}
	m.messages[msg.ID] = copyMessage(msg)

	ids := m.byChannel[msg.ChannelID]
	i, _ := slices.BinarySearch(ids, msg.ID)
	m.byChannel[msg.ChannelID] = slices.Insert(ids, i, msg.ID)
	return nil
}

func (m *Memory) GetMessage(_ context.Context, id int64) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

func (m *Memory) UpdateReactions(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.messages[msg.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Reactions = copyMessage(msg).Reactions
	return nil
}

func (m *Memory) RecentMessages(_ context.Context, channelID string, limit int) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byChannel[channelID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyMessage(m.messages[id]))
	}
	return out, nil
}

func (m *Memory) IncrementUnread(_ context.Context, userID, channelID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	per, ok := m.unread[userID]
	if !ok {
		per = make(map[string]int64)
		m.unread[userID] = per
	}
	per[channelID] += delta
	return nil
}

func (m *Memory) ListUnread(_ context.Context, userID string) ([]model.UnreadCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.UnreadCount, 0, len(m.unread[userID]))
	for ch, n := range m.unread[userID] {
		if n > 0 {
			out = append(out, model.UnreadCount{ChannelID: ch, Count: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (m *Memory) ResetUnread(_ context.Context, userID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.unread[userID], channelID)
	return nil
}
