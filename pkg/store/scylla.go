package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gocql/gocql"

	"github.com/mahaj/chatrelay/pkg/db"
	"github.com/mahaj/chatrelay/pkg/model"
)

// Scylla stores records in the tables created by db.ApplySchema. Unique
// names are claimed with lightweight transactions on the *_by_* tables.
type Scylla struct {
	session *db.Session
}

var _ Store = (*Scylla)(nil)

func NewScylla(session *db.Session) *Scylla {
	return &Scylla{session: session}
}

func (s *Scylla) Close() error {
	s.session.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Scylla) cas(ctx context.Context, stmt string, args ...any) (bool, error) {
	return s.session.Query(stmt, args...).WithContext(ctx).MapScanCAS(map[string]any{})
}

func (s *Scylla) exec(ctx context.Context, stmt string, args ...any) error {
	return s.session.Query(stmt, args...).WithContext(ctx).Exec()
}

const userColumns = `id, username, email, password_hash, is_online, last_seen, created_at`

func scanUser(scan func(...any) error) (*model.User, error) {
	u := &model.User{}
	if err := scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsOnline, &u.LastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Scylla) CreateUser(ctx context.Context, u *model.User) error {
	email := strings.ToLower(u.Email)
	claims := []claim{
		{table: "users_by_email", key: "email", owner: "user_id", value: email, id: u.ID},
		{table: "users_by_username", key: "username", owner: "user_id", value: u.Username, id: u.ID},
	}
	return claimAll(ctx, s, claims, func() error {
		err := s.session.Query(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Username, email, u.PasswordHash, u.IsOnline, u.LastSeen, u.CreatedAt).WithContext(ctx).Exec()
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

func (s *Scylla) GetUser(ctx context.Context, id string) (*model.User, error) {
	q := s.session.Query(`SELECT `+userColumns+` FROM users WHERE id = ?`, id).WithContext(ctx)
	u, err := scanUser(q.Scan)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (s *Scylla) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var id string
	err := s.session.Query(`SELECT user_id FROM users_by_email WHERE email = ?`, strings.ToLower(email)).
		WithContext(ctx).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return s.GetUser(ctx, id)
}

func (s *Scylla) GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	iter := s.session.Query(`SELECT `+userColumns+` FROM users WHERE id IN ?`, ids).WithContext(ctx).Iter()
	scanner := iter.Scanner()
	for scanner.Next() {
		u, err := scanUser(scanner.Scan)
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		out[u.ID] = u
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return out, nil
}

func (s *Scylla) FirstUser(ctx context.Context) (*model.User, error) {
	q := s.session.Query(`SELECT ` + userColumns + ` FROM users LIMIT 1`).WithContext(ctx)
	u, err := scanUser(q.Scan)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (s *Scylla) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	return s.session.Query(`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`, online, at, id).
		WithContext(ctx).Exec()
}

func (s *Scylla) CreateChannel(ctx context.Context, c *model.Channel) error {
	claims := []claim{{table: "channels_by_name", key: "name", owner: "channel_id", value: c.Name, id: c.ID}}
	return claimAll(ctx, s, claims, func() error {
		b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		b.Query(`INSERT INTO channels (id, name, description, is_private, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Description, c.IsPrivate, c.CreatedBy, c.CreatedAt)
		for _, m := range c.Members {
			addMemberStatements(b, c.ID, m)
		}
		if err := s.session.ExecuteBatch(b); err != nil {
			return fmt.Errorf("insert channel: %w", err)
		}
		return nil
	})
}

func addMemberStatements(b *gocql.Batch, channelID string, m model.Member) {
	b.Query(`INSERT INTO channel_members (channel_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		channelID, m.UserID, string(m.Role), m.JoinedAt)
	b.Query(`INSERT INTO user_channels (user_id, channel_id) VALUES (?, ?)`, m.UserID, channelID)
}

func (s *Scylla) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	c := &model.Channel{}
	err := s.session.Query(`SELECT id, name, description, is_private, created_by, created_at FROM channels WHERE id = ?`, id).
		WithContext(ctx).Scan(&c.ID, &c.Name, &c.Description, &c.IsPrivate, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.hydrate(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// hydrate loads members (in join order) and the message counter.
func (s *Scylla) hydrate(ctx context.Context, c *model.Channel) error {
	iter := s.session.Query(`SELECT user_id, role, joined_at FROM channel_members WHERE channel_id = ?`, c.ID).
		WithContext(ctx).Iter()
	var (
		m    model.Member
		role string
	)
	c.Members = c.Members[:0]
	for iter.Scan(&m.UserID, &role, &m.JoinedAt) {
		m.Role = model.Role(role)
		c.Members = append(c.Members, m)
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("load members of %s: %w", c.ID, err)
	}
	sort.SliceStable(c.Members, func(i, j int) bool {
		return c.Members[i].JoinedAt.Before(c.Members[j].JoinedAt)
	})

	err := s.session.Query(`SELECT message_count FROM channel_counters WHERE channel_id = ?`, c.ID).
		WithContext(ctx).Scan(&c.MessageCount)
	if err != nil && !errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("load counter of %s: %w", c.ID, err)
	}
	return nil
}

func (s *Scylla) GetChannelByName(ctx context.Context, name string) (*model.Channel, error) {
	var id string
	if err := s.session.Query(`SELECT channel_id FROM channels_by_name WHERE name = ?`, name).
		WithContext(ctx).Scan(&id); err != nil {
		return nil, notFound(err)
	}
	return s.GetChannel(ctx, id)
}

func (s *Scylla) ListPublicChannels(ctx context.Context) ([]*model.Channel, error) {
	iter := s.session.Query(`SELECT id, name, description, is_private, created_by, created_at FROM channels`).
		WithContext(ctx).Iter()
	var out []*model.Channel
	for {
		c := &model.Channel{}
		if !iter.Scan(&c.ID, &c.Name, &c.Description, &c.IsPrivate, &c.CreatedBy, &c.CreatedAt) {
			break
		}
		if !c.IsPrivate {
			out = append(out, c)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	for _, c := range out {
		if err := s.hydrate(ctx, c); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Scylla) ListUserChannels(ctx context.Context, userID string) ([]*model.Channel, error) {
	iter := s.session.Query(`SELECT channel_id FROM user_channels WHERE user_id = ?`, userID).WithContext(ctx).Iter()
	var (
		id  string
		ids []string
	)
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list channels of %s: %w", userID, err)
	}

	out := make([]*model.Channel, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetChannel(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Scylla) CountChannels(ctx context.Context) (int, error) {
	var n int
	if err := s.session.Query(`SELECT COUNT(*) FROM channels`).WithContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("count channels: %w", err)
	}
	return n, nil
}

func (s *Scylla) AddMember(ctx context.Context, channelID string, m model.Member) error {
	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	addMemberStatements(b, channelID, m)
	return s.session.ExecuteBatch(b)
}

func (s *Scylla) RemoveMember(ctx context.Context, channelID, userID string) error {
	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?`, channelID, userID)
	b.Query(`DELETE FROM user_channels WHERE user_id = ? AND channel_id = ?`, userID, channelID)
	return s.session.ExecuteBatch(b)
}

func (s *Scylla) IncrementMessageCount(ctx context.Context, channelID string) error {
	return s.session.Query(`UPDATE channel_counters SET message_count = message_count + 1 WHERE channel_id = ?`, channelID).
		WithContext(ctx).Exec()
}

const messageColumns = `channel_id, id, user_id, content, message_type, file_url, file_name, reactions, is_edited, edited_at, created_at`

func scanMessage(scan func(...any) error) (*model.Message, error) {
	var (
		m         model.Message
		kind      string
		reactions string
		editedAt  time.Time
	)
	if err := scan(&m.ChannelID, &m.ID, &m.AuthorID, &m.Content, &kind, &m.FileURL, &m.FileName,
		&reactions, &m.IsEdited, &editedAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Type = model.MessageType(kind)
	if !editedAt.IsZero() {
		m.EditedAt = &editedAt
	}
	m.Reactions = []model.Reaction{}
	if reactions != "" {
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			return nil, fmt.Errorf("decode reactions of %d: %w", m.ID, err)
		}
	}
	return &m, nil
}

func encodeReactions(r []model.Reaction) (string, error) {
	if len(r) == 0 {
		return "", nil
	}
	b, err := json.Marshal(r)
	return string(b), err
}

func (s *Scylla) CreateMessage(ctx context.Context, m *model.Message) error {
	reactions, err := encodeReactions(m.Reactions)
	if err != nil {
		return err
	}
	var editedAt any
	if m.EditedAt != nil {
		editedAt = *m.EditedAt
	}

	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChannelID, m.ID, m.AuthorID, m.Content, string(m.Type), m.FileURL, m.FileName,
		reactions, m.IsEdited, editedAt, m.CreatedAt)
	b.Query(`INSERT INTO messages_by_id (id, channel_id) VALUES (?, ?)`, m.ID, m.ChannelID)
	if err := s.session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Scylla) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	var channelID string
	if err := s.session.Query(`SELECT channel_id FROM messages_by_id WHERE id = ?`, id).
		WithContext(ctx).Scan(&channelID); err != nil {
		return nil, notFound(err)
	}
	q := s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE channel_id = ? AND id = ?`, channelID, id).
		WithContext(ctx)
	m, err := scanMessage(q.Scan)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (s *Scylla) UpdateReactions(ctx context.Context, m *model.Message) error {
	reactions, err := encodeReactions(m.Reactions)
	if err != nil {
		return err
	}
	return s.session.Query(`UPDATE messages SET reactions = ? WHERE channel_id = ? AND id = ?`,
		reactions, m.ChannelID, m.ID).WithContext(ctx).Exec()
}

func (s *Scylla) RecentMessages(ctx context.Context, channelID string, limit int) ([]*model.Message, error) {
	iter := s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE channel_id = ? LIMIT ?`, channelID, limit).
		WithContext(ctx).Iter()
	scanner := iter.Scanner()
	var out []*model.Message
	for scanner.Next() {
		m, err := scanMessage(scanner.Scan)
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load history of %s: %w", channelID, err)
	}
	// clustering order is newest first
	slices.Reverse(out)
	return out, nil
}

func (s *Scylla) IncrementUnread(ctx context.Context, userID, channelID string, delta int64) error {
	return s.session.Query(`UPDATE unread_counters SET unread_count = unread_count + ? WHERE user_id = ? AND channel_id = ?`,
		delta, userID, channelID).WithContext(ctx).Exec()
}

func (s *Scylla) ListUnread(ctx context.Context, userID string) ([]model.UnreadCount, error) {
	iter := s.session.Query(`SELECT channel_id, unread_count FROM unread_counters WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()
	var (
		uc  model.UnreadCount
		out []model.UnreadCount
	)
	for iter.Scan(&uc.ChannelID, &uc.Count) {
		if uc.Count > 0 {
			out = append(out, uc)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list unread for %s: %w", userID, err)
	}
	return out, nil
}

// ResetUnread deletes the counter row; counters cannot be set back to zero.
func (s *Scylla) ResetUnread(ctx context.Context, userID, channelID string) error {
	return s.session.Query(`DELETE FROM unread_counters WHERE user_id = ? AND channel_id = ?`, userID, channelID).
		WithContext(ctx).Exec()
}
