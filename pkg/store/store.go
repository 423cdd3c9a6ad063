// Package store is the durable record store: users, channels with their
// member lists, messages and per-user unread counters.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/chatrelay/pkg/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: unique constraint violated")
)

type Users interface {
	// CreateUser fails with ErrConflict when the email or username is taken.
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// GetUsers skips ids that do not exist.
	GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error)
	// FirstUser returns any user, or ErrNotFound when there are none.
	FirstUser(ctx context.Context) (*model.User, error)
	SetPresence(ctx context.Context, id string, online bool, at time.Time) error
}

type Channels interface {
	// CreateChannel stores c together with c.Members. ErrConflict on a taken name.
	CreateChannel(ctx context.Context, c *model.Channel) error
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	GetChannelByName(ctx context.Context, name string) (*model.Channel, error)
	// ListPublicChannels is ordered newest first.
	ListPublicChannels(ctx context.Context) ([]*model.Channel, error)
	ListUserChannels(ctx context.Context, userID string) ([]*model.Channel, error)
	CountChannels(ctx context.Context) (int, error)
	AddMember(ctx context.Context, channelID string, m model.Member) error
	RemoveMember(ctx context.Context, channelID, userID string) error
	IncrementMessageCount(ctx context.Context, channelID string) error
}

type Messages interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	UpdateReactions(ctx context.Context, m *model.Message) error
	// RecentMessages returns at most limit messages, oldest first.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]*model.Message, error)
}

type Unread interface {
	IncrementUnread(ctx context.Context, userID, channelID string, delta int64) error
	ListUnread(ctx context.Context, userID string) ([]model.UnreadCount, error)
	ResetUnread(ctx context.Context, userID, channelID string) error
}

type Store interface {
	Users
	Channels
	Messages
	Unread
	Close() error
}
