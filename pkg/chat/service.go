// Package chat implements channel membership, message dispatch, reactions
// and channel bootstrap on top of the record store.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/events"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/snowflake"
	"github.com/mahaj/chatrelay/pkg/store"
	"github.com/mahaj/chatrelay/pkg/validation"
)

// Broadcaster delivers an event to every connection joined to room.
type Broadcaster interface {
	BroadcastToRoom(room, event string, data any)
}

const maxHistory = 50

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToRoom(string, string, any) {}

type Options struct {
	DefaultChannels []string
	HistoryLimit    int
	BcryptCost      int
	Rooms           Broadcaster
	Events          events.Publisher
}

type Service struct {
	store    store.Store
	ids      *snowflake.Node
	rooms    Broadcaster
	events   events.Publisher
	locks    *keyedMutex
	defaults []string
	history  int
	cost     int
	now      func() time.Time
}

func NewService(st store.Store, ids *snowflake.Node, opts Options) *Service {
	s := &Service{
		store:    st,
		ids:      ids,
		rooms:    opts.Rooms,
		events:   opts.Events,
		locks:    newKeyedMutex(),
		defaults: opts.DefaultChannels,
		history:  opts.HistoryLimit,
		cost:     opts.BcryptCost,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.rooms == nil {
		s.rooms = nopBroadcaster{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.history <= 0 || s.history > maxHistory {
		s.history = maxHistory
	}
	return s
}

func (s *Service) Store() store.Store { return s.store }

// storeErr maps store sentinels onto the client facing taxonomy.
func storeErr(err error, notFound string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, notFound, err)
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(apperr.Conflict, "Already exists", err)
	default:
		return apperr.Wrap(apperr.Internal, "store failure", err)
	}
}

func (s *Service) channel(ctx context.Context, id string) (*model.Channel, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.New(apperr.NotFound, "Channel not found")
	}
	c, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return nil, storeErr(err, "Channel not found")
	}
	return c, nil
}

type CreateChannelInput struct {
	Name        string `json:"name" validate:"required,min=1,max=50"`
	Description string `json:"description" validate:"max=200"`
	IsPrivate   bool   `json:"isPrivate"`
}

// CreateChannel stores a channel whose first and only member is creator, as admin.
func (s *Service) CreateChannel(ctx context.Context, in CreateChannelInput, creator *model.User) (*model.Channel, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	now := s.now()
	c := &model.Channel{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		IsPrivate:   in.IsPrivate,
		CreatedBy:   creator.ID,
		Members:     []model.Member{{UserID: creator.ID, Role: model.RoleAdmin, JoinedAt: now}},
		CreatedAt:   now,
	}
	if err := s.store.CreateChannel(ctx, c); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, "Channel name already exists", err)
		}
		return nil, storeErr(err, "Channel not found")
	}

	logging.Info().Str("channel", c.Name).Str("id", c.ID).Str("creator", creator.Username).Msg("channel created")
	return c, nil
}

// JoinChannel persists membership with role member.
func (s *Service) JoinChannel(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	unlock := s.locks.Lock(channelKey(channelID))
	defer unlock()

	c, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if IsMember(c, userID) {
		return nil, apperr.New(apperr.AlreadyMember, "Already a member of this channel")
	}
	if err := s.addMember(ctx, c, userID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) addMember(ctx context.Context, c *model.Channel, userID string) error {
	m := model.Member{UserID: userID, Role: model.RoleMember, JoinedAt: s.now()}
	if err := s.store.AddMember(ctx, c.ID, m); err != nil {
		return storeErr(err, "Channel not found")
	}
	c.Members = append(c.Members, m)
	return nil
}

// LeaveChannel removes userID from the channel. Leaving a channel one is not
// a member of succeeds without changes.
func (s *Service) LeaveChannel(ctx context.Context, channelID, userID string) error {
	unlock := s.locks.Lock(channelKey(channelID))
	defer unlock()

	c, err := s.channel(ctx, channelID)
	if err != nil {
		return err
	}
	if !IsMember(c, userID) {
		return nil
	}
	if err := s.store.RemoveMember(ctx, c.ID, userID); err != nil {
		return storeErr(err, "Channel not found")
	}
	return nil
}

// GetChannel only checks existence; room joins do not require membership.
func (s *Service) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	return s.channel(ctx, channelID)
}

// RoomAccess returns the channel when userID may follow its live traffic.
// Private channels admit members only.
func (s *Service) RoomAccess(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	c, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if c.IsPrivate && !IsMember(c, userID) {
		return nil, errNotMember
	}
	return c, nil
}

func (s *Service) UserChannels(ctx context.Context, userID string) ([]*model.Channel, error) {
	chans, err := s.store.ListUserChannels(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	return chans, nil
}

func (s *Service) PublicChannels(ctx context.Context) ([]model.ChannelView, error) {
	chans, err := s.store.ListPublicChannels(ctx)
	if err != nil {
		return nil, storeErr(err, "Channel not found")
	}
	return s.ChannelViews(ctx, chans...)
}

// History returns the latest messages of a channel, oldest first.
// Private channels are readable by members only.
func (s *Service) History(ctx context.Context, channelID, userID string) ([]model.MessageView, error) {
	c, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if c.IsPrivate && !IsMember(c, userID) {
		return nil, errNotMember
	}
	msgs, err := s.store.RecentMessages(ctx, c.ID, s.history)
	if err != nil {
		return nil, storeErr(err, "Channel not found")
	}
	return s.MessageViews(ctx, msgs...)
}
