package chat

import (
	"context"

	"github.com/mahaj/chatrelay/pkg/events"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
)

// CountUnread bumps the unread counter of every member of the event's
// channel except its author. Events other than message.created are ignored.
func (s *Service) CountUnread(ctx context.Context, e events.Event) error {
	if e.Type != events.TypeMessageCreated {
		return nil
	}
	c, err := s.channel(ctx, e.ChannelID)
	if err != nil {
		return err
	}
	for _, m := range c.Members {
		if m.UserID == e.UserID {
			continue
		}
		if err := s.store.IncrementUnread(ctx, m.UserID, c.ID, 1); err != nil {
			return storeErr(err, "Channel not found")
		}
	}
	logging.Debug().Str("channel", c.Name).Int64("message", e.MessageID).Int("members", len(c.Members)).Msg("unread counters updated")
	return nil
}

func (s *Service) Unread(ctx context.Context, userID string) ([]model.UnreadCount, error) {
	counts, err := s.store.ListUnread(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	if counts == nil {
		counts = []model.UnreadCount{}
	}
	return counts, nil
}

// MarkRead clears the caller's unread counter for one channel.
func (s *Service) MarkRead(ctx context.Context, channelID, userID string) error {
	c, err := s.channel(ctx, channelID)
	if err != nil {
		return err
	}
	if err := s.store.ResetUnread(ctx, userID, c.ID); err != nil {
		return storeErr(err, "Channel not found")
	}
	return nil
}

// OnlineMembers resolves the user ids a presence read model reports for a
// channel. Private channels are visible to members only.
func (s *Service) OnlineMembers(ctx context.Context, channelID, viewerID string, ids []string) ([]model.MemberUser, error) {
	c, err := s.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if c.IsPrivate && !IsMember(c, viewerID) {
		return nil, errNotMember
	}
	ids = dedupe(append([]string(nil), ids...))
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	out := make([]model.MemberUser, 0, len(users))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, model.MemberUser{ID: u.ID, Username: u.Username, IsOnline: u.IsOnline})
		}
	}
	return out, nil
}
