package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/events"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/metrics"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/store"
	"github.com/mahaj/chatrelay/pkg/validation"
)

type SendInput struct {
	ChannelID string            `json:"channelId" validate:"required"`
	Content   string            `json:"content" validate:"required,max=2000"`
	Type      model.MessageType `json:"messageType" validate:"omitempty,oneof=text file system"`
	FileURL   string            `json:"fileUrl,omitempty" validate:"max=1024"`
	FileName  string            `json:"fileName,omitempty" validate:"max=255"`
}

// SendMessage persists a message from author and broadcasts the populated
// message to the channel's room. Membership is settled by policy first; a
// rejected send persists nothing.
func (s *Service) SendMessage(ctx context.Context, in SendInput, author *model.User, policy Policy) (*model.MessageView, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Type == "" {
		in.Type = model.MessageText
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	if err := s.admit(ctx, in.ChannelID, author, policy); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:        s.ids.Generate(),
		ChannelID: in.ChannelID,
		AuthorID:  author.ID,
		Content:   in.Content,
		Type:      in.Type,
		FileURL:   in.FileURL,
		FileName:  in.FileName,
		Reactions: []model.Reaction{},
		CreatedAt: s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, storeErr(err, "Channel not found")
	}
	metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	if err := s.store.IncrementMessageCount(ctx, msg.ChannelID); err != nil {
		// the message itself is stored; a lagging counter is tolerable
		logging.Warn().Err(err).Str("channel", msg.ChannelID).Msg("failed to bump message count")
	}

	view := model.NewMessageView(msg, author.Ref())
	s.rooms.BroadcastToRoom(msg.ChannelID, model.EventNewMessage, view)

	if err := s.events.Publish(ctx, events.Event{
		Type:      events.TypeMessageCreated,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		UserID:    author.ID,
		Timestamp: msg.CreatedAt,
	}); err != nil {
		logging.Warn().Err(err).Int64("message", msg.ID).Msg("failed to publish message event")
	}
	return &view, nil
}

// admit enforces policy, enrolling the author when the policy allows it.
func (s *Service) admit(ctx context.Context, channelID string, author *model.User, policy Policy) error {
	unlock := s.locks.Lock(channelKey(channelID))
	defer unlock()

	c, err := s.channel(ctx, channelID)
	if err != nil {
		return err
	}
	enroll, err := policy.Admit(c, author.ID)
	if err != nil {
		logging.Debug().Str("user", author.Username).Str("channel", c.Name).Str("policy", policy.Name).Msg("send rejected for non-member")
		return err
	}
	if !enroll {
		return nil
	}
	if err := s.addMember(ctx, c, author.ID); err != nil {
		return err
	}
	metrics.AutoEnrollments.Inc()
	logging.Info().Str("user", author.Username).Str("channel", c.Name).Msg("auto-enrolled sender into public channel")
	return nil
}

// ParseMessageID accepts the decimal string form used on the wire.
func ParseMessageID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.NotFound, "Message not found")
	}
	return id, nil
}

const maxEmojiLen = 64

// ToggleReaction flips user's emoji reaction on a message and broadcasts the
// new reaction list to the message's channel room.
func (s *Service) ToggleReaction(ctx context.Context, messageID int64, emoji string, user *model.User) ([]model.Reaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, apperr.New(apperr.Validation, "emoji is required")
	}
	if len(emoji) > maxEmojiLen {
		return nil, apperr.New(apperr.Validation, "emoji is too long")
	}

	reactions, channelID, err := s.toggle(ctx, messageID, emoji, user.ID)
	if err != nil {
		return nil, err
	}
	metrics.ReactionToggles.Inc()

	s.rooms.BroadcastToRoom(channelID, model.EventReactionUpdated, model.ReactionUpdate{
		MessageID: messageID,
		Reactions: reactions,
	})
	return reactions, nil
}

func (s *Service) toggle(ctx context.Context, messageID int64, emoji, userID string) ([]model.Reaction, string, error) {
	unlock := s.locks.Lock(messageKey(messageID))
	defer unlock()

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, "", storeErr(err, "Message not found")
	}
	c, err := s.store.GetChannel(ctx, msg.ChannelID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", storeErr(err, "Channel not found")
	}
	if c != nil && c.IsPrivate && !IsMember(c, userID) {
		return nil, "", errNotMember
	}

	msg.Reactions = ToggleReaction(msg.Reactions, userID, emoji)
	if err := s.store.UpdateReactions(ctx, msg); err != nil {
		return nil, "", storeErr(err, "Message not found")
	}
	return msg.Reactions, msg.ChannelID, nil
}
