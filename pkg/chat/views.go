package chat

import (
	"context"

	"github.com/mahaj/chatrelay/pkg/model"
)

// ChannelViews populates creator and member references in one user lookup.
func (s *Service) ChannelViews(ctx context.Context, chans ...*model.Channel) ([]model.ChannelView, error) {
	var ids []string
	for _, c := range chans {
		ids = append(ids, c.CreatedBy)
		for _, m := range c.Members {
			ids = append(ids, m.UserID)
		}
	}
	users, err := s.store.GetUsers(ctx, dedupe(ids))
	if err != nil {
		return nil, storeErr(err, "User not found")
	}

	out := make([]model.ChannelView, 0, len(chans))
	for _, c := range chans {
		v := model.ChannelView{
			ID:           c.ID,
			Name:         c.Name,
			Description:  c.Description,
			IsPrivate:    c.IsPrivate,
			CreatedBy:    ref(users, c.CreatedBy),
			Members:      make([]model.MemberView, 0, len(c.Members)),
			MessageCount: c.MessageCount,
			CreatedAt:    c.CreatedAt,
		}
		for _, m := range c.Members {
			mu := model.MemberUser{ID: m.UserID}
			if u, ok := users[m.UserID]; ok {
				mu.Username = u.Username
				mu.IsOnline = u.IsOnline
			}
			v.Members = append(v.Members, model.MemberView{User: mu, Role: m.Role, JoinedAt: m.JoinedAt})
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) MessageViews(ctx context.Context, msgs ...*model.Message) ([]model.MessageView, error) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.AuthorID)
	}
	users, err := s.store.GetUsers(ctx, dedupe(ids))
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	out := make([]model.MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.NewMessageView(m, ref(users, m.AuthorID)))
	}
	return out, nil
}

func ref(users map[string]*model.User, id string) model.UserRef {
	if u, ok := users[id]; ok {
		return u.Ref()
	}
	return model.UserRef{ID: id}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
