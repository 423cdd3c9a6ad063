package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/auth"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/store"
)

var defaultDescriptions = map[string]string{
	"general":     "General discussion for everyone",
	"random":      "Random conversations and fun",
	"tech-talk":   "Technical discussions and coding",
	"osdhack2025": "OSDHack 2025 discussions",
}

const (
	systemUsername = "system"
	systemEmail    = "system@irc20.dev"
)

// Bootstrap seeds the default channels when the store has none. The owner is
// the first existing user, or a synthesized system account.
func (s *Service) Bootstrap(ctx context.Context) error {
	n, err := s.store.CountChannels(ctx)
	if err != nil {
		return storeErr(err, "Channel not found")
	}
	if n > 0 {
		logging.Debug().Int("channels", n).Msg("channels present, skipping bootstrap")
		return nil
	}

	owner, err := s.bootstrapOwner(ctx)
	if err != nil {
		return err
	}

	for _, name := range s.defaults {
		desc, ok := defaultDescriptions[name]
		if !ok {
			desc = "Default channel"
		}
		_, err := s.CreateChannel(ctx, CreateChannelInput{Name: name, Description: desc}, owner)
		if apperr.Is(err, apperr.Conflict) {
			continue
		}
		if err != nil {
			return err
		}
	}
	logging.Info().Strs("channels", s.defaults).Str("owner", owner.Username).Msg("default channels created")
	return nil
}

func (s *Service) bootstrapOwner(ctx context.Context) (*model.User, error) {
	u, err := s.store.FirstUser(ctx)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err, "User not found")
	}

	// nobody can log in as system: the password is random and discarded
	hash, err := auth.HashPassword(uuid.NewString(), s.cost)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "hash password", err)
	}
	now := s.now()
	sys := &model.User{
		ID:           uuid.NewString(),
		Username:     systemUsername,
		Email:        systemEmail,
		PasswordHash: hash,
		LastSeen:     now,
		CreatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, sys); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return s.store.GetUserByEmail(ctx, systemEmail)
		}
		return nil, storeErr(err, "User not found")
	}
	return sys, nil
}

// EnrollDefaults adds userID to every default channel that exists. Failures
// are logged, registration still succeeds.
func (s *Service) EnrollDefaults(ctx context.Context, userID string) {
	for _, name := range s.defaults {
		c, err := s.store.GetChannelByName(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			logging.Warn().Err(err).Str("channel", name).Msg("failed to load default channel")
			continue
		}
		if _, err := s.JoinChannel(ctx, c.ID, userID); err != nil && !apperr.Is(err, apperr.AlreadyMember) {
			logging.Warn().Err(err).Str("channel", name).Str("user", userID).Msg("failed to enroll into default channel")
		}
	}
}
