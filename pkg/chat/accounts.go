package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/auth"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/store"
	"github.com/mahaj/chatrelay/pkg/validation"
)

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=30"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register creates the account and enrolls it into the default channels.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "hash password", err)
	}
	now := s.now()
	u := &model.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		LastSeen:     now,
		CreatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, "User with this email or username already exists", err)
		}
		return nil, storeErr(err, "User not found")
	}

	s.EnrollDefaults(ctx, u.ID)
	logging.Info().Str("user", u.Username).Str("id", u.ID).Msg("user registered")
	return u, nil
}

// Login verifies credentials and marks the user online.
func (s *Service) Login(ctx context.Context, in LoginInput) (*model.User, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(in.Email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.InvalidCredentials, "Invalid credentials")
	}
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	if !auth.CheckPassword(u.PasswordHash, in.Password) {
		return nil, apperr.New(apperr.InvalidCredentials, "Invalid credentials")
	}

	if err := s.SetOnline(ctx, u.ID, true); err != nil {
		return nil, err
	}
	u.IsOnline = true
	u.LastSeen = s.now()
	return u, nil
}

// SetOnline records presence and stamps lastSeen.
func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	if err := s.store.SetPresence(ctx, userID, online, s.now()); err != nil {
		return storeErr(err, "User not found")
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, storeErr(err, "User not found")
	}
	return u, nil
}
