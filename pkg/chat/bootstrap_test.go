package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/model"
)

func TestBootstrapSeedsOnceWithSystemOwner(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Bootstrap(ctx))
	require.NoError(t, svc.Bootstrap(ctx))

	n, err := st.CountChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	general, err := st.GetChannelByName(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, "General discussion for everyone", general.Description)

	owner, err := st.GetUser(ctx, general.CreatedBy)
	require.NoError(t, err)
	assert.Equal(t, "system", owner.Username)
	assert.Equal(t, "system@irc20.dev", owner.Email)
}

func TestBootstrapPrefersExistingUser(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	alice := register(t, svc, "alice")

	require.NoError(t, svc.Bootstrap(ctx))

	c, err := st.GetChannelByName(ctx, "tech-talk")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, c.CreatedBy)
}

func TestRegisterEnrollsIntoDefaults(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Bootstrap(ctx))

	alice := register(t, svc, "alice")

	views, err := svc.PublicChannels(ctx)
	require.NoError(t, err)

	var general *model.ChannelView
	for i := range views {
		if views[i].Name == "general" {
			general = &views[i]
		}
	}
	require.NotNil(t, general)

	var names []string
	for _, m := range general.Members {
		names = append(names, m.User.Username)
	}
	assert.Contains(t, names, "alice")
	assert.Equal(t, "system", general.CreatedBy.Username)

	chans, err := svc.UserChannels(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, chans, 4)
}

func TestRegisterAndLogin(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	alice := register(t, svc, "alice")

	_, err := svc.Register(ctx, RegisterInput{Username: "alice2", Email: "ALICE@example.com", Password: "secret123"})
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.Equal(t, "User with this email or username already exists", apperr.PublicMessage(err))

	_, err = svc.Register(ctx, RegisterInput{Username: "al", Email: "bad", Password: "1"})
	assert.True(t, apperr.Is(err, apperr.Validation))

	_, err = svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong"})
	assert.True(t, apperr.Is(err, apperr.InvalidCredentials))
	_, err = svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "secret123"})
	assert.True(t, apperr.Is(err, apperr.InvalidCredentials))

	u, err := svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, u.ID)

	stored, _ := st.GetUser(ctx, alice.ID)
	assert.True(t, stored.IsOnline)

	require.NoError(t, svc.SetOnline(ctx, alice.ID, false))
	stored, _ = st.GetUser(ctx, alice.ID)
	assert.False(t, stored.IsOnline)
}
