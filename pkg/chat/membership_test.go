package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/model"
)

func TestMembershipScan(t *testing.T) {
	c := &model.Channel{Members: []model.Member{{UserID: "a"}, {UserID: "b"}}}

	assert.True(t, IsMember(c, "b"))
	assert.False(t, IsMember(c, "z"))
	assert.Equal(t, 1, FindMember(c.Members, "b"))
	assert.Equal(t, -1, FindMember(nil, "a"))

	rest := RemoveMember(c.Members, "a")
	assert.Equal(t, []model.Member{{UserID: "b"}}, rest)
	assert.Len(t, c.Members, 2)
}

func TestPolicyAdmit(t *testing.T) {
	public := &model.Channel{Members: []model.Member{{UserID: "m"}}}
	private := &model.Channel{IsPrivate: true, Members: []model.Member{{UserID: "m"}}}

	tests := []struct {
		name       string
		policy     Policy
		channel    *model.Channel
		user       string
		wantEnroll bool
		wantErr    bool
	}{
		{"member always admitted", Strict, private, "m", false, false},
		{"auto-enroll public", AutoEnroll, public, "x", true, false},
		{"auto-enroll rejects private", AutoEnroll, private, "x", false, true},
		{"strict rejects public", Strict, public, "x", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enroll, err := tt.policy.Admit(tt.channel, tt.user)
			assert.Equal(t, tt.wantEnroll, enroll)
			if tt.wantErr {
				assert.True(t, apperr.Is(err, apperr.Forbidden))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("channel:x")
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		k.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "lock on b blocked behind a")
	}
	unlockA()
}
