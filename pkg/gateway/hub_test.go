package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/presence"
)

// fakeClient is a registered client with no socket behind it.
func fakeClient(h *Hub, id, name string) *Client {
	c := &Client{hub: h, id: connIDs.Add(1), user: &model.User{ID: id, Username: name}, send: make(chan []byte, 64)}
	h.Register(c)
	return c
}

func runHub(t *testing.T, h *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func next(t *testing.T, c *Client) model.Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(frame, &env))
		return model.Envelope{Event: env.Event, Data: env.Data}
	case <-time.After(time.Second):
		require.FailNow(t, "no frame received")
		return model.Envelope{}
	}
}

func TestHubRoomCountsAndPresenceMirror(t *testing.T) {
	p := presence.NewMemory()
	h := NewHub(p)
	runHub(t, h)

	a1 := fakeClient(h, "u1", "alice")
	a2 := fakeClient(h, "u1", "alice")
	b := fakeClient(h, "u2", "bob")

	assert.Equal(t, 1, h.JoinRoom(a1, "c1"))
	assert.Equal(t, 2, h.JoinRoom(a2, "c1"))
	assert.Equal(t, 3, h.JoinRoom(b, "c1"))

	users, _ := p.Members(context.Background(), "c1")
	assert.Equal(t, []string{"u1", "u2"}, users)

	n, _ := h.LeaveRoom(a1, "c1")
	assert.Equal(t, 2, n)
	users, _ = p.Members(context.Background(), "c1")
	assert.Equal(t, []string{"u1", "u2"}, users, "alice still has a connection in the room")

	n, _ = h.LeaveRoom(a2, "c1")
	assert.Equal(t, 1, n)
	users, _ = p.Members(context.Background(), "c1")
	assert.Equal(t, []string{"u2"}, users)

	n, _ = h.LeaveRoom(a2, "c1")
	assert.Equal(t, 1, n, "leaving twice is harmless")
}

func TestHubBroadcastToRoom(t *testing.T) {
	h := NewHub(nil)
	runHub(t, h)

	a := fakeClient(h, "u1", "alice")
	b := fakeClient(h, "u2", "bob")
	outsider := fakeClient(h, "u3", "carol")
	h.JoinRoom(a, "c1")
	h.JoinRoom(b, "c1")
	h.JoinRoom(outsider, "c2")

	h.BroadcastToRoom("c1", model.EventNewMessage, map[string]string{"content": "hi"})
	assert.Equal(t, model.EventNewMessage, next(t, a).Event)
	assert.Equal(t, model.EventNewMessage, next(t, b).Event)

	h.broadcastExcept("c1", model.EventUserTyping, model.TypingNotice{User: "alice", ChannelID: "c1"}, a)
	assert.Equal(t, model.EventUserTyping, next(t, b).Event)

	h.Emit(outsider, model.EventError, model.ErrorNotice{Message: "nope"})
	assert.Equal(t, model.EventError, next(t, outsider).Event)

	assert.Empty(t, a.send)
	assert.Empty(t, outsider.send)
}

func TestHubUnregisterAnnouncesToRooms(t *testing.T) {
	h := NewHub(nil)
	runHub(t, h)

	a := fakeClient(h, "u1", "alice")
	b := fakeClient(h, "u2", "bob")
	h.JoinRoom(a, "c1")
	h.JoinRoom(b, "c1")
	require.True(t, h.SetTyping(a, "c1", true))

	d := h.Unregister(a)
	assert.Equal(t, []string{"c1"}, d.Rooms)
	assert.Equal(t, []string{"c1"}, d.TypingIn)
	assert.True(t, d.LastConnection)

	assert.Equal(t, model.EventUserStopTyping, next(t, b).Event)
	count := next(t, b)
	assert.Equal(t, model.EventMemberCount, count.Event)
	var mc model.MemberCount
	require.NoError(t, json.Unmarshal(count.Data.(json.RawMessage), &mc))
	assert.Equal(t, model.MemberCount{ChannelName: "c1", MemberCount: 1}, mc)
	assert.Equal(t, model.EventUserOffline, next(t, b).Event)

	_, ok := <-a.send
	assert.False(t, ok, "send buffer closed")
	assert.Equal(t, Departure{}, h.Unregister(a))
	assert.Equal(t, 1, h.ClientCount())
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(nil)
	runHub(t, h)

	slow := &Client{hub: h, id: connIDs.Add(1), user: &model.User{ID: "u1", Username: "slow"}, send: make(chan []byte, 1)}
	h.Register(slow)
	h.JoinRoom(slow, "c1")

	h.BroadcastToRoom("c1", "e", 1)
	h.BroadcastToRoom("c1", "e", 2)
	h.BroadcastToRoom("c1", "e", 3)

	require.Eventually(t, func() bool { return len(h.broadcast) == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, slow.send, 1)
	assert.Equal(t, 1, h.ClientCount(), "slow clients are not kicked")
}

func TestHubShutdownClosesClients(t *testing.T) {
	p := presence.NewMemory()
	h := NewHub(p)
	cancel := runHub(t, h)

	a := fakeClient(h, "u1", "alice")
	h.JoinRoom(a, "c1")
	cancel()

	select {
	case _, ok := <-a.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		require.FailNow(t, "client not closed on shutdown")
	}
	assert.Zero(t, h.ClientCount())
	require.Eventually(t, func() bool {
		users, _ := p.Members(context.Background(), "c1")
		return len(users) == 0
	}, time.Second, 5*time.Millisecond)

	// no goroutine is left reading the queue; broadcasts must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			h.BroadcastToRoom("c1", "e", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "broadcast blocked after shutdown")
	}
}

func TestSetTyping(t *testing.T) {
	h := NewHub(nil)
	a := fakeClient(h, "u1", "alice")
	assert.True(t, h.SetTyping(a, "c1", true))
	assert.False(t, h.SetTyping(a, "c1", true))
	assert.True(t, h.SetTyping(a, "c1", false))
	assert.False(t, h.SetTyping(a, "c1", false))
}
