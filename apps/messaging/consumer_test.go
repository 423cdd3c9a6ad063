package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/chat"
	"github.com/mahaj/chatrelay/pkg/events"
	"github.com/mahaj/chatrelay/pkg/model"
	"github.com/mahaj/chatrelay/pkg/snowflake"
	"github.com/mahaj/chatrelay/pkg/store"
)

// fakeReader hands out queued messages, then blocks until ctx ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		m := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func encoded(t *testing.T, offset int64, e events.Event) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(e.ChannelID), Value: raw}
}

func TestConsumerCountsUnreadForOtherMembers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	ids, err := snowflake.NewNode(3)
	require.NoError(t, err)
	svc := chat.NewService(st, ids, chat.Options{BcryptCost: 4})

	var users []*model.User
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := svc.Register(ctx, chat.RegisterInput{Username: name, Email: name + "@example.com", Password: "secret123"})
		require.NoError(t, err)
		users = append(users, u)
	}
	c, err := svc.CreateChannel(ctx, chat.CreateChannelInput{Name: "lobby"}, users[0])
	require.NoError(t, err)
	_, err = svc.JoinChannel(ctx, c.ID, users[1].ID)
	require.NoError(t, err)

	created := events.Event{Type: events.TypeMessageCreated, ChannelID: c.ID, MessageID: 7, UserID: users[0].ID, Timestamp: time.Now()}
	r := &fakeReader{queue: []kafka.Message{
		encoded(t, 1, created),
		{Offset: 2, Value: []byte("not json")},
		encoded(t, 3, events.Event{Type: events.TypeMessageCreated, ChannelID: "4d1c55b2-0b8e-4d0f-9f8c-0f9f4d2a6a11", UserID: users[0].ID}),
		encoded(t, 4, created),
	}}
	consumer := &Consumer{reader: r, counter: svc, backoff: time.Millisecond}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.RunWithContext(runCtx) }()

	require.Eventually(t, func() bool { return len(r.commits()) == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []int64{1, 2, 3, 4}, r.commits())

	bob, err := st.ListUnread(ctx, users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []model.UnreadCount{{ChannelID: c.ID, Count: 2}}, bob)

	alice, _ := st.ListUnread(ctx, users[0].ID)
	assert.Empty(t, alice)
	carol, _ := st.ListUnread(ctx, users[2].ID)
	assert.Empty(t, carol)
}

type flakyCounter struct {
	mu    sync.Mutex
	fails int
	seen  int
}

func (f *flakyCounter) CountUnread(context.Context, events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen++
	if f.fails > 0 {
		f.fails--
		return apperr.Wrap(apperr.Internal, "store failure", errors.New("timeout"))
	}
	return nil
}

func TestConsumerLeavesFailedEventUncommitted(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		encoded(t, 1, events.Event{Type: events.TypeMessageCreated, ChannelID: "c"}),
	}}
	counter := &flakyCounter{fails: 1}
	consumer := &Consumer{reader: r, counter: counter, backoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.RunWithContext(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, r.commits())
	assert.Equal(t, 1, counter.seen)
}
