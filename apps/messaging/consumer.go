package main

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/events"
	"github.com/mahaj/chatrelay/pkg/logging"
)

// UnreadCounter applies one domain event to the unread counters.
type UnreadCounter interface {
	CountUnread(ctx context.Context, e events.Event) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  messageReader
	counter UnreadCounter
	backoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, counter UnreadCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &Consumer{reader: r, counter: counter, backoff: time.Second}
}

// RunWithContext consumes until ctx is cancelled. A message is committed
// once handled; transient store failures leave it uncommitted so the group
// redelivers it after a restart.
func (c *Consumer) RunWithContext(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Err(err).Dur("backoff", c.backoff).Msg("failed to fetch event, retrying")
			if !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
			continue
		}

		if err := c.handle(ctx, m); err != nil {
			logging.Error().Err(err).Int64("offset", m.Offset).Msg("failed to apply event")
			if !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
			continue
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			logging.Warn().Err(err).Int64("offset", m.Offset).Msg("failed to commit offset")
		}
	}
}

// handle returns an error only for failures worth retrying. Undecodable
// events and events for channels that no longer exist are skipped.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	e, err := events.Decode(m)
	if err != nil {
		logging.Warn().Err(err).Msg("skipping malformed event")
		return nil
	}
	err = c.counter.CountUnread(ctx, e)
	if apperr.Is(err, apperr.NotFound) {
		logging.Debug().Str("channel", e.ChannelID).Msg("skipping event for unknown channel")
		return nil
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
