// Package events carries domain events from the chat service to Kafka.
package events

import (
	"context"
	"time"
)

const TypeMessageCreated = "message.created"

type Event struct {
	Type      string    `json:"type"`
	ChannelID string    `json:"channel_id"`
	MessageID int64     `json:"message_id,string"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event. Used when Kafka is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
