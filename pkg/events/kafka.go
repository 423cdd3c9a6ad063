package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/metrics"
)

// KafkaPublisher writes events keyed by channel id so one channel's events
// land on one partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				metrics.EventsPublished.WithLabelValues("failed").Add(float64(len(msgs)))
				logging.Error().Err(err).Int("count", len(msgs)).Msg("failed to publish events to kafka")
				return
			}
			metrics.EventsPublished.WithLabelValues("ok").Add(float64(len(msgs)))
		},
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ChannelID),
		Value: payload,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Decode parses a message produced by KafkaPublisher.
func Decode(m kafka.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(m.Value, &e); err != nil {
		return Event{}, fmt.Errorf("decode event at offset %d: %w", m.Offset, err)
	}
	return e, nil
}
