package events

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTripsEncodedEvent(t *testing.T) {
	in := Event{
		Type:      TypeMessageCreated,
		ChannelID: "c1",
		MessageID: 1<<62 + 5,
		UserID:    "u1",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message_id":"4611686018427387909"`)

	out, err := Decode(kafka.Message{Value: raw})
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Decode(kafka.Message{Value: []byte("{"), Offset: 9})
	assert.ErrorContains(t, err, "offset 9")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
