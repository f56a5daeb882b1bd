package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat4all/internal/config"
	"chat4all/internal/logger"
)

func newTestConsumer() *KafkaConsumer {
	c := NewKafkaConsumer(config.KafkaConfig{}, logger.NopLogger())
	c.redeliveryInitial = time.Millisecond
	c.redeliveryMax = 5 * time.Millisecond
	return c
}

func TestHandleUntilDoneRetriesSameRecord(t *testing.T) {
	consumer := newTestConsumer()
	record := kafka.Message{
		Topic:     "message_events",
		Partition: 0,
		Offset:    42,
		Key:       []byte("conv-1"),
		Value:     []byte(`{"messageId":"msg-1"}`),
	}

	var keys []string
	calls := 0
	err := consumer.handleUntilDone(context.Background(), record.Topic, record, func(_ context.Context, key string, _ []byte) error {
		calls++
		keys = append(keys, key)
		if calls < 3 {
			return errors.New("resolver unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Every invocation sees the same record; the loop never advances past it.
	assert.Equal(t, []string{"conv-1", "conv-1", "conv-1"}, keys)
}

func TestHandleUntilDoneSucceedsFirstTry(t *testing.T) {
	consumer := newTestConsumer()

	calls := 0
	err := consumer.handleUntilDone(context.Background(), "message_events", kafka.Message{}, func(context.Context, string, []byte) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHandleUntilDoneStopsOnContextCancel(t *testing.T) {
	consumer := newTestConsumer()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := consumer.handleUntilDone(ctx, "message_events", kafka.Message{}, func(context.Context, string, []byte) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("still failing")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
