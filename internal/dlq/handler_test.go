package dlq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat4all/internal/logger"
	"chat4all/pkg/models"
)

type fakeProducer struct {
	published []struct {
		topic string
		key   string
	}
	err error
}

func (f *fakeProducer) Publish(_ context.Context, topic, key string, _ interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, struct {
		topic string
		key   string
	}{topic, key})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fakeFallback struct {
	saved []models.DeadLetterEvent
	err   error
}

func (f *fakeFallback) Save(_ context.Context, event models.DeadLetterEvent) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, event)
	return nil
}

func testEvent() models.MessageEvent {
	return models.MessageEvent{
		MessageID:      "msg-1",
		ConversationID: "conv-1",
		SenderID:       "alice",
		RecipientIDs:   []string{"bob"},
		Channel:        models.ChannelWhatsApp,
	}
}

func TestDeadLetterPublishesToTopic(t *testing.T) {
	producer := &fakeProducer{}
	fallback := &fakeFallback{}
	handler := NewHandler(producer, fallback, "dlq-topic", logger.NopLogger())

	handler.DeadLetter(context.Background(), testEvent(), "delivery retries exhausted", 3)

	require.Len(t, producer.published, 1)
	assert.Equal(t, "dlq-topic", producer.published[0].topic)
	assert.Equal(t, "msg-1", producer.published[0].key)
	assert.Empty(t, fallback.saved)
}

func TestDeadLetterFallsBackToStore(t *testing.T) {
	producer := &fakeProducer{err: assert.AnError}
	fallback := &fakeFallback{}
	handler := NewHandler(producer, fallback, "dlq-topic", logger.NopLogger())

	handler.DeadLetter(context.Background(), testEvent(), "validation_failed", 0)

	require.Len(t, fallback.saved, 1)
	assert.Equal(t, "validation_failed", fallback.saved[0].Reason)
	assert.Equal(t, 0, fallback.saved[0].AttemptsMade)
	assert.Equal(t, "msg-1", fallback.saved[0].Event.MessageID)
	assert.False(t, fallback.saved[0].FailedAt.IsZero())
}

func TestDeadLetterSurvivesFallbackFailure(t *testing.T) {
	producer := &fakeProducer{err: assert.AnError}
	fallback := &fakeFallback{err: assert.AnError}
	handler := NewHandler(producer, fallback, "dlq-topic", logger.NopLogger())

	assert.NotPanics(t, func() {
		handler.DeadLetter(context.Background(), testEvent(), "no linked identity", 0)
	})
}
