package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat4all/internal/logger"
	"chat4all/pkg/models"
)

func update(id string, status models.MessageStatus) models.StatusUpdate {
	return models.StatusUpdate{MessageID: id, NewStatus: status, Timestamp: time.Now()}
}

func TestHubDeliversToRegisteredSession(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	session := hub.Register("alice")
	defer hub.Deregister(session)

	hub.Publish("alice", update("msg-1", models.StatusDelivered))

	got, ok := session.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "msg-1", got.MessageID)
	assert.Equal(t, models.StatusDelivered, got.NewStatus)
}

func TestHubPreservesOrderPerSession(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	session := hub.Register("alice")
	defer hub.Deregister(session)

	hub.Publish("alice", update("msg-1", models.StatusSent))
	hub.Publish("alice", update("msg-1", models.StatusDelivered))
	hub.Publish("alice", update("msg-1", models.StatusRead))

	var statuses []models.MessageStatus
	for i := 0; i < 3; i++ {
		got, ok := session.Next(context.Background())
		require.True(t, ok)
		statuses = append(statuses, got.NewStatus)
	}
	assert.Equal(t, []models.MessageStatus{
		models.StatusSent, models.StatusDelivered, models.StatusRead,
	}, statuses)
}

func TestHubFansOutToAllSessionsOfUser(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	first := hub.Register("alice")
	second := hub.Register("alice")
	defer hub.Deregister(first)
	defer hub.Deregister(second)

	hub.Publish("alice", update("msg-1", models.StatusDelivered))

	for _, session := range []*Session{first, second} {
		got, ok := session.Next(context.Background())
		require.True(t, ok)
		assert.Equal(t, "msg-1", got.MessageID)
	}
}

func TestHubDoesNotCrossUsers(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	alice := hub.Register("alice")
	bob := hub.Register("bob")
	defer hub.Deregister(alice)
	defer hub.Deregister(bob)

	hub.Publish("alice", update("msg-1", models.StatusDelivered))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := bob.Next(ctx)
	assert.False(t, ok)
}

func TestHubPublishWithoutListenersIsSafe(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	assert.NotPanics(t, func() {
		hub.Publish("nobody", update("msg-1", models.StatusSent))
	})
}

func TestDeregisterWakesBlockedReader(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	session := hub.Register("alice")

	done := make(chan bool, 1)
	go func() {
		_, ok := session.Next(context.Background())
		done <- ok
	}()

	// Let the reader block on the empty buffer before closing.
	time.Sleep(20 * time.Millisecond)
	hub.Deregister(session)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by deregistration")
	}
}

func TestSessionBuffersWhileReaderIsSlow(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	session := hub.Register("alice")
	defer hub.Deregister(session)

	for i := 0; i < 100; i++ {
		hub.Publish("alice", update("msg-1", models.StatusSent))
	}

	count := 0
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		_, ok := session.Next(ctx)
		if !ok {
			break
		}
		count++
		if count == 100 {
			break
		}
	}
	assert.Equal(t, 100, count)
}
