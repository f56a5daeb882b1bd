package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    MessageStatus
		to      MessageStatus
		allowed bool
	}{
		{"pending to sent", StatusPending, StatusSent, true},
		{"sent to delivered", StatusSent, StatusDelivered, true},
		{"delivered to read", StatusDelivered, StatusRead, true},
		{"pending to delivered skips sent", StatusPending, StatusDelivered, true},
		{"pending to failed", StatusPending, StatusFailed, true},
		{"sent to failed", StatusSent, StatusFailed, true},
		{"delivered to failed", StatusDelivered, StatusFailed, true},
		{"sent to pending is backwards", StatusSent, StatusPending, false},
		{"delivered to sent is backwards", StatusDelivered, StatusSent, false},
		{"sent to sent is a no-op", StatusSent, StatusSent, false},
		{"read is terminal", StatusRead, StatusDelivered, false},
		{"read cannot fail", StatusRead, StatusFailed, false},
		{"received is terminal", StatusReceived, StatusSent, false},
		{"failed is terminal", StatusFailed, StatusSent, false},
		{"failed cannot fail again", StatusFailed, StatusFailed, false},
		{"received is not a forward target", StatusPending, StatusReceived, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusRead.Terminal())
	assert.True(t, StatusReceived.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusSent.Terminal())
	assert.False(t, StatusDelivered.Terminal())
}

func TestChannelValid(t *testing.T) {
	assert.True(t, ChannelWhatsApp.Valid())
	assert.True(t, ChannelInternal.Valid())
	assert.False(t, Channel("SMS").Valid())
	assert.False(t, Channel("").Valid())
}
