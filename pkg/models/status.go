package models

import "time"

// MessageStatus is the delivery lifecycle state of a message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusReceived  MessageStatus = "RECEIVED"
	StatusFailed    MessageStatus = "FAILED"
)

// statusRank orders the forward-only progression PENDING → SENT → DELIVERED →
// READ. Terminal and out-of-band states carry no rank.
var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusReceived, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
func (s MessageStatus) Terminal() bool {
	return s == StatusRead || s == StatusReceived || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to target is legal: FAILED is
// reachable from any non-terminal state, otherwise the target's rank must
// exceed the current rank.
func (s MessageStatus) CanTransitionTo(target MessageStatus) bool {
	if s.Terminal() {
		return false
	}
	if target == StatusFailed {
		return true
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[target]
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// StatusUpdate is published once per observed status transition, keyed by
// MessageID so updates for one message stay ordered. Consumers must treat a
// replayed transition as a no-op.
type StatusUpdate struct {
	MessageID    string        `json:"message_id"`
	NewStatus    MessageStatus `json:"status"`
	Timestamp    time.Time     `json:"timestamp"`
	Source       string        `json:"source"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
