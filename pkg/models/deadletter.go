package models

import "time"

// DeadLetterEvent wraps a message that exhausted normal processing, published
// to the failure topic for later operator-driven reprocessing.
type DeadLetterEvent struct {
	Event        MessageEvent `json:"event"`
	Reason       string       `json:"reason"`
	AttemptsMade int          `json:"attempts_made"`
	FailedAt     time.Time    `json:"failed_at"`
}
