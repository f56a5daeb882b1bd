package models

import "time"

// ExternalIdentity is one platform account linked to an internal user. Owned
// by the user directory service; read-only to the pipeline.
type ExternalIdentity struct {
	Platform       Channel `json:"platform"`
	PlatformUserID string  `json:"platform_user_id"`
	Verified       bool    `json:"verified"`
}

// UserProfile is the directory service's view of an internal user.
type UserProfile struct {
	ID                 string             `json:"id"`
	DisplayName        string             `json:"display_name"`
	ExternalIdentities []ExternalIdentity `json:"external_identities"`
}

// DeliveryOutcome is the normalized result of one adapter send.
type DeliveryOutcome struct {
	MessageID         string    `json:"message_id"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	Channel           Channel   `json:"channel"`
	TargetIdentity    string    `json:"target_identity"`
	Attempts          int       `json:"attempts"`
	Delivered         bool      `json:"delivered"`
	Error             string    `json:"error,omitempty"`
	CompletedAt       time.Time `json:"completed_at"`
}
