package models

import "time"

// Channel identifies the external platform a message is delivered through.
// ChannelInternal marks messages addressed to internal users only; their real
// channels are discovered during identity resolution.
type Channel string

const (
	ChannelWhatsApp  Channel = "WHATSAPP"
	ChannelTelegram  Channel = "TELEGRAM"
	ChannelInstagram Channel = "INSTAGRAM"
	ChannelInternal  Channel = "INTERNAL"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelTelegram, ChannelInstagram, ChannelInternal:
		return true
	}
	return false
}

// ExternalChannels lists the channels backed by a connector service.
func ExternalChannels() []Channel {
	return []Channel{ChannelWhatsApp, ChannelTelegram, ChannelInstagram}
}

// MessageEvent is the immutable record consumed by the delivery pipeline.
// Status changes are represented by emitting StatusUpdate records, never by
// mutating the event itself.
type MessageEvent struct {
	MessageID      string            `json:"message_id" bson:"_id"`
	ConversationID string            `json:"conversation_id" bson:"conversation_id"`
	SenderID       string            `json:"sender_id" bson:"sender_id"`
	RecipientIDs   []string          `json:"recipient_ids" bson:"recipient_ids"`
	Channel        Channel           `json:"channel" bson:"channel"`
	Content        string            `json:"content" bson:"content"`
	ContentType    string            `json:"content_type" bson:"content_type"`
	Status         MessageStatus     `json:"status" bson:"status"`
	Timestamp      time.Time         `json:"timestamp" bson:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}
