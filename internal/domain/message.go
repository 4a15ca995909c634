package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageText              MessageKind = "text"
	MessageSystem            MessageKind = "system"
	MessageAnnouncement      MessageKind = "announcement"
	MessagePromotion         MessageKind = "promotion"
	MessageOrderConfirmation MessageKind = "order_confirmation"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageSystem, MessageAnnouncement, MessagePromotion, MessageOrderConfirmation:
		return true
	}
	return false
}

// SystemSender is the reserved sender id for automatically generated
// messages. It is never a participant.
const SystemSender = "system"

// Message is an immutable entry in a conversation's log. Messages are never
// edited or deleted once appended.
type Message struct {
	ID             string         `bson:"_id" json:"id"`
	ConversationID string         `bson:"conversation_id" json:"conversation_id"`
	SenderID       string         `bson:"sender_id" json:"sender_id"`
	Content        string         `bson:"content" json:"content"`
	Kind           MessageKind    `bson:"kind" json:"kind"`
	Metadata       map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
}

// NewMessage validates and assembles a message. The timestamp is assigned
// later by the log so that append order and created_at order agree.
func NewMessage(conversationID, senderID, content string, kind MessageKind, metadata map[string]any) (*Message, error) {
	if conversationID == "" {
		return nil, Validation("conversation id required")
	}
	if senderID == "" {
		return nil, Validation("sender id required")
	}
	if !kind.Valid() {
		return nil, Validation("unknown message kind %q", kind)
	}
	content = strings.TrimSpace(content)
	if kind == MessageText && content == "" {
		return nil, Validation("text message content must not be empty")
	}
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		Metadata:       metadata,
	}, nil
}
