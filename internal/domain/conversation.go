package domain

import "time"

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

func (k ConversationKind) Valid() bool {
	return k == ConversationDirect || k == ConversationGroup
}

// Conversation is a thread of messages among a fixed set of participants.
// UpdatedAt always equals the timestamp of the newest message, or CreatedAt
// while the conversation only holds its initial system message.
type Conversation struct {
	ID        string           `bson:"_id" json:"id"`
	Title     string           `bson:"title,omitempty" json:"title,omitempty"`
	Kind      ConversationKind `bson:"kind" json:"kind"`
	CreatedAt time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time        `bson:"updated_at" json:"updated_at"`
}

// Participant roles are stored and surfaced but never enforced here;
// permission decisions belong to callers.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"

	RoleChief       = "chief"
	RoleCoordinator = "coordinator"
	RoleManager     = "manager"
	RoleVendor      = "vendor"
	RoleCustomer    = "customer"
)

type Participant struct {
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	UserID         string    `bson:"user_id" json:"user_id"`
	Role           string    `bson:"role" json:"role"`
	JoinedAt       time.Time `bson:"joined_at" json:"joined_at"`
}
