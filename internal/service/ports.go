package service

import (
	"context"
	"time"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

// Store ports. The Mongo repositories and the in-memory stores both satisfy
// these; services never see a concrete backend.

type ConversationStore interface {
	Insert(ctx context.Context, c *domain.Conversation) error
	FindByID(ctx context.Context, id string) (*domain.Conversation, error)
	FindByIDs(ctx context.Context, ids []string) ([]domain.Conversation, error)
	SetUpdatedAt(ctx context.Context, id string, at time.Time) error
	// Delete exists only as a compensation hook for the create saga.
	Delete(ctx context.Context, id string) error
}

type ParticipantStore interface {
	// Add is idempotent per (conversation_id, user_id); re-adding an
	// existing pair is a no-op.
	Add(ctx context.Context, ps []domain.Participant) error
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Participant, error)
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	CountByConversations(ctx context.Context, conversationIDs []string) (map[string]int, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	DeleteByConversation(ctx context.Context, conversationID string) error
}

type MessageStore interface {
	Insert(ctx context.Context, m *domain.Message) error
	// ListByConversation returns an ascending created_at snapshot as of
	// call time; it never blocks on in-flight appends.
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Message, error)
	FindByIDs(ctx context.Context, ids []string) ([]domain.Message, error)
	// LastByConversations resolves the newest message per conversation in
	// one batched call.
	LastByConversations(ctx context.Context, conversationIDs []string) (map[string]domain.Message, error)
	DeleteByConversation(ctx context.Context, conversationID string) error
}

type ReceiptStore interface {
	// Upsert inserts the receipt if absent and reports whether it was new.
	// An existing receipt keeps its original read_at.
	Upsert(ctx context.Context, r domain.ReadReceipt) (bool, error)
}

// FeedPublisher pushes an appended message to live subscribers of its
// conversation.
type FeedPublisher interface {
	Publish(ctx context.Context, conversationID string, m domain.Message) error
}

// EventSink receives durable domain events for downstream consumers.
// Publishing is best effort; failures are logged, never surfaced.
type EventSink interface {
	ConversationCreated(ctx context.Context, c domain.Conversation, participants []domain.Participant)
	MessageAppended(ctx context.Context, m domain.Message)
}

// NameResolver batch-resolves user ids to display names for listings.
type NameResolver interface {
	Resolve(ctx context.Context, userIDs []string) (map[string]string, error)
}
