package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/metrics"
)

// Log is the append-only message log. It is the single source of truth for
// message ordering within a conversation: appends to one conversation are
// serialized here, and created_at values are assigned strictly increasing
// so that list order and append order always agree.
type Log struct {
	conversations ConversationStore
	participants  ParticipantStore
	messages      MessageStore

	feed   FeedPublisher
	events EventSink
	log    *zap.SugaredLogger

	now func() time.Time

	mu         sync.Mutex
	lastAppend map[string]time.Time // conversation id -> last assigned created_at
}

func NewLog(cs ConversationStore, ps ParticipantStore, ms MessageStore, feed FeedPublisher, events EventSink, logger *zap.SugaredLogger) *Log {
	return &Log{
		conversations: cs,
		participants:  ps,
		messages:      ms,
		feed:          feed,
		events:        events,
		log:           logger,
		now:           time.Now,
		lastAppend:    make(map[string]time.Time),
	}
}

// Append validates, timestamps and persists a message, bumps the owning
// conversation's updated_at to the same instant, and notifies live
// subscribers. Store failures are reported to the caller and never retried
// here: a blind retry of a committed-but-unacknowledged insert would
// duplicate the message.
func (l *Log) Append(ctx context.Context, conversationID, senderID, content string, kind domain.MessageKind, metadata map[string]any) (*domain.Message, error) {
	m, err := domain.NewMessage(conversationID, senderID, content, kind, metadata)
	if err != nil {
		return nil, err
	}

	if _, err := l.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if senderID != domain.SystemSender {
		ok, err := l.participants.IsParticipant(ctx, conversationID, senderID)
		if err != nil {
			return nil, fmt.Errorf("check participant: %w", err)
		}
		if !ok {
			return nil, domain.Validation("sender %s is not a participant of %s", senderID, conversationID)
		}
	}

	m.CreatedAt = l.nextTimestamp(conversationID)

	if err := l.messages.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := l.conversations.SetUpdatedAt(ctx, conversationID, m.CreatedAt); err != nil {
		// The message is committed; a stale updated_at only degrades inbox
		// ordering until the next append.
		l.log.Warnw("bump conversation updated_at", "conversation_id", conversationID, "err", err)
	}

	metrics.MessagesAppended.WithLabelValues(string(m.Kind)).Inc()

	if l.feed != nil {
		if err := l.feed.Publish(ctx, conversationID, *m); err != nil {
			l.log.Warnw("publish to live feed", "conversation_id", conversationID, "message_id", m.ID, "err", err)
		}
	}
	if l.events != nil {
		l.events.MessageAppended(ctx, *m)
	}
	return m, nil
}

// nextTimestamp hands out created_at values that strictly increase per
// conversation. When the wall clock has not advanced past the previous
// append (or moved backwards), the previous value plus 1ns is used so that
// ties keep insertion order.
func (l *Log) nextTimestamp(conversationID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.now().UTC()
	if last, ok := l.lastAppend[conversationID]; ok && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	l.lastAppend[conversationID] = ts
	return ts
}

// List returns the conversation's messages ascending by created_at, as a
// snapshot taken at call time.
func (l *Log) List(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return l.messages.ListByConversation(ctx, conversationID)
}

// ListAfter returns the messages appended strictly after lastSeenID. It is
// the catch-up read used when a live channel reconnects. An empty
// lastSeenID, or one no longer in the snapshot, yields the full list.
func (l *Log) ListAfter(ctx context.Context, conversationID, lastSeenID string) ([]domain.Message, error) {
	msgs, err := l.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if lastSeenID == "" {
		return msgs, nil
	}
	for i, m := range msgs {
		if m.ID == lastSeenID {
			return msgs[i+1:], nil
		}
	}
	return msgs, nil
}
