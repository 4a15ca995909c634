package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

const previewLimit = 120

// LastMessageSummary is the projected "most recent message" for one
// conversation. Empty marks a conversation that has no messages at all; it
// is still listed, never omitted.
type LastMessageSummary struct {
	Empty      bool               `json:"empty"`
	MessageID  string             `json:"message_id,omitempty"`
	SenderID   string             `json:"sender_id,omitempty"`
	SenderName string             `json:"sender_name,omitempty"`
	Preview    string             `json:"preview,omitempty"`
	Kind       domain.MessageKind `json:"kind,omitempty"`
	SentAt     time.Time          `json:"sent_at,omitempty"`
}

// Inbox batch-resolves last-message summaries for directory listings: one
// store call for the newest message of every conversation, one resolver
// call for all sender names.
type Inbox struct {
	messages MessageStore
	names    NameResolver
	logger   *zap.SugaredLogger
}

func NewInbox(ms MessageStore, names NameResolver, logger *zap.SugaredLogger) *Inbox {
	return &Inbox{messages: ms, names: names, logger: logger}
}

func (i *Inbox) Project(ctx context.Context, conversationIDs []string) (map[string]LastMessageSummary, error) {
	last, err := i.messages.LastByConversations(ctx, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}

	senderSet := map[string]bool{}
	for _, m := range last {
		if m.SenderID != domain.SystemSender {
			senderSet[m.SenderID] = true
		}
	}
	names := map[string]string{}
	if i.names != nil && len(senderSet) > 0 {
		ids := make([]string, 0, len(senderSet))
		for id := range senderSet {
			ids = append(ids, id)
		}
		names, err = i.names.Resolve(ctx, ids)
		if err != nil {
			// Display names are decoration; fall back to raw ids.
			i.logger.Warnw("resolve sender names", "err", err)
			names = map[string]string{}
		}
	}

	out := make(map[string]LastMessageSummary, len(conversationIDs))
	for _, id := range conversationIDs {
		m, ok := last[id]
		if !ok {
			out[id] = LastMessageSummary{Empty: true}
			continue
		}
		name := names[m.SenderID]
		if name == "" {
			name = m.SenderID
		}
		preview := m.Content
		if len(preview) > previewLimit {
			// cut on a rune boundary so the preview stays valid UTF-8
			cut := previewLimit
			for cut > 0 && !utf8.RuneStart(preview[cut]) {
				cut--
			}
			preview = preview[:cut]
		}
		out[id] = LastMessageSummary{
			MessageID:  m.ID,
			SenderID:   m.SenderID,
			SenderName: name,
			Preview:    preview,
			Kind:       m.Kind,
			SentAt:     m.CreatedAt,
		}
	}
	return out, nil
}
