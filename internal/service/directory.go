package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/metrics"
)

// Directory creates conversations and lists a user's inbox. Creation spans
// three writes (conversation, participants, initial system message) and is
// run as a saga: any stage failure compensates the stages already written,
// so callers never observe a conversation without participants or without
// its initial message.
type Directory struct {
	conversations ConversationStore
	participants  ParticipantStore
	messages      MessageStore
	log           *Log
	inbox         *Inbox
	events        EventSink
	logger        *zap.SugaredLogger

	now func() time.Time
}

func NewDirectory(cs ConversationStore, ps ParticipantStore, ms MessageStore, log *Log, inbox *Inbox, events EventSink, logger *zap.SugaredLogger) *Directory {
	return &Directory{
		conversations: cs,
		participants:  ps,
		messages:      ms,
		log:           log,
		inbox:         inbox,
		events:        events,
		logger:        logger,
		now:           time.Now,
	}
}

// Create provisions a conversation, its participants and the initial system
// message as one unit. The initiator is always included as a participant
// with initiatorRole (participantRole applies to everyone else). Duplicate
// user ids collapse to one participant.
func (d *Directory) Create(ctx context.Context, initiatorID, initiatorRole, title string, kind domain.ConversationKind, participantIDs []string, participantRole string) (*domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domain.Validation("title must not be empty")
	}
	if len(participantIDs) == 0 {
		return nil, domain.Validation("participant list must not be empty")
	}
	if initiatorID == "" {
		return nil, domain.Validation("initiator required")
	}
	if !kind.Valid() {
		return nil, domain.Validation("unknown conversation kind %q", kind)
	}
	if initiatorRole == "" {
		initiatorRole = domain.RoleOwner
	}
	if participantRole == "" {
		participantRole = domain.RoleMember
	}

	now := d.now().UTC()
	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}

	members := []domain.Participant{{
		ConversationID: conv.ID,
		UserID:         initiatorID,
		Role:           initiatorRole,
		JoinedAt:       now,
	}}
	seen := map[string]bool{initiatorID: true}
	for _, id := range participantIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, domain.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           participantRole,
			JoinedAt:       now,
		})
	}

	// Stage 1: conversation row.
	if err := d.conversations.Insert(ctx, conv); err != nil {
		return nil, &domain.CreateConversationError{Stage: "conversation", Err: err}
	}

	// Stage 2: participant rows. Add may have written a subset before
	// failing, so compensation sweeps participants too.
	if err := d.participants.Add(ctx, members); err != nil {
		d.compensate(conv.ID, true, true, false)
		return nil, &domain.CreateConversationError{Stage: "participants", Err: err}
	}

	// Stage 3: initial system message, through the log so ordering and
	// updated_at bookkeeping follow the normal append path.
	content := fmt.Sprintf("Conversation %q created", title)
	if _, err := d.log.Append(ctx, conv.ID, domain.SystemSender, content, domain.MessageSystem, nil); err != nil {
		d.compensate(conv.ID, true, true, true)
		return nil, &domain.CreateConversationError{Stage: "system_message", Err: err}
	}

	metrics.ConversationsCreated.Inc()
	if d.events != nil {
		d.events.ConversationCreated(ctx, *conv, members)
	}
	return conv, nil
}

// compensate deletes the rows written by completed or partially completed
// stages. A failed system-message append may still have committed its
// insert (a timeout after the write), so that stage sweeps messages as
// well. It runs on a fresh context so a canceled request still cleans up.
func (d *Directory) compensate(conversationID string, convWritten, participantsWritten, messageMaybeWritten bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if messageMaybeWritten {
		if err := d.messages.DeleteByConversation(ctx, conversationID); err != nil {
			d.logger.Errorw("compensate system message", "conversation_id", conversationID, "err", err)
		}
	}
	if participantsWritten {
		if err := d.participants.DeleteByConversation(ctx, conversationID); err != nil {
			d.logger.Errorw("compensate participants", "conversation_id", conversationID, "err", err)
		}
	}
	if convWritten {
		if err := d.conversations.Delete(ctx, conversationID); err != nil {
			d.logger.Errorw("compensate conversation", "conversation_id", conversationID, "err", err)
		}
	}
}

// ConversationListing is one inbox row.
type ConversationListing struct {
	Conversation     domain.Conversation `json:"conversation"`
	ParticipantCount int                 `json:"participant_count"`
	LastMessage      LastMessageSummary  `json:"last_message"`
}

// ListForUser returns the user's conversations newest-activity first, with
// participant counts and last-message summaries resolved in batched calls
// rather than one round trip per row.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]ConversationListing, error) {
	if userID == "" {
		return nil, domain.Validation("user id required")
	}
	ids, err := d.participants.ConversationIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}
	if len(ids) == 0 {
		return []ConversationListing{}, nil
	}
	convs, err := d.conversations.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	counts, err := d.participants.CountByConversations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}
	summaries, err := d.inbox.Project(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("project inbox: %w", err)
	}

	out := make([]ConversationListing, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationListing{
			Conversation:     c,
			ParticipantCount: counts[c.ID],
			LastMessage:      summaries[c.ID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Conversation.UpdatedAt.After(out[j].Conversation.UpdatedAt)
	})
	return out, nil
}

// Participants lists a conversation's membership, unique by user id.
func (d *Directory) Participants(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	if conversationID == "" {
		return nil, domain.Validation("conversation id required")
	}
	return d.participants.ListByConversation(ctx, conversationID)
}

// AddParticipants adds members to an existing conversation. Re-adding an
// existing (conversation, user) pair is a no-op, not an error.
func (d *Directory) AddParticipants(ctx context.Context, conversationID string, userRoles map[string]string) error {
	if conversationID == "" {
		return domain.Validation("conversation id required")
	}
	if len(userRoles) == 0 {
		return domain.Validation("no participants given")
	}
	if _, err := d.conversations.FindByID(ctx, conversationID); err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	now := d.now().UTC()
	ps := make([]domain.Participant, 0, len(userRoles))
	for id, role := range userRoles {
		if id == "" {
			continue
		}
		if role == "" {
			role = domain.RoleMember
		}
		ps = append(ps, domain.Participant{
			ConversationID: conversationID,
			UserID:         id,
			Role:           role,
			JoinedAt:       now,
		})
	}
	return d.participants.Add(ctx, ps)
}
