// Package store holds the in-memory store implementations used by tests
// and by `store: memory` mode, where the whole service runs without
// external infrastructure.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

var errInjected = errors.New("injected store failure")

// Memory is the shared state behind the four record-kind views. Reads copy
// out snapshots, so they are safe to run concurrently with writes and never
// observe a half-applied append.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	participants  map[string]map[string]domain.Participant // conversation id -> user id
	messages      map[string][]domain.Message              // conversation id, append order
	receipts      map[string]domain.ReadReceipt            // message id + "\x00" + user id

	// failure injection for saga and error-path tests.
	// FailMessageInsertAck commits the write but still reports an error,
	// like a timeout after the store applied the insert.
	FailParticipantAdd   bool
	FailMessageInsert    bool
	FailMessageInsertAck bool
}

func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]domain.Conversation),
		participants:  make(map[string]map[string]domain.Participant),
		messages:      make(map[string][]domain.Message),
		receipts:      make(map[string]domain.ReadReceipt),
	}
}

func (s *Memory) Conversations() *Conversations { return &Conversations{s} }
func (s *Memory) Participants() *Participants   { return &Participants{s} }
func (s *Memory) Messages() *Messages           { return &Messages{s} }
func (s *Memory) Receipts() *Receipts           { return &Receipts{s} }

// ConversationCount reports stored conversations, for tests.
func (s *Memory) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// ParticipantCount reports stored participant rows, for tests.
func (s *Memory) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, users := range s.participants {
		n += len(users)
	}
	return n
}

// MessageCount reports stored messages, for tests.
func (s *Memory) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msgs := range s.messages {
		n += len(msgs)
	}
	return n
}

// ReceiptCount reports stored receipts, for tests.
func (s *Memory) ReceiptCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

// Receipt returns the stored receipt for (messageID, userID), if any.
func (s *Memory) Receipt(messageID, userID string) (domain.ReadReceipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[messageID+"\x00"+userID]
	return r, ok
}

type Conversations struct{ s *Memory }

func (v *Conversations) Insert(_ context.Context, c *domain.Conversation) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.conversations[c.ID] = *c
	return nil
}

func (v *Conversations) FindByID(_ context.Context, id string) (*domain.Conversation, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	c, ok := v.s.conversations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (v *Conversations) FindByIDs(_ context.Context, ids []string) ([]domain.Conversation, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := v.s.conversations[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *Conversations) SetUpdatedAt(_ context.Context, id string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c, ok := v.s.conversations[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.UpdatedAt = at
	v.s.conversations[id] = c
	return nil
}

func (v *Conversations) Delete(_ context.Context, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.conversations, id)
	return nil
}

type Participants struct{ s *Memory }

func (v *Participants) Add(_ context.Context, ps []domain.Participant) error {
	if v.s.FailParticipantAdd {
		return errInjected
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, p := range ps {
		if v.s.participants[p.ConversationID] == nil {
			v.s.participants[p.ConversationID] = make(map[string]domain.Participant)
		}
		if _, exists := v.s.participants[p.ConversationID][p.UserID]; exists {
			continue // idempotent
		}
		v.s.participants[p.ConversationID][p.UserID] = p
	}
	return nil
}

func (v *Participants) ListByConversation(_ context.Context, conversationID string) ([]domain.Participant, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Participant, 0, len(v.s.participants[conversationID]))
	for _, p := range v.s.participants[conversationID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (v *Participants) ConversationIDsForUser(_ context.Context, userID string) ([]string, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []string
	for convID, users := range v.s.participants {
		if _, ok := users[userID]; ok {
			out = append(out, convID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (v *Participants) CountByConversations(_ context.Context, conversationIDs []string) (map[string]int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		out[id] = len(v.s.participants[id])
	}
	return out, nil
}

func (v *Participants) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	_, ok := v.s.participants[conversationID][userID]
	return ok, nil
}

func (v *Participants) DeleteByConversation(_ context.Context, conversationID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.participants, conversationID)
	return nil
}

type Messages struct{ s *Memory }

func (v *Messages) Insert(_ context.Context, m *domain.Message) error {
	if v.s.FailMessageInsert {
		return errInjected
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.messages[m.ConversationID] = append(v.s.messages[m.ConversationID], *m)
	if v.s.FailMessageInsertAck {
		return errInjected
	}
	return nil
}

func (v *Messages) ListByConversation(_ context.Context, conversationID string) ([]domain.Message, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	src := v.s.messages[conversationID]
	out := make([]domain.Message, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *Messages) FindByIDs(_ context.Context, ids []string) ([]domain.Message, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Message
	for _, msgs := range v.s.messages {
		for _, m := range msgs {
			if want[m.ID] {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (v *Messages) LastByConversations(_ context.Context, conversationIDs []string) (map[string]domain.Message, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make(map[string]domain.Message)
	for _, id := range conversationIDs {
		msgs := v.s.messages[id]
		if len(msgs) == 0 {
			continue
		}
		last := msgs[0]
		for _, m := range msgs[1:] {
			if !m.CreatedAt.Before(last.CreatedAt) {
				last = m
			}
		}
		out[id] = last
	}
	return out, nil
}

func (v *Messages) DeleteByConversation(_ context.Context, conversationID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	delete(v.s.messages, conversationID)
	return nil
}

type Receipts struct{ s *Memory }

func (v *Receipts) Upsert(_ context.Context, r domain.ReadReceipt) (bool, error) {
	key := r.MessageID + "\x00" + r.UserID
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.receipts[key]; ok {
		return false, nil
	}
	v.s.receipts[key] = r
	return true, nil
}
