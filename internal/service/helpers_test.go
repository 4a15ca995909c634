package service

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/feed"
	"github.com/bazaarhq/conversation-service/internal/store"
)

type recordingSink struct {
	mu            sync.Mutex
	conversations []domain.Conversation
	messages      []domain.Message
}

func (s *recordingSink) ConversationCreated(_ context.Context, c domain.Conversation, _ []domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append(s.conversations, c)
}

func (s *recordingSink) MessageAppended(_ context.Context, m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

func (s *recordingSink) appendedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type staticResolver struct {
	names map[string]string
	err   error
	calls int
}

func (r *staticResolver) Resolve(_ context.Context, ids []string) (map[string]string, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if n, ok := r.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type env struct {
	mem       *store.Memory
	feed      *feed.Memory
	sink      *recordingSink
	resolver  *staticResolver
	log       *Log
	inbox     *Inbox
	directory *Directory
	receipts  *Receipts
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemory()
	f := feed.NewMemory()
	t.Cleanup(f.Close)
	sink := &recordingSink{}
	resolver := &staticResolver{names: map[string]string{}}
	logger := zap.NewNop().Sugar()

	msgLog := NewLog(mem.Conversations(), mem.Participants(), mem.Messages(), f, sink, logger)
	inbox := NewInbox(mem.Messages(), resolver, logger)
	dir := NewDirectory(mem.Conversations(), mem.Participants(), mem.Messages(), msgLog, inbox, sink, logger)
	rec := NewReceipts(mem.Messages(), mem.Receipts())

	return &env{
		mem:       mem,
		feed:      f,
		sink:      sink,
		resolver:  resolver,
		log:       msgLog,
		inbox:     inbox,
		directory: dir,
		receipts:  rec,
	}
}

func (e *env) mustCreate(t *testing.T, initiator, title string, kind domain.ConversationKind, participants ...string) *domain.Conversation {
	t.Helper()
	conv, err := e.directory.Create(context.Background(), initiator, domain.RoleOwner, title, kind, participants, domain.RoleMember)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}
