package feed

import (
	"context"
	"sync"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

// Memory is an in-process feed. Each subscription owns an unbounded FIFO
// queue drained by one goroutine, so Publish never blocks on a slow
// consumer and per-conversation delivery order is the publish order.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{} // conversation id -> subscriptions
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySub]struct{})}
}

func (f *Memory) Publish(_ context.Context, conversationID string, m domain.Message) error {
	f.mu.Lock()
	targets := make([]*memorySub, 0, len(f.subs[conversationID]))
	for s := range f.subs[conversationID] {
		targets = append(targets, s)
	}
	f.mu.Unlock()
	for _, s := range targets {
		s.enqueue(m)
	}
	return nil
}

func (f *Memory) Subscribe(conversationID string, h Handler) (Subscription, error) {
	s := &memorySub{
		feed:           f,
		conversationID: conversationID,
		handler:        h,
	}
	s.cond = sync.NewCond(&s.mu)

	f.mu.Lock()
	if f.subs[conversationID] == nil {
		f.subs[conversationID] = make(map[*memorySub]struct{})
	}
	f.subs[conversationID][s] = struct{}{}
	f.mu.Unlock()

	go s.run()
	return s, nil
}

// Close tears down all subscriptions, mainly for tests.
func (f *Memory) Close() {
	f.mu.Lock()
	var all []*memorySub
	for _, set := range f.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	f.subs = make(map[string]map[*memorySub]struct{})
	f.mu.Unlock()
	for _, s := range all {
		s.Unsubscribe()
	}
}

type memorySub struct {
	feed           *Memory
	conversationID string
	handler        Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.Message
	closed bool

	// deliverMu serializes handler invocation against Unsubscribe, which
	// is what makes Unsubscribe synchronous.
	deliverMu sync.Mutex
}

func (s *memorySub) enqueue(m domain.Message) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, m)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *memorySub) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		m := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliverMu.Lock()
		if !s.isClosed() {
			s.handler(m)
		}
		s.deliverMu.Unlock()
	}
}

func (s *memorySub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memorySub) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()

	// Wait out any in-flight delivery; after this the handler cannot run.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()

	f := s.feed
	f.mu.Lock()
	if set, ok := f.subs[s.conversationID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(f.subs, s.conversationID)
		}
	}
	f.mu.Unlock()
}
