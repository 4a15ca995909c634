package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/feed"
	"github.com/bazaarhq/conversation-service/internal/metrics"
)

const catchUpTimeout = 10 * time.Second

// Lister is the catch-up read after a feed drop; *service.Log satisfies it.
type Lister interface {
	ListAfter(ctx context.Context, conversationID, lastSeenID string) ([]domain.Message, error)
}

// Manager owns the live update channels. Each owner (one viewer session)
// holds at most one open channel: opening a conversation releases the
// owner's previous channel first, so switching conversations can never
// accumulate forgotten subscriptions.
type Manager struct {
	feed   feed.Feed
	lister Lister
	log    *zap.SugaredLogger

	mu   sync.Mutex
	open map[string]*Handle // owner id -> open channel
}

func NewManager(f feed.Feed, lister Lister, logger *zap.SugaredLogger) *Manager {
	return &Manager{feed: f, lister: lister, log: logger, open: make(map[string]*Handle)}
}

// Handle is one open live channel.
type Handle struct {
	manager        *Manager
	owner          string
	conversationID string
	onMessage      feed.Handler
	onLost         func(error)

	sub        feed.Subscription
	unregister func()

	// deliverMu serializes onMessage invocations against Close. The feed's
	// own barrier only covers deliveries dispatched by the subscription;
	// catch-up calls deliver directly and needs the same guarantee.
	deliverMu sync.Mutex

	mu       sync.Mutex
	lastSeen string
	closed   bool
}

// Open subscribes the owner to a conversation's feed, first releasing any
// channel the owner already holds. onMessage sees every message appended
// while the channel is open, at least once, in append order. onLost fires
// only when a dropped feed could not be resynchronized; it may be nil.
func (mg *Manager) Open(ownerID, conversationID string, onMessage feed.Handler, onLost func(error)) (*Handle, error) {
	mg.mu.Lock()
	prev := mg.open[ownerID]
	delete(mg.open, ownerID)
	mg.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	h := &Handle{
		manager:        mg,
		owner:          ownerID,
		conversationID: conversationID,
		onMessage:      onMessage,
		onLost:         onLost,
	}
	sub, err := mg.feed.Subscribe(conversationID, h.deliver)
	if err != nil {
		return nil, fmt.Errorf("open channel for %s: %w", conversationID, err)
	}
	h.sub = sub
	if rec, ok := mg.feed.(feed.Recoverable); ok {
		h.unregister = rec.OnReconnect(h.catchUp)
	}

	mg.mu.Lock()
	mg.open[ownerID] = h
	mg.mu.Unlock()
	metrics.LiveSubscriptionsOpen.Inc()
	return h, nil
}

// Release closes whatever channel the owner holds, if any.
func (mg *Manager) Release(ownerID string) {
	mg.mu.Lock()
	h := mg.open[ownerID]
	delete(mg.open, ownerID)
	mg.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func (h *Handle) deliver(m domain.Message) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.lastSeen = m.ID
	h.mu.Unlock()
	h.onMessage(m)
}

// SetLastSeen records the newest message id already shown to the viewer
// (from the initial history load) so that catch-up after a drop starts
// past it.
func (h *Handle) SetLastSeen(id string) {
	h.mu.Lock()
	h.lastSeen = id
	h.mu.Unlock()
}

// catchUp re-reads the log past the last delivered message after the feed
// reconnects. Messages published while the connection was down are
// delivered here; anything redelivered by both paths is absorbed by the
// id-keyed timeline on the consumer side.
func (h *Handle) catchUp() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	lastSeen := h.lastSeen
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), catchUpTimeout)
	defer cancel()
	missed, err := h.manager.lister.ListAfter(ctx, h.conversationID, lastSeen)
	if err != nil {
		h.manager.log.Errorw("live channel catch-up failed",
			"conversation_id", h.conversationID, "owner", h.owner, "err", err)
		if h.onLost != nil {
			h.onLost(fmt.Errorf("%w: catch-up: %v", domain.ErrChannelLost, err))
		}
		return
	}
	for _, m := range missed {
		h.deliver(m)
	}
}

// Close releases the channel. After Close returns, onMessage is never
// invoked again, whether the delivery came from the feed or from a
// catch-up. Closing twice is a no-op. Like Unsubscribe, Close must not be
// called from inside onMessage.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.sub.Unsubscribe()
	if h.unregister != nil {
		h.unregister()
	}

	// Wait out an in-flight catch-up delivery; later catch-up deliveries
	// observe closed and skip the handler.
	h.deliverMu.Lock()
	h.deliverMu.Unlock()

	mg := h.manager
	mg.mu.Lock()
	if mg.open[h.owner] == h {
		delete(mg.open, h.owner)
	}
	mg.mu.Unlock()
	metrics.LiveSubscriptionsOpen.Dec()
}
