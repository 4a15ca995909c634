// Package feed abstracts the change-feed that pushes newly appended
// messages to live viewers. The NATS implementation is the production
// transport; the memory implementation backs tests and single-node mode.
package feed

import (
	"context"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

// Handler receives one appended message. For a given subscription, handlers
// are invoked one at a time, in the conversation's append order.
type Handler func(m domain.Message)

// Subscription is an open live channel for one conversation. Unsubscribe is
// synchronous: once it returns, the handler is never invoked again. It must
// not be called from inside the handler.
type Subscription interface {
	Unsubscribe()
}

type Feed interface {
	Publish(ctx context.Context, conversationID string, m domain.Message) error
	Subscribe(conversationID string, h Handler) (Subscription, error)
}

// Recoverable is implemented by feeds whose transport can drop and come
// back. OnReconnect registers a callback fired after every successful
// reconnect and returns its unregister function.
type Recoverable interface {
	OnReconnect(fn func()) (unregister func())
}
