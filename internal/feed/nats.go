package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/metrics"
)

const subjectPrefix = "conversations."

// NATS carries the live feed over one subject per conversation
// ("conversations.<id>.messages"). NATS preserves publish order per
// subject, which gives subscribers the conversation's append order.
type NATS struct {
	conn *nats.Conn
	log  *zap.SugaredLogger

	mu          sync.Mutex
	reconnectCb map[int]func()
	nextCbID    int
}

// ConnectNATS dials the server with retry and reconnect handling. The
// initial dial backs off exponentially up to maxWait.
func ConnectNATS(url string, maxWait time.Duration, logger *zap.SugaredLogger) (*NATS, error) {
	f := &NATS{log: logger, reconnectCb: make(map[int]func())}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnw("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			metrics.FeedReconnects.Inc()
			logger.Infow("nats reconnected", "url", nc.ConnectedUrl())
			f.fireReconnect()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Warn("nats connection closed")
		}),
	}

	var conn *nats.Conn
	dial := func() error {
		c, err := nats.Connect(url, opts...)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	if err := backoff.Retry(dial, b); err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	f.conn = conn
	return f, nil
}

func subject(conversationID string) string {
	return subjectPrefix + conversationID + ".messages"
}

func (f *NATS) Publish(_ context.Context, conversationID string, m domain.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return f.conn.Publish(subject(conversationID), b)
}

func (f *NATS) Subscribe(conversationID string, h Handler) (Subscription, error) {
	s := &natsSub{handler: h}
	sub, err := f.conn.Subscribe(subject(conversationID), func(msg *nats.Msg) {
		var m domain.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			f.log.Warnw("drop undecodable feed event", "subject", msg.Subject, "err", err)
			return
		}
		s.deliver(m)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", conversationID, err)
	}
	s.sub = sub
	return s, nil
}

// OnReconnect registers a callback fired after each successful reconnect,
// so owners of subscriptions can catch up on messages published while the
// connection was down.
func (f *NATS) OnReconnect(fn func()) func() {
	f.mu.Lock()
	id := f.nextCbID
	f.nextCbID++
	f.reconnectCb[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.reconnectCb, id)
		f.mu.Unlock()
	}
}

func (f *NATS) fireReconnect() {
	f.mu.Lock()
	cbs := make([]func(), 0, len(f.reconnectCb))
	for _, fn := range f.reconnectCb {
		cbs = append(cbs, fn)
	}
	f.mu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}

func (f *NATS) Close() {
	f.conn.Drain()
}

type natsSub struct {
	sub     *nats.Subscription
	handler Handler

	mu     sync.Mutex
	closed bool
}

func (s *natsSub) deliver(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handler(m)
}

func (s *natsSub) Unsubscribe() {
	// Unsubscribe stops new callback dispatches; taking the mutex then
	// waits out an in-flight delivery.
	_ = s.sub.Unsubscribe()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
