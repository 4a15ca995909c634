package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/feed"
)

// recoverableFeed wraps the memory feed with a manually fired reconnect
// signal, standing in for the NATS transport.
type recoverableFeed struct {
	*feed.Memory

	mu        sync.Mutex
	callbacks map[int]func()
	next      int
}

func newRecoverableFeed() *recoverableFeed {
	return &recoverableFeed{Memory: feed.NewMemory(), callbacks: make(map[int]func())}
}

func (f *recoverableFeed) OnReconnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.callbacks[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.callbacks, id)
	}
}

func (f *recoverableFeed) fireReconnect() {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.callbacks))
	for _, fn := range f.callbacks {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *recoverableFeed) registered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

type fakeLister struct {
	mu       sync.Mutex
	messages []domain.Message
	err      error
	lastArg  string
}

func (l *fakeLister) ListAfter(_ context.Context, _ string, lastSeenID string) ([]domain.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastArg = lastSeenID
	if l.err != nil {
		return nil, l.err
	}
	return l.messages, nil
}

func waitFor(t *testing.T, ch <-chan domain.Message) domain.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return domain.Message{}
	}
}

func TestOpenDeliversFeedMessages(t *testing.T) {
	f := newRecoverableFeed()
	defer f.Close()
	mg := NewManager(f, &fakeLister{}, zap.NewNop().Sugar())

	got := make(chan domain.Message, 4)
	h, err := mg.Open("viewer-1", "c1", func(m domain.Message) { got <- m }, nil)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, f.Publish(context.Background(), "c1", tmsg("m1")))
	require.Equal(t, "m1", waitFor(t, got).ID)
}

func TestOpenReleasesPreviousChannel(t *testing.T) {
	f := newRecoverableFeed()
	defer f.Close()
	mg := NewManager(f, &fakeLister{}, zap.NewNop().Sugar())

	first := make(chan domain.Message, 4)
	h1, err := mg.Open("viewer-1", "c1", func(m domain.Message) { first <- m }, nil)
	require.NoError(t, err)

	second := make(chan domain.Message, 4)
	h2, err := mg.Open("viewer-1", "c2", func(m domain.Message) { second <- m }, nil)
	require.NoError(t, err)
	defer h2.Close()
	require.NotSame(t, h1, h2)

	// the first channel is gone: nothing published to c1 reaches it
	require.NoError(t, f.Publish(context.Background(), "c1", tmsg("stale")))
	require.NoError(t, f.Publish(context.Background(), "c2", tmsg("fresh")))

	require.Equal(t, "fresh", waitFor(t, second).ID)
	select {
	case m := <-first:
		t.Fatalf("closed channel still delivered %s", m.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReleaseStopsDelivery(t *testing.T) {
	f := newRecoverableFeed()
	defer f.Close()
	mg := NewManager(f, &fakeLister{}, zap.NewNop().Sugar())

	got := make(chan domain.Message, 4)
	_, err := mg.Open("viewer-1", "c1", func(m domain.Message) { got <- m }, nil)
	require.NoError(t, err)

	mg.Release("viewer-1")
	require.NoError(t, f.Publish(context.Background(), "c1", tmsg("m1")))

	select {
	case m := <-got:
		t.Fatalf("released channel still delivered %s", m.ID)
	case <-time.After(50 * time.Millisecond):
	}

	// releasing an owner with no channel is a no-op
	mg.Release("viewer-1")
	mg.Release("nobody")
}

func TestReconnectCatchUpDeliversMissedMessages(t *testing.T) {
	f := newRecoverableFeed()
	defer f.Close()
	lister := &fakeLister{messages: []domain.Message{tmsg("m2"), tmsg("m3")}}
	mg := NewManager(f, lister, zap.NewNop().Sugar())

	got := make(chan domain.Message, 4)
	h, err := mg.Open("viewer-1", "c1", func(m domain.Message) { got <- m }, nil)
	require.NoError(t, err)
	defer h.Close()
	h.SetLastSeen("m1")

	f.fireReconnect()

	require.Equal(t, "m2", waitFor(t, got).ID)
	require.Equal(t, "m3", waitFor(t, got).ID)

	lister.mu.Lock()
	require.Equal(t, "m1", lister.lastArg, "catch-up reads past the last seen id")
	lister.mu.Unlock()
}

func TestReconnectCatchUpFailureReportsChannelLost(t *testing.T) {
	f := newRecoverableFeed()
	defer f.Close()
	lister := &fakeLister{err: errors.New("store down")}
	mg := NewManager(f, lister, zap.NewNop().Sugar())

	lost := make(chan error, 1)
	h, err := mg.Open("viewer-1", "c1", func(domain.Message) {}, func(e error) { lost <- e })
	require.NoError(t, err)
	defer h.Close()

	f.fireReconnect()

	select {
	case e := <-lost:
		require.True(t, errors.Is(e, domain.ErrChannelLost))
	case <-time.After(time.Second):
		t.Fatal("onLost never fired")
	}
}

func TestCloseWaitsForInFlightCatchUpDelivery(t *testing.T) {
	f := newRecoverableFeed()
	defer f.Close()
	lister := &fakeLister{messages: []domain.Message{tmsg("m1"), tmsg("m2")}}
	mg := NewManager(f, lister, zap.NewNop().Sugar())

	inHandler := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	h, err := mg.Open("viewer-1", "c1", func(domain.Message) {
		mu.Lock()
		delivered++
		first := delivered == 1
		mu.Unlock()
		if first {
			close(inHandler)
			<-release
		}
	}, nil)
	require.NoError(t, err)

	go f.fireReconnect()
	<-inHandler

	closeDone := make(chan struct{})
	go func() {
		h.Close()
		close(closeDone)
	}()

	// Close must block while the catch-up delivery is still running.
	select {
	case <-closeDone:
		t.Fatal("close returned while a catch-up delivery was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closeDone:
	case <-time.After(time.Second):
		t.Fatal("close never returned")
	}

	// m2 was still queued behind the in-flight catch-up delivery; after
	// Close it must never reach the handler.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, delivered)
}

func TestCloseUnregistersReconnectCallback(t *testing.T) {
	f := newRecoverableFeed()
	defer f.Close()
	mg := NewManager(f, &fakeLister{}, zap.NewNop().Sugar())

	h, err := mg.Open("viewer-1", "c1", func(domain.Message) {}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.registered())

	h.Close()
	h.Close() // idempotent
	require.Equal(t, 0, f.registered())
}
