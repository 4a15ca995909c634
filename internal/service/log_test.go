package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

func TestAppendRejectsNonParticipant(t *testing.T) {
	e := newEnv(t)
	conv := e.mustCreate(t, "u1", "Order Q&A", domain.ConversationDirect, "u2")

	_, err := e.log.Append(context.Background(), conv.ID, "intruder", "hi", domain.MessageText, nil)
	require.True(t, domain.IsValidation(err))
}

func TestAppendRejectsUnknownConversation(t *testing.T) {
	e := newEnv(t)
	_, err := e.log.Append(context.Background(), "missing", "u1", "hi", domain.MessageText, nil)
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestAppendBumpsConversationUpdatedAt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.mustCreate(t, "u1", "Order Q&A", domain.ConversationDirect, "u2")

	msg, err := e.log.Append(ctx, conv.ID, "u2", "hello", domain.MessageText, nil)
	require.NoError(t, err)

	got, err := e.mem.Conversations().FindByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, msg.CreatedAt, got.UpdatedAt)
}

func TestAppendAssignsStrictlyIncreasingTimestamps(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.mustCreate(t, "u1", "Order Q&A", domain.ConversationDirect, "u2")

	// frozen clock: ordering must come from the log, not the wall clock
	frozen := time.Now().UTC()
	e.log.now = func() time.Time { return frozen }

	var prev time.Time
	for i := 0; i < 50; i++ {
		m, err := e.log.Append(ctx, conv.ID, "u1", fmt.Sprintf("m%d", i), domain.MessageText, nil)
		require.NoError(t, err)
		require.True(t, m.CreatedAt.After(prev), "timestamp %v not after %v", m.CreatedAt, prev)
		prev = m.CreatedAt
	}
}

func TestListOrderedUnderConcurrentAppends(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.mustCreate(t, "u1", "Busy", domain.ConversationGroup, "u2", "u3")

	senders := []string{"u1", "u2", "u3"}
	const perSender = 30

	var wg sync.WaitGroup
	for _, s := range senders {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := e.log.Append(ctx, conv.ID, sender, fmt.Sprintf("%s-%d", sender, i), domain.MessageText, nil)
				require.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	msgs, err := e.log.List(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, len(senders)*perSender+1) // +1 system message
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"message %d out of order", i)
	}
}

func TestListAfter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.mustCreate(t, "u1", "Order Q&A", domain.ConversationDirect, "u2")

	m1, err := e.log.Append(ctx, conv.ID, "u1", "one", domain.MessageText, nil)
	require.NoError(t, err)
	m2, err := e.log.Append(ctx, conv.ID, "u2", "two", domain.MessageText, nil)
	require.NoError(t, err)

	after, err := e.log.ListAfter(ctx, conv.ID, m1.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, m2.ID, after[0].ID)

	all, err := e.log.ListAfter(ctx, conv.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	// unknown anchor falls back to the full snapshot
	full, err := e.log.ListAfter(ctx, conv.ID, "vanished")
	require.NoError(t, err)
	require.Len(t, full, 3)
}

func TestAppendPublishesToFeedAndSink(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.mustCreate(t, "u1", "Order Q&A", domain.ConversationDirect, "u2")

	got := make(chan domain.Message, 1)
	sub, err := e.feed.Subscribe(conv.ID, func(m domain.Message) { got <- m })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg, err := e.log.Append(ctx, conv.ID, "u2", "hello", domain.MessageText, nil)
	require.NoError(t, err)

	select {
	case m := <-got:
		require.Equal(t, msg.ID, m.ID)
	case <-time.After(time.Second):
		t.Fatal("no feed delivery")
	}
	require.GreaterOrEqual(t, e.sink.appendedCount(), 2) // system message + append
}

func TestAppendAllowsNonTextKindsWithoutContent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.mustCreate(t, "u1", "Deals", domain.ConversationGroup, "u2")

	m, err := e.log.Append(ctx, conv.ID, "u1", "", domain.MessagePromotion,
		map[string]any{"discount_pct": 10})
	require.NoError(t, err)
	require.Equal(t, domain.MessagePromotion, m.Kind)

	_, err = e.log.Append(ctx, conv.ID, "u1", "  ", domain.MessageText, nil)
	require.True(t, domain.IsValidation(err))
}
