package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/feed"
	"github.com/bazaarhq/conversation-service/internal/live"
	"github.com/bazaarhq/conversation-service/internal/service"
	"github.com/bazaarhq/conversation-service/internal/store"
)

type wsEnv struct {
	mem       *store.Memory
	feed      *feed.Memory
	log       *service.Log
	directory *service.Directory
	receipts  *service.Receipts
	manager   *live.Manager
	logger    *zap.SugaredLogger
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	mem := store.NewMemory()
	f := feed.NewMemory()
	t.Cleanup(f.Close)
	logger := zap.NewNop().Sugar()

	msgLog := service.NewLog(mem.Conversations(), mem.Participants(), mem.Messages(), f, nil, logger)
	inbox := service.NewInbox(mem.Messages(), nil, logger)
	dir := service.NewDirectory(mem.Conversations(), mem.Participants(), mem.Messages(), msgLog, inbox, nil, logger)
	rec := service.NewReceipts(mem.Messages(), mem.Receipts())
	mg := live.NewManager(f, msgLog, logger)

	return &wsEnv{
		mem:       mem,
		feed:      f,
		log:       msgLog,
		directory: dir,
		receipts:  rec,
		manager:   mg,
		logger:    logger,
	}
}

func mustCreate(t *testing.T, d *service.Directory, initiator string, others ...string) *domain.Conversation {
	t.Helper()
	conv, err := d.Create(context.Background(), initiator, domain.RoleOwner, "Order Q&A",
		domain.ConversationDirect, others, domain.RoleMember)
	require.NoError(t, err)
	return conv
}

// newTestClient builds a socket-less client; frames land on cl.send.
func newTestClient(userID string) *wsClient {
	return &wsClient{
		send:   make(chan serverFrame, 64),
		done:   make(chan struct{}),
		owner:  userID + ":test",
		userID: userID,
	}
}

func nextFrame(t *testing.T, cl *wsClient) serverFrame {
	t.Helper()
	select {
	case f := <-cl.send:
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame")
		return serverFrame{}
	}
}

// afterListLog runs a hook once the history snapshot has been read,
// simulating a message appended while the open is in flight.
type afterListLog struct {
	*service.Log
	after func()
}

func (l *afterListLog) List(ctx context.Context, conversationID string) ([]domain.Message, error) {
	msgs, err := l.Log.List(ctx, conversationID)
	if l.after != nil {
		fn := l.after
		l.after = nil
		fn()
	}
	return msgs, err
}

func TestOpenDeliversMessageAppendedAfterHistorySnapshot(t *testing.T) {
	e := newWSEnv(t)
	conv := mustCreate(t, e.directory, "u1", "u2")

	var racing *domain.Message
	hooked := &afterListLog{Log: e.log}
	hooked.after = func() {
		m, err := e.log.Append(context.Background(), conv.ID, "u2", "racing", domain.MessageText, nil)
		require.NoError(t, err)
		racing = m
	}
	h := NewWSHandler(hooked, e.receipts, e.manager, e.logger)

	cl := newTestClient("u1")
	h.openConversation(cl, conv.ID)
	defer e.manager.Release(cl.owner)

	// the racing message missed the snapshot but must still arrive,
	// exactly once, over the live channel
	seen := 0
	gotHistory := false
	deadline := time.After(time.Second)
	for seen == 0 || !gotHistory {
		select {
		case f := <-cl.send:
			switch f.Type {
			case "history":
				gotHistory = true
				for _, m := range f.Messages {
					require.NotEqual(t, racing.ID, m.ID, "racing message should have missed the snapshot")
				}
			case "message":
				if f.Message != nil && f.Message.ID == racing.ID {
					seen++
				}
			}
		case <-deadline:
			t.Fatalf("racing message seen %d times, history received: %v", seen, gotHistory)
		}
	}

	time.Sleep(50 * time.Millisecond)
drain:
	for {
		select {
		case f := <-cl.send:
			if f.Type == "message" && f.Message != nil && f.Message.ID == racing.ID {
				seen++
			}
		default:
			break drain
		}
	}
	require.Equal(t, 1, seen)
}

func TestSendEchoesOptimisticallyExactlyOnce(t *testing.T) {
	e := newWSEnv(t)
	conv := mustCreate(t, e.directory, "u1", "u2")

	h := NewWSHandler(e.log, e.receipts, e.manager, e.logger)
	cl := newTestClient("u1")
	h.openConversation(cl, conv.ID)
	defer e.manager.Release(cl.owner)
	require.Equal(t, "history", nextFrame(t, cl).Type)

	h.sendMessage(cl, clientFrame{Action: "send", ConversationID: conv.ID, Content: "hi"})

	f := nextFrame(t, cl)
	require.Equal(t, "message", f.Type)
	require.Equal(t, "hi", f.Message.Content)

	// the feed delivery of the same id must not render a second frame
	time.Sleep(50 * time.Millisecond)
	select {
	case dup := <-cl.send:
		t.Fatalf("unexpected extra frame %q", dup.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendToAnotherConversationDoesNotPaintOpenView(t *testing.T) {
	e := newWSEnv(t)
	convA := mustCreate(t, e.directory, "u1", "u2")
	convB := mustCreate(t, e.directory, "u1", "u3")

	h := NewWSHandler(e.log, e.receipts, e.manager, e.logger)
	cl := newTestClient("u1")
	h.openConversation(cl, convA.ID)
	defer e.manager.Release(cl.owner)
	require.Equal(t, "history", nextFrame(t, cl).Type)
	openLen := cl.timeline.Len()

	h.sendMessage(cl, clientFrame{Action: "send", ConversationID: convB.ID, Content: "elsewhere"})

	// the append went through
	msgs, err := e.log.List(context.Background(), convB.ID)
	require.NoError(t, err)
	require.Equal(t, "elsewhere", msgs[len(msgs)-1].Content)

	// but nothing foreign renders into the open view
	select {
	case f := <-cl.send:
		t.Fatalf("unexpected frame %q for conversation %s", f.Type, f.ConversationID)
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, openLen, cl.timeline.Len())
}
