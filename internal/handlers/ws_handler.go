package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/auth"
	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/live"
	"github.com/bazaarhq/conversation-service/internal/service"
)

const wsOpTimeout = 10 * time.Second

// MessageLog is the slice of the message log the socket needs;
// *service.Log satisfies it.
type MessageLog interface {
	List(ctx context.Context, conversationID string) ([]domain.Message, error)
	Append(ctx context.Context, conversationID, senderID, content string, kind domain.MessageKind, metadata map[string]any) (*domain.Message, error)
}

// WSHandler drives one viewer socket. A viewer has at most one conversation
// open at a time; opening another one releases the previous live channel
// through the subscription manager before acquiring the new one.
type WSHandler struct {
	log      MessageLog
	receipts *service.Receipts
	manager  *live.Manager
	logger   *zap.SugaredLogger
}

func NewWSHandler(l MessageLog, r *service.Receipts, m *live.Manager, logger *zap.SugaredLogger) *WSHandler {
	return &WSHandler{log: l, receipts: r, manager: m, logger: logger}
}

type clientFrame struct {
	Action         string         `json:"action"` // "open" | "send"
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content,omitempty"`
	Kind           string         `json:"kind,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type serverFrame struct {
	Type           string           `json:"type"` // "history" | "message" | "channel_lost" | "error"
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []domain.Message `json:"messages,omitempty"`
	Message        *domain.Message  `json:"message,omitempty"`
	Error          string           `json:"error,omitempty"`
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan serverFrame
	done  chan struct{}
	owner string // viewer session id: one live channel per socket

	userID   string
	convID   string
	timeline *live.Timeline
}

// push enqueues a frame for the writer pump. It blocks on a full queue
// (at-least-once, no drops) but bails out once the socket is gone.
func (cl *wsClient) push(f serverFrame) {
	select {
	case cl.send <- f:
	case <-cl.done:
	}
}

func (cl *wsClient) writePump() {
	for {
		select {
		case f := <-cl.send:
			if err := cl.conn.WriteJSON(f); err != nil {
				return
			}
		case <-cl.done:
			return
		}
	}
}

// Serve runs the socket's read loop. The token travels as a query parameter
// because browsers cannot set headers on websocket dials.
func (h *WSHandler) Serve(v *auth.Validator) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		user, err := v.Validate(conn.Query("token"))
		if err != nil {
			_ = conn.WriteJSON(serverFrame{Type: "error", Error: "invalid token"})
			conn.Close()
			return
		}

		cl := &wsClient{
			conn:   conn,
			send:   make(chan serverFrame, 64),
			done:   make(chan struct{}),
			owner:  user.ID + ":" + uuid.NewString(),
			userID: user.ID,
		}
		go cl.writePump()

		defer func() {
			// unblock any feed delivery stuck in push before releasing,
			// so Release's synchronous unsubscribe cannot wedge
			close(cl.done)
			h.manager.Release(cl.owner)
			conn.Close()
		}()

		for {
			var frame clientFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Action {
			case "open":
				h.openConversation(cl, frame.ConversationID)
			case "send":
				h.sendMessage(cl, frame)
			default:
				cl.push(serverFrame{Type: "error", Error: "unknown action " + frame.Action})
			}
		}
	}
}

// openConversation subscribes, loads the snapshot, marks it read, and swaps
// the live channel over to the new conversation. The subscription is taken
// before the history read: a message appended while the snapshot loads
// arrives over the feed, and anything present in both merges through the
// timeline. The reverse order would drop that window entirely.
func (h *WSHandler) openConversation(cl *wsClient, convID string) {
	if convID == "" {
		cl.push(serverFrame{Type: "error", Error: "conversation_id required"})
		return
	}

	timeline := live.NewTimeline(nil)
	onMessage := func(m domain.Message) {
		if !timeline.Apply(m) {
			return // already rendered (optimistic echo or redelivery)
		}
		h.markOneRead(cl.userID, m)
		cl.push(serverFrame{Type: "message", ConversationID: m.ConversationID, Message: &m})
	}
	onLost := func(error) {
		cl.push(serverFrame{Type: "channel_lost", ConversationID: convID})
	}

	handle, err := h.manager.Open(cl.owner, convID, onMessage, onLost)
	if err != nil {
		cl.push(serverFrame{Type: "error", ConversationID: convID, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	history, err := h.log.List(ctx, convID)
	if err != nil {
		h.manager.Release(cl.owner)
		cl.push(serverFrame{Type: "error", ConversationID: convID, Error: err.Error()})
		return
	}
	for _, m := range history {
		timeline.Apply(m)
	}
	cl.convID = convID
	cl.timeline = timeline
	handle.SetLastSeen(timeline.LastID())

	ids := make([]string, len(history))
	for i, m := range history {
		ids[i] = m.ID
	}
	if _, err := h.receipts.MarkRead(ctx, cl.userID, ids); err != nil {
		h.logger.Warnw("bulk mark read", "conversation_id", convID, "user_id", cl.userID, "err", err)
	}

	cl.push(serverFrame{Type: "history", ConversationID: convID, Messages: history})
}

// sendMessage appends and echoes optimistically; the feed delivery of the
// same id is absorbed by the timeline. The echo only renders when the
// target is the conversation currently open in this view; sends to other
// conversations still append but never paint into a foreign timeline.
func (h *WSHandler) sendMessage(cl *wsClient, frame clientFrame) {
	if frame.Kind == "" {
		frame.Kind = string(domain.MessageText)
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	msg, err := h.log.Append(ctx, frame.ConversationID, cl.userID, frame.Content,
		domain.MessageKind(frame.Kind), frame.Metadata)
	if err != nil {
		cl.push(serverFrame{Type: "error", ConversationID: frame.ConversationID, Error: err.Error()})
		return
	}
	if cl.timeline != nil && frame.ConversationID == cl.convID && cl.timeline.Apply(*msg) {
		cl.push(serverFrame{Type: "message", ConversationID: msg.ConversationID, Message: msg})
	}
}

func (h *WSHandler) markOneRead(userID string, m domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()
	if _, err := h.receipts.MarkRead(ctx, userID, []string{m.ID}); err != nil {
		h.logger.Warnw("mark delivered message read", "message_id", m.ID, "user_id", userID, "err", err)
	}
}
