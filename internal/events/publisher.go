// Package events publishes durable domain events for downstream consumers
// (notification fan-out, analytics). Publishing is best effort: a failed
// publish is logged and never fails the originating write.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

const (
	topicConversationCreated = "conversation.created"
	topicMessageAppended     = "message.created"
)

type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewPublisher(brokers []string, logger *zap.SugaredLogger) *Publisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Publisher{writer: w, log: logger}
}

func (p *Publisher) ConversationCreated(ctx context.Context, c domain.Conversation, participants []domain.Participant) {
	userIDs := make([]string, 0, len(participants))
	for _, m := range participants {
		userIDs = append(userIDs, m.UserID)
	}
	p.publish(ctx, topicConversationCreated, c.ID, struct {
		Conversation domain.Conversation `json:"conversation"`
		UserIDs      []string            `json:"user_ids"`
	}{c, userIDs})
}

func (p *Publisher) MessageAppended(ctx context.Context, m domain.Message) {
	p.publish(ctx, topicMessageAppended, m.ConversationID, m)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Errorw("encode event", "topic", topic, "err", err)
		return
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warnw("publish event", "topic", topic, "key", key, "err", err)
	}
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
