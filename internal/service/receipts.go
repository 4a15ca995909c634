package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bazaarhq/conversation-service/internal/domain"
	"github.com/bazaarhq/conversation-service/internal/metrics"
)

// Receipts tracks which messages each user has observed. Marking is
// idempotent: overlapping calls never create duplicate receipts and
// re-marking an already-read message is a no-op.
type Receipts struct {
	messages MessageStore
	receipts ReceiptStore

	now func() time.Time
}

func NewReceipts(ms MessageStore, rs ReceiptStore) *Receipts {
	return &Receipts{messages: ms, receipts: rs, now: time.Now}
}

// MarkRead upserts one read receipt per given message id, skipping messages
// authored by userID and ids that resolve to no message. Returns how many
// receipts were newly created.
func (r *Receipts) MarkRead(ctx context.Context, userID string, messageIDs []string) (int, error) {
	if userID == "" {
		return 0, domain.Validation("user id required")
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}
	msgs, err := r.messages.FindByIDs(ctx, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("load messages: %w", err)
	}
	readAt := r.now().UTC()
	created := 0
	for _, m := range msgs {
		if m.SenderID == userID {
			continue
		}
		inserted, err := r.receipts.Upsert(ctx, domain.ReadReceipt{
			MessageID: m.ID,
			UserID:    userID,
			Status:    domain.ReceiptRead,
			ReadAt:    readAt,
		})
		if err != nil {
			return created, fmt.Errorf("upsert receipt for %s: %w", m.ID, err)
		}
		if inserted {
			created++
			metrics.ReadReceiptsUpserted.Inc()
		}
	}
	return created, nil
}
