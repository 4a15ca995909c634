package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

type ReceiptRepo struct {
	coll *mongo.Collection
}

func NewReceiptRepo(coll *mongo.Collection) *ReceiptRepo {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("msg_user_uniq"),
	}
	_, _ = coll.Indexes().CreateOne(context.Background(), idx)
	return &ReceiptRepo{coll: coll}
}

// Upsert inserts the receipt if absent. $setOnInsert keeps the original
// read_at when the receipt already exists, so re-marking is a true no-op.
func (r *ReceiptRepo) Upsert(ctx context.Context, rec domain.ReadReceipt) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	filter := bson.M{"message_id": rec.MessageID, "user_id": rec.UserID}
	update := bson.M{"$setOnInsert": rec}
	res, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}
