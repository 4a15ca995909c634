package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bazaarhq/conversation-service/internal/domain"
)

type ParticipantRepo struct {
	coll *mongo.Collection
}

func NewParticipantRepo(coll *mongo.Collection) *ParticipantRepo {
	idx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("conv_user_uniq"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("user_idx"),
		},
	}
	_, _ = coll.Indexes().CreateMany(context.Background(), idx)
	return &ParticipantRepo{coll: coll}
}

// Add upserts each pair with $setOnInsert, so re-adding an existing
// (conversation, user) participant is a no-op rather than a duplicate or
// an error.
func (r *ParticipantRepo) Add(ctx context.Context, ps []domain.Participant) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	for _, p := range ps {
		filter := bson.M{"conversation_id": p.ConversationID, "user_id": p.UserID}
		update := bson.M{"$setOnInsert": p}
		if _, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return err
		}
	}
	return nil
}

func (r *ParticipantRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	cur, err := r.coll.Find(ctx, bson.M{"conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []domain.Participant
	for cur.Next(ctx) {
		var p domain.Participant
		if err := cur.Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, cur.Err()
}

func (r *ParticipantRepo) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	vals, err := r.coll.Distinct(ctx, "conversation_id", bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *ParticipantRepo) CountByConversations(ctx context.Context, conversationIDs []string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"conversation_id": bson.M{"$in": conversationIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "n": bson.M{"$sum": 1}}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make(map[string]int, len(conversationIDs))
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
			N  int    `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.N
	}
	return out, cur.Err()
}

func (r *ParticipantRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err := r.coll.FindOne(ctx, bson.M{"conversation_id": conversationID, "user_id": userID}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ParticipantRepo) DeleteByConversation(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_, err := r.coll.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	return err
}
