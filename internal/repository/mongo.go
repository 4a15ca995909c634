package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const opTimeout = 5 * time.Second

// Connect dials Mongo and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// Stores bundles the four repositories over one database.
type Stores struct {
	Conversations *ConversationRepo
	Participants  *ParticipantRepo
	Messages      *MessageRepo
	Receipts      *ReceiptRepo
}

func NewStores(db *mongo.Database) *Stores {
	return &Stores{
		Conversations: NewConversationRepo(db.Collection("conversations")),
		Participants:  NewParticipantRepo(db.Collection("participants")),
		Messages:      NewMessageRepo(db.Collection("messages")),
		Receipts:      NewReceiptRepo(db.Collection("read_receipts")),
	}
}
