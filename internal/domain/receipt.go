package domain

import "time"

const ReceiptRead = "read"

// ReadReceipt marks that a user has observed a message. At most one exists
// per (message, user); none is ever created for the message's own sender.
type ReadReceipt struct {
	MessageID string    `bson:"message_id" json:"message_id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Status    string    `bson:"status" json:"status"`
	ReadAt    time.Time `bson:"read_at" json:"read_at"`
}
