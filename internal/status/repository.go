package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "chat4all/pkg/errors"
	"chat4all/pkg/models"
)

// StoredMessage is the persisted view of a message needed for status
// tracking and fan-out. The full event payload is stored alongside it but
// status handling only reads these fields.
type StoredMessage struct {
	MessageID       string               `bson:"_id"`
	ConversationID  string               `bson:"conversationId"`
	SenderID        string               `bson:"senderId"`
	RecipientIDs    []string             `bson:"recipientIds"`
	Status          models.MessageStatus `bson:"status"`
	StatusUpdatedAt time.Time            `bson:"statusUpdatedAt"`
}

// Repository persists message records and their delivery status.
type Repository interface {
	// InsertPending stores the accepted event with status PENDING. It is
	// idempotent: a re-insert of the same message id is a no-op.
	InsertPending(ctx context.Context, event models.MessageEvent) error
	// GetMessage returns the stored record, or apperrors.ErrNotFound when
	// the message id is unknown.
	GetMessage(ctx context.Context, messageID string) (*StoredMessage, error)
	UpdateStatus(ctx context.Context, messageID string, newStatus models.MessageStatus, at time.Time) error
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(collection *mongo.Collection) *MongoRepository {
	return &MongoRepository{collection: collection}
}

func (r *MongoRepository) InsertPending(ctx context.Context, event models.MessageEvent) error {
	doc := bson.M{
		"conversationId":  event.ConversationID,
		"senderId":        event.SenderID,
		"recipientIds":    event.RecipientIDs,
		"channel":         event.Channel,
		"content":         event.Content,
		"contentType":     event.ContentType,
		"status":          models.StatusPending,
		"timestamp":       event.Timestamp,
		"metadata":        event.Metadata,
		"statusUpdatedAt": time.Now(),
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": event.MessageID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending message: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetMessage(ctx context.Context, messageID string) (*StoredMessage, error) {
	var stored StoredMessage
	err := r.collection.FindOne(ctx, bson.M{"_id": messageID}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message record: %w", err)
	}
	return &stored, nil
}

func (r *MongoRepository) UpdateStatus(ctx context.Context, messageID string, newStatus models.MessageStatus, at time.Time) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"status": newStatus, "statusUpdatedAt": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
