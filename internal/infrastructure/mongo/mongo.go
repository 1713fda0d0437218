package mongo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"supportchat-ws/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "chat_messages"
	usersCollection         = "users"
)

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoClient(ctx context.Context, uri, database string) (*MongoClient, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &MongoClient{client: client, db: client.Database(database)}, nil
}

func (m *MongoClient) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoClient) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoClient) Conversations() *ConversationStore {
	return &ConversationStore{coll: m.db.Collection(conversationsCollection)}
}

func (m *MongoClient) Messages() *MessageStore {
	return &MessageStore{coll: m.db.Collection(messagesCollection)}
}

func (m *MongoClient) Staff() *StaffDirectory {
	return &StaffDirectory{coll: m.db.Collection(usersCollection)}
}

// EnsureIndexes creates the indexes the stores rely on, including the partial
// unique index that allows one active conversation per customer.
func (m *MongoClient) EnsureIndexes(ctx context.Context) error {
	conversationIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "customerId", Value: 1}},
			Options: options.Index().
				SetName("one_active_per_customer").
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "isActive", Value: true}}),
		},
		{Keys: bson.D{{Key: "customerId", Value: 1}, {Key: "lastMessageAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "lastMessageAt", Value: -1}}},
		{Keys: bson.D{{Key: "assignedAdminId", Value: 1}}},
		{Keys: bson.D{{Key: "assignedSellerId", Value: 1}}},
	}
	if _, err := m.db.Collection(conversationsCollection).Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}

	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "isRead", Value: 1}, {Key: "senderType", Value: 1}}},
	}
	if _, err := m.db.Collection(messagesCollection).Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	log.Printf("Mongo indexes ensured on database %s", m.db.Name())
	return nil
}

// translate maps driver errors onto the domain taxonomy.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.Errorf(domain.ErrNotFound, "%s not found", what)
	case mongo.IsDuplicateKeyError(err):
		return domain.Errorf(domain.ErrConflict, "%s already exists", what)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return fmt.Errorf("%s: %w: %v", what, domain.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
