package mongo

import (
	"context"
	"fmt"
	"time"

	"supportchat-ws/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageStore struct {
	coll *mongo.Collection
}

func (s *MessageStore) Insert(ctx context.Context, msg *domain.Message) error {
	if msg.Attachments == nil {
		msg.Attachments = []domain.Attachment{}
	}
	_, err := s.coll.InsertOne(ctx, msg)
	return translate(err, "message")
}

func (s *MessageStore) Get(ctx context.Context, conversationID, id string) (*domain.Message, error) {
	var msg domain.Message
	err := s.coll.FindOne(ctx, bson.M{"_id": id, "conversationId": conversationID}).Decode(&msg)
	if err != nil {
		return nil, translate(err, "message")
	}
	return &msg, nil
}

// List sorts by createdAt and then by _id; message IDs are UUIDv7 so the
// secondary key follows insertion order.
func (s *MessageStore) List(ctx context.Context, conversationID string, page domain.Page) ([]domain.Message, int64, error) {
	query := bson.M{"conversationId": conversationID, "isDeleted": false}

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, translate(err, "messages")
	}

	page = page.Normalize()
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, translate(err, "messages")
	}
	defer cur.Close(ctx)

	items := make([]domain.Message, 0, page.Limit)
	if err := cur.All(ctx, &items); err != nil {
		return nil, 0, translate(err, "messages")
	}
	return items, total, nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID string, senders []domain.SenderType, at time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"conversationId": conversationID, "isRead": false, "senderType": bson.M{"$in": senders}},
		bson.M{"$set": bson.M{"isRead": true, "readAt": at}},
	)
	if err != nil {
		return 0, translate(err, "messages")
	}
	return res.ModifiedCount, nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, conversationID, id string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "conversationId": conversationID},
		bson.M{"$set": bson.M{"isDeleted": true}},
	)
	if err != nil {
		return translate(err, "message")
	}
	if res.MatchedCount == 0 {
		return domain.Errorf(domain.ErrNotFound, "message not found")
	}
	return nil
}

// StaffDirectory reads support agents from the storefront's users collection,
// whose IDs may be ObjectIDs or plain strings.
type StaffDirectory struct {
	coll *mongo.Collection
}

type userDocument struct {
	ID   interface{} `bson:"_id"`
	Name string      `bson:"name"`
	Role domain.Role `bson:"role"`
}

func (d *StaffDirectory) LookupStaff(ctx context.Context, id string) (*domain.StaffMember, error) {
	ids := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		ids = append(ids, oid)
	}

	var doc userDocument
	err := d.coll.FindOne(ctx, bson.M{
		"_id":  bson.M{"$in": ids},
		"role": bson.M{"$in": bson.A{domain.RoleAdmin, domain.RoleSeller}},
	}).Decode(&doc)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("staff member %s", id))
	}
	return &domain.StaffMember{ID: id, Name: doc.Name, Role: doc.Role}, nil
}
