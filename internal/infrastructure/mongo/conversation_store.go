package mongo

import (
	"context"
	"errors"
	"time"

	"supportchat-ws/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ConversationStore struct {
	coll *mongo.Collection
}

var afterUpdate = options.FindOneAndUpdate().SetReturnDocument(options.After)

func (s *ConversationStore) FindActiveByCustomer(ctx context.Context, customerID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.coll.FindOne(ctx,
		bson.M{"customerId": customerID, "isActive": true},
		options.FindOne().SetSort(bson.D{{Key: "lastMessageAt", Value: -1}}),
	).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "conversation")
	}
	return &conv, nil
}

func (s *ConversationStore) Create(ctx context.Context, conv *domain.Conversation) error {
	conv.IsActive = conv.Status.Active()
	_, err := s.coll.InsertOne(ctx, conv)
	return translate(err, "active conversation")
}

func (s *ConversationStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		return nil, translate(err, "conversation")
	}
	return &conv, nil
}

func (s *ConversationStore) List(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, int64, error) {
	query := bson.M{}
	if filter.CustomerID != "" {
		query["customerId"] = filter.CustomerID
	}
	if filter.AssignedTo != "" {
		query["$or"] = bson.A{
			bson.M{"assignedAdminId": filter.AssignedTo},
			bson.M{"assignedSellerId": filter.AssignedTo},
		}
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, translate(err, "conversations")
	}

	page := filter.Page.Normalize()
	opts := options.Find().
		SetSort(bson.D{{Key: "lastMessageAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Limit))
	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, translate(err, "conversations")
	}
	defer cur.Close(ctx)

	items := make([]domain.Conversation, 0, page.Limit)
	if err := cur.All(ctx, &items); err != nil {
		return nil, 0, translate(err, "conversations")
	}
	return items, total, nil
}

func (s *ConversationStore) Assign(ctx context.Context, id string, a domain.Assignment, at time.Time) (*domain.Conversation, error) {
	admin, seller := assignmentValues(a)
	update := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "assignedAdminId", Value: admin},
		{Key: "assignedSellerId", Value: seller},
		{Key: "assignedRole", Value: literal(a.Role)},
		{Key: "status", Value: openToPending()},
		{Key: "updatedAt", Value: at},
	}}}}

	var conv domain.Conversation
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id, "isActive": true}, update, afterUpdate).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.explainMiss(ctx, id)
	}
	if err != nil {
		return nil, translate(err, "conversation")
	}
	return &conv, nil
}

func (s *ConversationStore) RecordMessage(ctx context.Context, id string, rec domain.MessageRecord) (*domain.Conversation, error) {
	filter := bson.M{"_id": id, "isActive": true}
	// Every field in one $set stage reads the pre-update document, so all of
	// them see the same lastMessageAt.
	newest := bson.M{"$lte": bson.A{"$lastMessageAt", rec.At}}
	set := bson.D{
		{Key: "lastMessageId", Value: ifNewest(newest, literal(rec.MessageID), "$lastMessageId")},
		{Key: "lastMessage", Value: ifNewest(newest, literal(rec.Preview), "$lastMessage")},
		{Key: "lastMessageAt", Value: ifNewest(newest, rec.At, "$lastMessageAt")},
		{Key: "updatedAt", Value: bson.M{"$max": bson.A{"$updatedAt", rec.At}}},
	}

	switch rec.Sender {
	case domain.SenderCustomer:
		set = append(set, bson.E{Key: "unreadCount.staff", Value: bson.M{"$add": bson.A{"$unreadCount.staff", 1}}})
	case domain.SenderStaff:
		set = append(set, bson.E{Key: "unreadCount.customer", Value: bson.M{"$add": bson.A{"$unreadCount.customer", 1}}})
	}

	if rec.Staff != nil {
		filter["$or"] = bson.A{
			bson.M{"assignedAdminId": nil, "assignedSellerId": nil},
			bson.M{"assignedAdminId": rec.Staff.StaffID},
			bson.M{"assignedSellerId": rec.Staff.StaffID},
		}
		admin, seller := assignmentValues(*rec.Staff)
		unassigned := bson.M{"$and": bson.A{
			bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$assignedAdminId", nil}}, nil}},
			bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$assignedSellerId", nil}}, nil}},
		}}
		set = append(set,
			bson.E{Key: "assignedAdminId", Value: bson.M{"$cond": bson.A{unassigned, admin, "$assignedAdminId"}}},
			bson.E{Key: "assignedSellerId", Value: bson.M{"$cond": bson.A{unassigned, seller, "$assignedSellerId"}}},
			bson.E{Key: "assignedRole", Value: bson.M{"$cond": bson.A{unassigned, literal(rec.Staff.Role), "$assignedRole"}}},
			bson.E{Key: "status", Value: openToPending()},
		)
	}

	var conv domain.Conversation
	update := mongo.Pipeline{{{Key: "$set", Value: set}}}
	err := s.coll.FindOneAndUpdate(ctx, filter, update, afterUpdate).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.explainMiss(ctx, id)
	}
	if err != nil {
		return nil, translate(err, "conversation")
	}
	return &conv, nil
}

func (s *ConversationStore) ResetUnread(ctx context.Context, id string, side domain.Side, at time.Time) (int, *domain.Conversation, error) {
	field := "unreadCount." + string(side)

	var before domain.Conversation
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, field: bson.M{"$gt": 0}},
		bson.M{"$set": bson.M{field: 0, "updatedAt": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		conv, err := s.Get(ctx, id)
		return 0, conv, err
	}
	if err != nil {
		return 0, nil, translate(err, "conversation")
	}

	prev := before.UnreadCount.Of(side)
	after := before
	after.UpdatedAt = at
	if side == domain.SideCustomer {
		after.UnreadCount.Customer = 0
	} else {
		after.UnreadCount.Staff = 0
	}
	return prev, &after, nil
}

func (s *ConversationStore) UpdateStatus(ctx context.Context, id string, from, to domain.ConversationStatus, at time.Time) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "isActive": to.Active(), "updatedAt": at}},
		afterUpdate,
	).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.Errorf(domain.ErrConflict, "conversation status changed concurrently")
	}
	if err != nil {
		return nil, translate(err, "conversation")
	}
	return &conv, nil
}

// explainMiss classifies a conditional update that matched nothing.
func (s *ConversationStore) explainMiss(ctx context.Context, id string) error {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !conv.Status.Active() {
		return domain.Errorf(domain.ErrInvalidArgument, "conversation is %s", conv.Status)
	}
	return domain.Errorf(domain.ErrConflict, "conversation was assigned to another staff member")
}

func assignmentValues(a domain.Assignment) (admin, seller interface{}) {
	if a.Role == domain.RoleSeller {
		return nil, literal(a.StaffID)
	}
	return literal(a.StaffID), nil
}

func ifNewest(newest bson.M, then, otherwise interface{}) bson.M {
	return bson.M{"$cond": bson.A{newest, then, otherwise}}
}

func openToPending() bson.M {
	return bson.M{"$cond": bson.A{
		bson.M{"$eq": bson.A{"$status", string(domain.StatusOpen)}},
		string(domain.StatusPending),
		"$status",
	}}
}

// literal keeps user-provided strings from being parsed as field paths inside
// update pipelines.
func literal(v interface{}) bson.M {
	return bson.M{"$literal": v}
}
