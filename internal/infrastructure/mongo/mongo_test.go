package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"supportchat-ws/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server only when MONGO_TEST_URI is set.
func newTestClient(t *testing.T) *MongoClient {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewMongoClient(ctx, uri, "supportchat_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	require.NoError(t, client.EnsureIndexes(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.db.Drop(ctx)
		_ = client.Close(ctx)
	})
	return client
}

func TestConversationStore_Mongo(t *testing.T) {
	client := newTestClient(t)
	store := client.Conversations()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	conv := &domain.Conversation{
		ID: uuid.NewString(), CustomerID: "cust-1", Status: domain.StatusOpen, IsActive: true,
		LastMessageAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, conv))

	dup := *conv
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, store.Create(ctx, &dup), domain.ErrConflict)

	claim := &domain.Assignment{StaffID: "staff-1", Role: domain.RoleSeller}
	got, err := store.RecordMessage(ctx, conv.ID, domain.MessageRecord{Preview: "$set is literal", At: now, Sender: domain.SenderStaff, Staff: claim})
	require.NoError(t, err)
	assert.Equal(t, "$set is literal", got.LastMessage)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "staff-1", got.AssignedStaffID())
	assert.Equal(t, 1, got.UnreadCount.Customer)

	_, err = store.RecordMessage(ctx, conv.ID, domain.MessageRecord{At: now, Sender: domain.SenderStaff, Staff: &domain.Assignment{StaffID: "staff-2", Role: domain.RoleAdmin}})
	assert.ErrorIs(t, err, domain.ErrConflict)

	prev, _, err := store.ResetUnread(ctx, conv.ID, domain.SideCustomer, now)
	require.NoError(t, err)
	assert.Equal(t, 1, prev)
	prev, _, err = store.ResetUnread(ctx, conv.ID, domain.SideCustomer, now)
	require.NoError(t, err)
	assert.Equal(t, 0, prev)

	_, err = store.UpdateStatus(ctx, conv.ID, domain.StatusOpen, domain.StatusClosed, now)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = store.UpdateStatus(ctx, conv.ID, domain.StatusPending, domain.StatusResolved, now)
	require.NoError(t, err)

	active, err := store.FindActiveByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Nil(t, active)
	require.NoError(t, store.Create(ctx, &dup))
}

func TestConversationStore_MongoRecordMessageKeepsNewestPreview(t *testing.T) {
	client := newTestClient(t)
	store := client.Conversations()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	conv := &domain.Conversation{
		ID: uuid.NewString(), CustomerID: "cust-1", Status: domain.StatusOpen, IsActive: true,
		LastMessageAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, conv))

	later := now.Add(2 * time.Second)
	_, err := store.RecordMessage(ctx, conv.ID, domain.MessageRecord{MessageID: "m2", Preview: "second", At: later, Sender: domain.SenderCustomer})
	require.NoError(t, err)
	got, err := store.RecordMessage(ctx, conv.ID, domain.MessageRecord{MessageID: "m1", Preview: "first", At: now.Add(time.Second), Sender: domain.SenderCustomer})
	require.NoError(t, err)

	assert.Equal(t, "m2", got.LastMessageID)
	assert.Equal(t, "second", got.LastMessage)
	assert.True(t, got.LastMessageAt.Equal(later))
	assert.True(t, got.UpdatedAt.Equal(later))
	assert.Equal(t, 2, got.UnreadCount.Staff)
}

func TestMessageStore_Mongo(t *testing.T) {
	client := newTestClient(t)
	store := client.Messages()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := uuid.NewV7()
		require.NoError(t, err)
		ids = append(ids, id.String())
		require.NoError(t, store.Insert(ctx, &domain.Message{
			ID: id.String(), ConversationID: "c1", SenderType: domain.SenderCustomer,
			Body: id.String(), Kind: domain.KindText, CreatedAt: now,
		}))
	}

	items, total, err := store.List(ctx, "c1", domain.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	for i, m := range items {
		assert.Equal(t, ids[i], m.ID, "same-millisecond messages keep insertion order")
	}

	n, err := store.MarkRead(ctx, "c1", []domain.SenderType{domain.SenderCustomer}, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, store.SoftDelete(ctx, "c1", ids[0]))
	_, total, err = store.List(ctx, "c1", domain.Page{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.ErrorIs(t, store.SoftDelete(ctx, "c1", "missing"), domain.ErrNotFound)
}
