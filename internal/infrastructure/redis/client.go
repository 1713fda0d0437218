package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"supportchat-ws/internal/domain"

	"github.com/go-redis/redis/v8"
)

// Presence hashes outlive a crashed instance by at most this long.
const presenceTTL = 24 * time.Hour

func roomKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:connections", conversationID)
}

// AddUserToRoom records one live connection; a user with two tabs has two fields.
func (r *RedisClient) AddUserToRoom(ctx context.Context, conversationID, connectionID string, identity domain.Identity) error {
	userJSON, err := json.Marshal(domain.PresentUser{
		UserID:   identity.UserID,
		Role:     identity.Role,
		JoinedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	key := roomKey(conversationID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, connectionID, userJSON)
		pipe.Expire(ctx, key, presenceTTL)
		return nil
	})
	return err
}

func (r *RedisClient) RemoveUserFromRoom(ctx context.Context, conversationID, connectionID string) error {
	return r.client.HDel(ctx, roomKey(conversationID), connectionID).Err()
}

func (r *RedisClient) GetRoomUsers(ctx context.Context, conversationID string) (*domain.RoomPresence, error) {
	entries, err := r.client.HGetAll(ctx, roomKey(conversationID)).Result()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	status := &domain.RoomPresence{Users: make([]domain.PresentUser, 0, len(entries))}
	for _, raw := range entries {
		var user domain.PresentUser
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			continue
		}
		if seen[user.UserID] {
			continue
		}
		seen[user.UserID] = true

		if user.Role.IsStaff() {
			status.TotalStaff++
		} else {
			status.TotalCustomer++
		}
		status.Users = append(status.Users, user)
	}
	sort.Slice(status.Users, func(i, j int) bool { return status.Users[i].UserID < status.Users[j].UserID })

	status.CustomerConnected = status.TotalCustomer > 0
	status.StaffConnected = status.TotalStaff > 0
	return status, nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
