// Package presence records which users are connected to which rooms in
// Redis so that room listings can show live member counts. Presence is
// advisory: the in-process room registry remains the source of truth for
// fan-out.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConnPrefix is the Redis key prefix for per-connection hashes.
	ConnPrefix = "presence:conn:"

	// RoomPrefix is the Redis key prefix for the set of connection ids in a
	// room.
	RoomPrefix = "presence:room:"

	// TTL bounds how long a connection survives without a refresh.
	TTL = 2 * time.Minute
)

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this server instance
}

// NewStore creates a presence store connected to Redis and verifies the
// connection.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

func roomKey(roomID int64) string { return RoomPrefix + strconv.FormatInt(roomID, 10) }

// Enter records connID as present in roomID.
func (s *Store) Enter(ctx context.Context, roomID, userID int64, connID string) error {
	key := ConnPrefix + connID
	now := time.Now().Unix()

	entry := map[string]interface{}{
		"conn_id":   connID,
		"user_id":   userID,
		"room_id":   roomID,
		"server":    s.serverName,
		"joined_at": now,
		"last_seen": now,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, entry)
	pipe.Expire(ctx, key, TTL)
	pipe.SAdd(ctx, roomKey(roomID), connID)
	pipe.Expire(ctx, roomKey(roomID), TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: enter: %w", err)
	}
	return nil
}

// Touch refreshes the TTLs of connID's records.
func (s *Store) Touch(ctx context.Context, roomID int64, connID string) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, ConnPrefix+connID, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, ConnPrefix+connID, TTL)
	pipe.Expire(ctx, roomKey(roomID), TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: touch: %w", err)
	}
	return nil
}

// Exit removes connID from roomID.
func (s *Store) Exit(ctx context.Context, roomID int64, connID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ConnPrefix+connID)
	pipe.SRem(ctx, roomKey(roomID), connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: exit: %w", err)
	}
	return nil
}

// Online returns the number of distinct users present in roomID. Connection
// ids whose hash has expired are pruned from the room set.
func (s *Store) Online(ctx context.Context, roomID int64) (int, error) {
	ids, err := s.client.SMembers(ctx, roomKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: members: %w", err)
	}

	users := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		uid, err := s.client.HGet(ctx, ConnPrefix+id, "user_id").Result()
		if err == redis.Nil {
			s.client.SRem(ctx, roomKey(roomID), id)
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("presence: member %s: %w", id, err)
		}
		users[uid] = struct{}{}
	}
	return len(users), nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
