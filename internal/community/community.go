// Package community holds the durable records of community chat (rooms,
// memberships and messages) and the directory operations the session layer
// and REST surface call into.
package community

import (
	"context"
	"time"
)

// Kind selects the content cap and ledger reward of a room.
type Kind string

const (
	KindCommunity  Kind = "community"
	KindExpression Kind = "expression"
)

// Room is a named chat channel. Rooms are never deleted in the hot path.
type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Topic       string    `json:"stress_source"`
	Kind        Kind      `json:"kind"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership is a user's relationship to a room. It is created once and only
// its anonymity flag changes afterwards.
type Membership struct {
	UserID      int64     `json:"user_id"`
	RoomID      int64     `json:"community_id"`
	IsAnonymous bool      `json:"is_anonymous"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Message is an accepted, persisted chat message. AuthorID is always the
// true author regardless of IsAnonymous.
type Message struct {
	ID          int64     `json:"id"`
	RoomID      int64     `json:"community_id"`
	AuthorID    int64     `json:"user_id"`
	Content     string    `json:"content"`
	IsAnonymous bool      `json:"is_anonymous"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistence collaborator for community records.
type Store interface {
	CountRooms(ctx context.Context) (int, error)
	CreateRoom(ctx context.Context, room Room) (Room, error)
	// GetRoom returns apperr.ErrRoomNotFound when no room has the id.
	GetRoom(ctx context.Context, id int64) (Room, error)
	ListRooms(ctx context.Context, topic string) ([]Room, error)

	// UpsertMembership inserts m or, when the pair already exists, updates
	// only its anonymity flag. created reports which happened.
	UpsertMembership(ctx context.Context, m Membership) (stored Membership, created bool, err error)
	// GetMembership returns apperr.ErrNotMember when the pair does not exist.
	GetMembership(ctx context.Context, userID, roomID int64) (Membership, error)
	ListMemberships(ctx context.Context, userID int64) ([]Membership, error)

	InsertMessage(ctx context.Context, msg Message) (Message, error)
	// ListMessages returns messages most-recent-first and the room total.
	ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]Message, int, error)
}
