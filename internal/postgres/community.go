package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/community"
)

// CommunityStore implements community.Store.
type CommunityStore struct {
	db *sql.DB
}

func NewCommunityStore(db *sql.DB) *CommunityStore {
	return &CommunityStore{db: db}
}

const roomColumns = `id, name, description, stress_source, kind, is_active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (community.Room, error) {
	var r community.Room
	var kind string
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Topic, &kind, &r.Active, &r.CreatedAt)
	r.Kind = community.Kind(kind)
	return r, err
}

func (s *CommunityStore) CountRooms(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problem_communities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count rooms: %w", err)
	}
	return n, nil
}

func (s *CommunityStore) CreateRoom(ctx context.Context, room community.Room) (community.Room, error) {
	const query = `
		INSERT INTO problem_communities (name, description, stress_source, kind, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + roomColumns

	created, err := scanRoom(s.db.QueryRowContext(ctx, query,
		room.Name, room.Description, room.Topic, string(room.Kind), room.Active))
	if err != nil {
		return community.Room{}, fmt.Errorf("postgres: create room: %w", err)
	}
	return created, nil
}

func (s *CommunityStore) GetRoom(ctx context.Context, id int64) (community.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM problem_communities WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return community.Room{}, apperr.ErrRoomNotFound
	}
	if err != nil {
		return community.Room{}, fmt.Errorf("postgres: get room: %w", err)
	}
	return r, nil
}

// ListRooms returns rooms ordered by id. An empty topic matches all rooms.
func (s *CommunityStore) ListRooms(ctx context.Context, topic string) ([]community.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM problem_communities
		 WHERE ($1 = '' OR stress_source = $1)
		 ORDER BY id`, topic)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []community.Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// UpsertMembership relies on xmax being zero only for freshly inserted rows
// to report whether the membership was created.
func (s *CommunityStore) UpsertMembership(ctx context.Context, m community.Membership) (community.Membership, bool, error) {
	const query = `
		INSERT INTO community_memberships (user_id, community_id, is_anonymous, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, community_id) DO UPDATE SET is_anonymous = EXCLUDED.is_anonymous
		RETURNING user_id, community_id, is_anonymous, joined_at, (xmax = 0) AS created`

	var out community.Membership
	var created bool
	err := s.db.QueryRowContext(ctx, query, m.UserID, m.RoomID, m.IsAnonymous, m.JoinedAt).
		Scan(&out.UserID, &out.RoomID, &out.IsAnonymous, &out.JoinedAt, &created)
	if err != nil {
		return community.Membership{}, false, fmt.Errorf("postgres: upsert membership: %w", err)
	}
	return out, created, nil
}

func (s *CommunityStore) GetMembership(ctx context.Context, userID, roomID int64) (community.Membership, error) {
	var m community.Membership
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, community_id, is_anonymous, joined_at
		 FROM community_memberships WHERE user_id = $1 AND community_id = $2`, userID, roomID).
		Scan(&m.UserID, &m.RoomID, &m.IsAnonymous, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return community.Membership{}, apperr.ErrNotMember
	}
	if err != nil {
		return community.Membership{}, fmt.Errorf("postgres: get membership: %w", err)
	}
	return m, nil
}

func (s *CommunityStore) ListMemberships(ctx context.Context, userID int64) ([]community.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, community_id, is_anonymous, joined_at
		 FROM community_memberships WHERE user_id = $1 ORDER BY community_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memberships: %w", err)
	}
	defer rows.Close()

	var out []community.Membership
	for rows.Next() {
		var m community.Membership
		if err := rows.Scan(&m.UserID, &m.RoomID, &m.IsAnonymous, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *CommunityStore) InsertMessage(ctx context.Context, msg community.Message) (community.Message, error) {
	const query = `
		INSERT INTO community_messages (community_id, user_id, content, is_anonymous, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if err := s.db.QueryRowContext(ctx, query,
		msg.RoomID, msg.AuthorID, msg.Content, msg.IsAnonymous, msg.CreatedAt,
	).Scan(&msg.ID); err != nil {
		return community.Message{}, fmt.Errorf("postgres: insert message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a page most recent first, ties broken by id, and the
// room total.
func (s *CommunityStore) ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]community.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM community_messages WHERE community_id = $1`, roomID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, community_id, user_id, content, is_anonymous, created_at
		 FROM community_messages WHERE community_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, roomID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	msgs := []community.Message{}
	for rows.Next() {
		var m community.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &m.IsAnonymous, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list messages: %w", err)
	}
	return msgs, total, nil
}
