package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/meghan/community-chat/internal/crisis"
)

// validSources matches the CHECK constraint on crisis_events.source.
var validSources = map[string]bool{
	crisis.SourceCommunity:  true,
	crisis.SourceExpression: true,
	crisis.SourceDetect:     true,
}

// CrisisStore implements crisis.Store. Rows are never updated or deleted.
type CrisisStore struct {
	db *sql.DB
}

func NewCrisisStore(db *sql.DB) *CrisisStore {
	return &CrisisStore{db: db}
}

// Insert validates the source before insertion. Matched phrases are stored
// as a text array.
func (s *CrisisStore) Insert(ctx context.Context, ev crisis.Event) (crisis.Event, error) {
	if !validSources[ev.Source] {
		return crisis.Event{}, fmt.Errorf("crisis store: invalid source %q", ev.Source)
	}

	const query = `
		INSERT INTO crisis_events (user_id, source, community_id, message_excerpt, risk_level, matched_phrases, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		ev.UserID,
		ev.Source,
		ev.RoomID,
		ev.Excerpt,
		ev.Level,
		pq.Array(ev.Matched),
		ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return crisis.Event{}, fmt.Errorf("crisis store: insert: %w", err)
	}
	return ev, nil
}

// List returns events most recent first, optionally restricted to a room.
func (s *CrisisStore) List(ctx context.Context, f crisis.Filter) ([]crisis.Event, error) {
	const query = `
		SELECT id, user_id, source, community_id, message_excerpt, risk_level, matched_phrases, created_at
		FROM crisis_events
		WHERE ($1::BIGINT IS NULL OR community_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, f.RoomID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("crisis store: list: %w", err)
	}
	defer rows.Close()

	events := []crisis.Event{}
	for rows.Next() {
		var ev crisis.Event
		var roomID sql.NullInt64
		var matched []string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Source, &roomID, &ev.Excerpt, &ev.Level,
			pq.Array(&matched), &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("crisis store: scan: %w", err)
		}
		if roomID.Valid {
			id := roomID.Int64
			ev.RoomID = &id
		}
		if matched == nil {
			matched = []string{}
		}
		ev.Matched = matched
		events = append(events, ev)
	}
	return events, rows.Err()
}
