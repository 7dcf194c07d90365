// Package crisis records risk events raised by the safety gate and fans them
// out to therapist-facing notifiers. Recording is durable and synchronous;
// notification is asynchronous and best-effort.
package crisis

import (
	"context"
	"time"
	"unicode/utf8"
)

// ExcerptLimit caps the stored excerpt, in characters.
const ExcerptLimit = 300

// Origin channels.
const (
	SourceCommunity  = "community"
	SourceExpression = "expression"
	SourceDetect     = "detect"
)

// Event is an immutable audit record of a blocked or flagged message.
type Event struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Source    string    `json:"source"`
	RoomID    *int64    `json:"community_id"`
	Excerpt   string    `json:"message_excerpt"`
	Level     string    `json:"risk_level"`
	Matched   []string  `json:"matched_phrases"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects events for review. A nil RoomID matches every room.
type Filter struct {
	RoomID *int64
	Limit  int
	Offset int
}

// Store persists events.
type Store interface {
	Insert(ctx context.Context, ev Event) (Event, error)
	// List returns events most recent first.
	List(ctx context.Context, f Filter) ([]Event, error)
}

// Excerpt truncates content to ExcerptLimit characters without splitting a
// rune.
func Excerpt(content string) string {
	if utf8.RuneCountInString(content) <= ExcerptLimit {
		return content
	}
	n := 0
	for i := range content {
		if n == ExcerptLimit {
			return content[:i]
		}
		n++
	}
	return content
}
