package community

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/apperr"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// DefaultRooms are seeded once when the store has no rooms. Topic is the
// internal routing tag and is not used as a display name.
var DefaultRooms = []Room{
	{Name: "Gentle Heartbreak Circle", Description: "A warm space for healing from breakups and relationship pain.", Topic: TopicRelationship, Kind: KindCommunity},
	{Name: "Healthy Love & Boundaries", Description: "Support for building healthy relationships and self-respect.", Topic: TopicRelationship, Kind: KindCommunity},
	{Name: "Calm Career Path", Description: "Support for study stress, career confusion, and pressure.", Topic: TopicCareer, Kind: KindCommunity},
	{Name: "Family Balance Circle", Description: "Support for family stress, expectations, and conflicts.", Topic: TopicFamily, Kind: KindCommunity},
	{Name: "Small Wins Wall", Description: "Short notes about today's small victories.", Topic: TopicGeneral, Kind: KindExpression},
}

const (
	TopicRelationship = "Relationship"
	TopicCareer       = "Career/Academics"
	TopicFamily       = "Family"
	TopicGeneral      = "General"
)

// struggleTopics maps onboarding struggle keywords to room topics.
var struggleTopics = map[string]string{
	"career":       TopicCareer,
	"academics":    TopicCareer,
	"studies":      TopicCareer,
	"focus":        TopicCareer,
	"relationship": TopicRelationship,
	"breakup":      TopicRelationship,
	"loneliness":   TopicRelationship,
	"dating":       TopicRelationship,
	"family":       TopicFamily,
	"home":         TopicFamily,
}

// Directory implements room, membership and history operations on top of a
// Store.
type Directory struct {
	store  Store
	limits Limits
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewDirectory creates a Directory. A nil logger discards output.
func NewDirectory(store Store, limits Limits, log logrus.FieldLogger) *Directory {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Directory{
		store:  store,
		limits: limits,
		log:    log.WithField("component", "community"),
		now:    time.Now,
	}
}

// Limits returns the content caps per room kind.
func (d *Directory) Limits() Limits { return d.limits }

// EnsureDefaultRooms seeds DefaultRooms if the store holds no rooms.
func (d *Directory) EnsureDefaultRooms(ctx context.Context) error {
	n, err := d.store.CountRooms(ctx)
	if err != nil {
		return fmt.Errorf("community: count rooms: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, r := range DefaultRooms {
		r.Active = true
		r.CreatedAt = d.now().UTC()
		created, err := d.store.CreateRoom(ctx, r)
		if err != nil {
			return fmt.Errorf("community: seed room %q: %w", r.Name, err)
		}
		d.log.WithFields(logrus.Fields{"room_id": created.ID, "topic": created.Topic}).Info("seeded default room")
	}
	return nil
}

// ListRooms returns active rooms, optionally filtered by topic, and the ids
// of the rooms userID has joined.
func (d *Directory) ListRooms(ctx context.Context, userID int64, topic string) ([]Room, []int64, error) {
	rooms, err := d.store.ListRooms(ctx, topic)
	if err != nil {
		return nil, nil, fmt.Errorf("community: list rooms: %w", err)
	}
	rooms = lo.Filter(rooms, func(r Room, _ int) bool { return r.Active })

	memberships, err := d.store.ListMemberships(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("community: list memberships: %w", err)
	}
	joined := lo.Map(memberships, func(m Membership, _ int) int64 { return m.RoomID })
	return rooms, joined, nil
}

// Join creates the membership or flips its anonymity flag when it already
// exists. The room must exist and be active.
func (d *Directory) Join(ctx context.Context, userID, roomID int64, anonymous bool) (Membership, bool, error) {
	room, err := d.store.GetRoom(ctx, roomID)
	if err != nil {
		return Membership{}, false, err
	}
	if !room.Active {
		return Membership{}, false, apperr.ErrRoomNotFound
	}

	m, created, err := d.store.UpsertMembership(ctx, Membership{
		UserID:      userID,
		RoomID:      roomID,
		IsAnonymous: anonymous,
		JoinedAt:    d.now().UTC(),
	})
	if err != nil {
		return Membership{}, false, fmt.Errorf("community: upsert membership: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"user_id": userID, "room_id": roomID, "anonymous": anonymous, "created": created,
	}).Info("membership saved")
	return m, created, nil
}

// Authorize verifies that the room exists, is active and that userID holds a
// membership in it.
func (d *Directory) Authorize(ctx context.Context, userID, roomID int64) (Room, Membership, error) {
	room, err := d.store.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, Membership{}, err
	}
	if !room.Active {
		return Room{}, Membership{}, apperr.ErrRoomNotFound
	}
	m, err := d.store.GetMembership(ctx, userID, roomID)
	if err != nil {
		return Room{}, Membership{}, err
	}
	return room, m, nil
}

// AutoAssign joins userID, anonymously, to every active room whose topic
// matches one of the given struggles. Existing memberships are left alone.
// It returns the number of memberships created.
func (d *Directory) AutoAssign(ctx context.Context, userID int64, struggles []string) (int, error) {
	if err := d.EnsureDefaultRooms(ctx); err != nil {
		return 0, err
	}

	topics := lo.Uniq(lo.FilterMap(struggles, func(s string, _ int) (string, bool) {
		t, ok := struggleTopics[strings.ToLower(strings.TrimSpace(s))]
		return t, ok
	}))
	if len(topics) == 0 {
		return 0, nil
	}

	existing, err := d.store.ListMemberships(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("community: list memberships: %w", err)
	}
	joined := lo.SliceToMap(existing, func(m Membership) (int64, struct{}) { return m.RoomID, struct{}{} })

	created := 0
	for _, topic := range topics {
		rooms, err := d.store.ListRooms(ctx, topic)
		if err != nil {
			return created, fmt.Errorf("community: list rooms: %w", err)
		}
		for _, r := range rooms {
			if _, ok := joined[r.ID]; ok || !r.Active {
				continue
			}
			if _, _, err := d.store.UpsertMembership(ctx, Membership{
				UserID: userID, RoomID: r.ID, IsAnonymous: true, JoinedAt: d.now().UTC(),
			}); err != nil {
				return created, fmt.Errorf("community: auto-assign room %d: %w", r.ID, err)
			}
			joined[r.ID] = struct{}{}
			created++
		}
	}
	return created, nil
}

// History returns a page of persisted messages for roomID, most recent
// first, and the total number of messages in the room.
func (d *Directory) History(ctx context.Context, roomID int64, limit, offset int) ([]Message, int, error) {
	if _, err := d.store.GetRoom(ctx, roomID); err != nil {
		return nil, 0, err
	}
	limit, offset = ClampPage(limit, offset)
	msgs, total, err := d.store.ListMessages(ctx, roomID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("community: list messages: %w", err)
	}
	return msgs, total, nil
}

// ClampPage normalises pagination parameters.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
