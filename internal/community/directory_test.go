package community

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meghan/community-chat/internal/apperr"
)

func newTestDirectory(t *testing.T) (*Directory, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	d := NewDirectory(store, nil, nil)
	require.NoError(t, d.EnsureDefaultRooms(context.Background()))
	return d, store
}

func TestEnsureDefaultRooms_SeedsOnce(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.EnsureDefaultRooms(ctx))
	n, err := store.CountRooms(ctx)
	require.NoError(t, err)
	require.Equal(t, len(DefaultRooms), n)

	rooms, err := store.ListRooms(ctx, "")
	require.NoError(t, err)
	for _, r := range rooms {
		require.True(t, r.Active, "seeded room %q should be active", r.Name)
	}
}

func TestListRooms_FiltersByTopicAndReportsJoined(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	rooms, joined, err := d.ListRooms(ctx, 1, TopicRelationship)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.Empty(t, joined)

	_, _, err = d.Join(ctx, 1, rooms[0].ID, true)
	require.NoError(t, err)

	_, joined, err = d.ListRooms(ctx, 1, "")
	require.NoError(t, err)
	require.Equal(t, []int64{rooms[0].ID}, joined)
}

func TestJoin_IsIdempotentAndFlipsAnonymity(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	m, created, err := d.Join(ctx, 7, 1, true)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, m.IsAnonymous)
	joinedAt := m.JoinedAt

	m, created, err = d.Join(ctx, 7, 1, false)
	require.NoError(t, err)
	require.False(t, created)
	require.False(t, m.IsAnonymous)
	require.Equal(t, joinedAt, m.JoinedAt)

	all, err := store.ListMemberships(ctx, 7)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestJoin_UnknownOrInactiveRoom(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	_, _, err := d.Join(ctx, 1, 999, true)
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)

	inactive, err := store.CreateRoom(ctx, Room{Name: "closed", Kind: KindCommunity})
	require.NoError(t, err)
	_, _, err = d.Join(ctx, 1, inactive.ID, true)
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}

func TestAuthorize(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	_, _, err := d.Authorize(ctx, 3, 1)
	require.ErrorIs(t, err, apperr.ErrNotMember)
	require.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, _, err = d.Authorize(ctx, 3, 404)
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)

	_, _, err = d.Join(ctx, 3, 1, false)
	require.NoError(t, err)
	room, m, err := d.Authorize(ctx, 3, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), room.ID)
	require.False(t, m.IsAnonymous)
}

func TestAutoAssign_MapsStrugglesToTopics(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	n, err := d.AutoAssign(ctx, 11, []string{"Breakup", "studies", "dating", "unknown"})
	require.NoError(t, err)
	require.Equal(t, 3, n) // two relationship rooms, one career room

	memberships, err := store.ListMemberships(ctx, 11)
	require.NoError(t, err)
	require.Len(t, memberships, 3)
	for _, m := range memberships {
		require.True(t, m.IsAnonymous)
	}

	n, err = d.AutoAssign(ctx, 11, []string{"breakup"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestHistory_MostRecentFirstWithTotal(t *testing.T) {
	d, store := newTestDirectory(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := store.InsertMessage(ctx, Message{
			RoomID:    1,
			AuthorID:  int64(i),
			Content:   strings.Repeat("x", i+1),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	// Same timestamp as the newest: insertion order breaks the tie.
	_, err := store.InsertMessage(ctx, Message{RoomID: 1, AuthorID: 99, Content: "tie", CreatedAt: base.Add(4 * time.Minute)})
	require.NoError(t, err)

	msgs, total, err := d.History(ctx, 1, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.Len(t, msgs, 2)
	require.Equal(t, "tie", msgs[0].Content)
	require.Equal(t, int64(4), msgs[1].AuthorID)

	msgs, _, err = d.History(ctx, 1, 0, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, int64(0), msgs[0].AuthorID)

	_, _, err = d.History(ctx, 42, 10, 0)
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultHistoryLimit, 0},
		{-3, -1, DefaultHistoryLimit, 0},
		{10, 20, 10, 20},
		{MaxHistoryLimit + 1, 0, MaxHistoryLimit, 0},
	}
	for _, tt := range tests {
		l, o := ClampPage(tt.limit, tt.offset)
		require.Equal(t, tt.wantLimit, l)
		require.Equal(t, tt.wantOffset, o)
	}
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		want    string
		wantErr error
	}{
		{"trimmed", "  hello  ", 10, "hello", nil},
		{"exactly max", strings.Repeat("a", 280), 280, strings.Repeat("a", 280), nil},
		{"multibyte exactly max", strings.Repeat("é", 5), 5, strings.Repeat("é", 5), nil},
		{"empty", "", 10, "", apperr.ErrEmptyContent},
		{"whitespace only", " \n\t ", 10, "", apperr.ErrEmptyContent},
		{"invalid utf8", string([]byte{0xff, 0xfe}), 10, "", apperr.ErrInvalidUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateContent(tt.content, tt.max)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestValidateContent_OneOverMax(t *testing.T) {
	_, err := ValidateContent(strings.Repeat("a", 2001), MaxCommunityChars)
	require.Error(t, err)
	require.Equal(t, "Message too long (max 2000 characters)", apperr.Message(err))

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestLimits_For(t *testing.T) {
	l := DefaultLimits()
	require.Equal(t, MaxCommunityChars, l.For(KindCommunity))
	require.Equal(t, MaxExpressionChars, l.For(KindExpression))
	require.Equal(t, MaxCommunityChars, l.For("unknown"))
}
