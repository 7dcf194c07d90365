package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/community"
	"github.com/meghan/community-chat/internal/crisis"
	"github.com/meghan/community-chat/internal/ledger"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, func() *LedgerStore, func() *CrisisStore, func() *CommunityStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return mock,
		func() *LedgerStore { return NewLedgerStore(db) },
		func() *CrisisStore { return NewCrisisStore(db) },
		func() *CommunityStore { return NewCommunityStore(db) }
}

var txCols = []string{"id", "user_id", "amount", "type", "description", "reference_id", "balance_after", "created_at"}

func TestMigrationsEmbedded(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)
}

func TestLedgerAppend_FirstTransaction(t *testing.T) {
	mock, ledgerStore, _, _ := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM hearts_transactions WHERE user_id = \$1 ORDER BY id DESC LIMIT 1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(txCols))
	mock.ExpectQuery(`INSERT INTO hearts_transactions`).
		WithArgs(int64(7), int64(5), "expression", "Posted a micro expression", nil, int64(5), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	var sawLast *ledger.Transaction
	tx, err := ledgerStore().Append(context.Background(), 7, func(last *ledger.Transaction) ledger.Transaction {
		sawLast = last
		return ledger.Transaction{
			Amount: 5, Reason: ledger.ReasonExpression, Description: "Posted a micro expression",
			BalanceAfter: 5, CreatedAt: now,
		}
	})
	require.NoError(t, err)
	require.Nil(t, sawLast)
	require.Equal(t, int64(11), tx.ID)
	require.Equal(t, int64(7), tx.AccountID)
}

func TestLedgerAppend_ReadsLatestRow(t *testing.T) {
	mock, ledgerStore, _, _ := newMock(t)
	ref := "42"

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`ORDER BY id DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows(txCols).
			AddRow(10, 7, 5, "expression", "Posted a micro expression", ref, 5, time.Now()))
	mock.ExpectQuery(`INSERT INTO hearts_transactions`).
		WithArgs(int64(7), int64(3), "empathy", "Posted an empathy response", nil, int64(8), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectCommit()

	tx, err := ledgerStore().Append(context.Background(), 7, func(last *ledger.Transaction) ledger.Transaction {
		require.NotNil(t, last)
		require.Equal(t, "42", *last.ReferenceID)
		return ledger.Transaction{
			Amount: 3, Reason: ledger.ReasonEmpathy, Description: "Posted an empathy response",
			BalanceAfter: last.BalanceAfter + 3, CreatedAt: time.Now(),
		}
	})
	require.NoError(t, err)
	require.Equal(t, int64(8), tx.BalanceAfter)
}

func TestLedgerAppend_RollsBackOnInsertFailure(t *testing.T) {
	mock, ledgerStore, _, _ := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`ORDER BY id DESC LIMIT 1`).WillReturnRows(sqlmock.NewRows(txCols))
	mock.ExpectQuery(`INSERT INTO hearts_transactions`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := ledgerStore().Append(context.Background(), 7, func(*ledger.Transaction) ledger.Transaction {
		return ledger.Transaction{Amount: 1, Reason: ledger.ReasonCommunityMessage, BalanceAfter: 1}
	})
	require.ErrorContains(t, err, "insert transaction")
}

func TestLedgerTotals(t *testing.T) {
	mock, ledgerStore, _, _ := newMock(t)
	mock.ExpectQuery(`FILTER \(WHERE amount > 0\)`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"earned", "redeemed"}).AddRow(8, 2))

	earned, redeemed, err := ledgerStore().Totals(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(8), earned)
	require.Equal(t, int64(2), redeemed)
}

func TestCrisisInsert(t *testing.T) {
	mock, _, crisisStore, _ := newMock(t)
	roomID := int64(3)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO crisis_events`).
		WithArgs(int64(9), "community", int64(3), "I want to kill myself", "high", sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	ev, err := crisisStore().Insert(context.Background(), crisis.Event{
		UserID: 9, Source: crisis.SourceCommunity, RoomID: &roomID,
		Excerpt: "I want to kill myself", Level: "high", Matched: []string{"kill myself"}, CreatedAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), ev.ID)
}

func TestCrisisInsert_RejectsUnknownSource(t *testing.T) {
	_, _, crisisStore, _ := newMock(t)
	_, err := crisisStore().Insert(context.Background(), crisis.Event{Source: "journal"})
	require.ErrorContains(t, err, "invalid source")
}

func TestCrisisList(t *testing.T) {
	mock, _, crisisStore, _ := newMock(t)
	cols := []string{"id", "user_id", "source", "community_id", "message_excerpt", "risk_level", "matched_phrases", "created_at"}
	mock.ExpectQuery(`FROM crisis_events`).
		WithArgs(nil, 50, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(2, 9, "detect", nil, "hopeless", "medium", "{hopeless}", time.Now()).
			AddRow(1, 9, "community", 3, "kill myself", "high", "{\"kill myself\"}", time.Now()))

	events, err := crisisStore().List(context.Background(), crisis.Filter{Limit: 50})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Nil(t, events[0].RoomID)
	require.Equal(t, []string{"hopeless"}, events[0].Matched)
	require.Equal(t, int64(3), *events[1].RoomID)
	require.Equal(t, []string{"kill myself"}, events[1].Matched)
}

func TestCommunityGetRoom_NotFound(t *testing.T) {
	mock, _, _, communityStore := newMock(t)
	mock.ExpectQuery(`FROM problem_communities WHERE id = \$1`).WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := communityStore().GetRoom(context.Background(), 99)
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}

func TestCommunityGetMembership_NotMember(t *testing.T) {
	mock, _, _, communityStore := newMock(t)
	mock.ExpectQuery(`FROM community_memberships`).WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	_, err := communityStore().GetMembership(context.Background(), 1, 2)
	require.ErrorIs(t, err, apperr.ErrNotMember)
}

func TestCommunityUpsertMembership(t *testing.T) {
	mock, _, _, communityStore := newMock(t)
	joined := time.Now().UTC()
	cols := []string{"user_id", "community_id", "is_anonymous", "joined_at", "created"}

	mock.ExpectQuery(`ON CONFLICT \(user_id, community_id\) DO UPDATE SET is_anonymous`).
		WithArgs(int64(1), int64(2), true, joined).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, 2, true, joined, true))
	mock.ExpectQuery(`ON CONFLICT`).
		WithArgs(int64(1), int64(2), false, joined).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(1, 2, false, joined.Add(-time.Hour), false))

	store := communityStore()
	m, created, err := store.UpsertMembership(context.Background(), community.Membership{UserID: 1, RoomID: 2, IsAnonymous: true, JoinedAt: joined})
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, m.IsAnonymous)

	m, created, err = store.UpsertMembership(context.Background(), community.Membership{UserID: 1, RoomID: 2, IsAnonymous: false, JoinedAt: joined})
	require.NoError(t, err)
	require.False(t, created)
	require.False(t, m.IsAnonymous)
	require.True(t, m.JoinedAt.Before(joined))
}

func TestCommunityListMessages(t *testing.T) {
	mock, _, _, communityStore := newMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM community_messages`).WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC`).WithArgs(int64(4), 2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "community_id", "user_id", "content", "is_anonymous", "created_at"}).
			AddRow(3, 4, 1, "third", true, now).
			AddRow(2, 4, 2, "second", false, now))

	msgs, total, err := communityStore().ListMessages(context.Background(), 4, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, msgs, 2)
	require.Equal(t, int64(3), msgs[0].ID)
	require.True(t, msgs[0].IsAnonymous)
}

func TestCommunityCreateRoom(t *testing.T) {
	mock, _, _, communityStore := newMock(t)
	mock.ExpectQuery(`INSERT INTO problem_communities`).
		WithArgs("Small Wins Wall", "notes", "General", "expression", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "stress_source", "kind", "is_active", "created_at"}).
			AddRow(5, "Small Wins Wall", "notes", "General", "expression", true, time.Now()))

	r, err := communityStore().CreateRoom(context.Background(), community.Room{
		Name: "Small Wins Wall", Description: "notes", Topic: "General", Kind: community.KindExpression, Active: true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), r.ID)
	require.Equal(t, community.KindExpression, r.Kind)
}
