package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meghan/community-chat/internal/ledger"
)

// LedgerStore implements ledger.Store on the hearts_transactions table.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore returns a ledger.Store on db.
func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const txColumns = `id, user_id, amount, type, description, reference_id, balance_after, created_at`

func scanTx(row scanner) (ledger.Transaction, error) {
	var t ledger.Transaction
	var reason string
	var ref sql.NullString
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &reason, &t.Description, &ref, &t.BalanceAfter, &t.CreatedAt)
	t.Reason = ledger.Reason(reason)
	if ref.Valid {
		t.ReferenceID = &ref.String
	}
	return t, err
}

// Append runs the read of the latest row and the insert in one transaction
// holding a per-account advisory lock, so concurrent appends from other
// processes serialize as well.
func (s *LedgerStore) Append(ctx context.Context, accountID int64, next func(last *ledger.Transaction) ledger.Transaction) (ledger.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, accountID); err != nil {
		return ledger.Transaction{}, fmt.Errorf("postgres: lock account %d: %w", accountID, err)
	}

	var last *ledger.Transaction
	prev, err := scanTx(tx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM hearts_transactions WHERE user_id = $1 ORDER BY id DESC LIMIT 1`, accountID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ledger.Transaction{}, fmt.Errorf("postgres: last transaction: %w", err)
	default:
		last = &prev
	}

	t := next(last)
	t.AccountID = accountID
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO hearts_transactions (user_id, amount, type, description, reference_id, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		t.AccountID, t.Amount, string(t.Reason), t.Description, t.ReferenceID, t.BalanceAfter, t.CreatedAt,
	).Scan(&t.ID); err != nil {
		return ledger.Transaction{}, fmt.Errorf("postgres: insert transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, fmt.Errorf("postgres: commit: %w", err)
	}
	return t, nil
}

func (s *LedgerStore) Totals(ctx context.Context, accountID int64) (int64, int64, error) {
	var earned, redeemed int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0),
		        COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0)
		 FROM hearts_transactions WHERE user_id = $1`, accountID).Scan(&earned, &redeemed)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: totals: %w", err)
	}
	return earned, redeemed, nil
}

func (s *LedgerStore) List(ctx context.Context, accountID int64, limit, offset int) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM hearts_transactions WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
