// Package ledger is the append-only hearts ledger. Every transaction stores
// the running balance of its account, so the current balance is always the
// balance of the most recent row.
package ledger

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/metrics"
)

// Reason is the code recorded with a transaction.
type Reason string

const (
	ReasonCommunityMessage Reason = "community_message"
	ReasonExpression       Reason = "expression"
	ReasonEmpathy          Reason = "empathy"
)

// Rewards is the fixed amount credited per action.
var Rewards = map[Reason]int64{
	ReasonCommunityMessage: 1,
	ReasonExpression:       5,
	ReasonEmpathy:          3,
}

// Transaction is one immutable ledger row.
type Transaction struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"user_id"`
	Amount       int64     `json:"amount"`
	Reason       Reason    `json:"type"`
	Description  string    `json:"description"`
	ReferenceID  *string   `json:"reference_id"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// Balance is the account snapshot.
type Balance struct {
	Balance       int64 `json:"balance"`
	TotalEarned   int64 `json:"total_earned"`
	TotalRedeemed int64 `json:"total_redeemed"`
}

// Store persists transactions.
type Store interface {
	// Append gives next the latest transaction of the account (nil when the
	// account has none) and appends the row it returns. Implementations must
	// not let another Append for the same account interleave between the
	// read and the write.
	Append(ctx context.Context, accountID int64, next func(last *Transaction) Transaction) (Transaction, error)
	// Totals returns the sum of positive amounts and the sum of absolute
	// negative amounts for the account.
	Totals(ctx context.Context, accountID int64) (earned, redeemed int64, err error)
	// List returns transactions most recent first.
	List(ctx context.Context, accountID int64, limit, offset int) ([]Transaction, error)
}

// Ledger serializes credits per account on top of a Store. Credits for
// different accounts proceed in parallel.
type Ledger struct {
	store Store
	locks *keyedMutex
	log   logrus.FieldLogger
	now   func() time.Time
}

// New returns a Ledger backed by store.
func New(store Store, log logrus.FieldLogger) *Ledger {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Ledger{
		store: store,
		locks: newKeyedMutex(),
		log:   log.WithField("component", "ledger"),
		now:   time.Now,
	}
}

// Credit appends a transaction of amount (negative for redemptions) and
// returns it with its resulting balance.
func (l *Ledger) Credit(ctx context.Context, accountID, amount int64, reason Reason, description string, referenceID *string) (Transaction, error) {
	if amount == 0 {
		return Transaction{}, apperr.Validation("amount must be non-zero")
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	tx, err := l.store.Append(ctx, accountID, func(last *Transaction) Transaction {
		var prev int64
		if last != nil {
			prev = last.BalanceAfter
		}
		return Transaction{
			AccountID:    accountID,
			Amount:       amount,
			Reason:       reason,
			Description:  description,
			ReferenceID:  referenceID,
			BalanceAfter: prev + amount,
			CreatedAt:    l.now().UTC(),
		}
	})
	if err != nil {
		metrics.LedgerCredits.WithLabelValues(string(reason), "error").Inc()
		return Transaction{}, apperr.Persistence("could not record transaction", fmt.Errorf("ledger: append: %w", err))
	}

	metrics.LedgerCredits.WithLabelValues(string(reason), "ok").Inc()
	l.log.WithFields(logrus.Fields{
		"user_id": accountID,
		"amount":  amount,
		"reason":  reason,
		"balance": tx.BalanceAfter,
	}).Debug("ledger credited")
	return tx, nil
}

// Reward credits the fixed amount for reason.
func (l *Ledger) Reward(ctx context.Context, accountID int64, reason Reason, description string, referenceID *string) (Transaction, error) {
	amount, ok := Rewards[reason]
	if !ok {
		return Transaction{}, apperr.Validation(fmt.Sprintf("unknown reward reason %q", reason))
	}
	return l.Credit(ctx, accountID, amount, reason, description, referenceID)
}

// Balance returns the account snapshot.
func (l *Ledger) Balance(ctx context.Context, accountID int64) (Balance, error) {
	earned, redeemed, err := l.store.Totals(ctx, accountID)
	if err != nil {
		return Balance{}, fmt.Errorf("ledger: totals: %w", err)
	}
	return Balance{
		Balance:       earned - redeemed,
		TotalEarned:   earned,
		TotalRedeemed: redeemed,
	}, nil
}

// History returns a page of transactions most recent first.
func (l *Ledger) History(ctx context.Context, accountID int64, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := l.store.List(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return txs, nil
}
