// Package balance reconstructs historical account balances, preferring a
// memoized snapshot and falling back to replaying transactions from the
// account's starting balance.
package balance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

// Repo defines read operations needed by the service.
type Repo interface {
	Account(ctx context.Context, userID, accountID uuid.UUID) (ledger.Account, error)
	Transactions(ctx context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, error)
	// SnapshotOnOrBefore returns the most recent snapshot at or before asOf.
	SnapshotOnOrBefore(ctx context.Context, accountID uuid.UUID, asOf time.Time) (ledger.BalanceSnapshot, bool, error)
}

// Writer defines write operations needed by the service.
type Writer interface {
	SaveSnapshot(ctx context.Context, snap ledger.BalanceSnapshot) error
}

// Service exposes balance reconstruction.
type Service interface {
	BalanceOnDate(ctx context.Context, userID, accountID uuid.UUID, date time.Time) (money.Amount, error)
}

type service struct {
	repo   Repo
	writer Writer
	logger *slog.Logger
}

// New constructs the balance service.
func New(repo Repo, writer Writer, logger *slog.Logger) Service {
	return &service{repo: repo, writer: writer, logger: logger}
}

// BalanceOnDate returns the account balance at the end of the given date. A
// snapshot taken exactly at that instant is returned directly; otherwise the
// balance is replayed from the starting balance over every transaction booked
// up to and including end of day, and memoized best-effort.
func (s *service) BalanceOnDate(ctx context.Context, userID, accountID uuid.UUID, date time.Time) (money.Amount, error) {
	if userID == uuid.Nil || accountID == uuid.Nil {
		return money.Amount{}, errs.ErrInvalid
	}
	acc, err := s.repo.Account(ctx, userID, accountID)
	if err != nil {
		return money.Amount{}, err
	}
	if acc.UserID != userID {
		return money.Amount{}, errs.ErrForbidden
	}

	cutoff := endOfDay(date)
	if snap, ok, err := s.repo.SnapshotOnOrBefore(ctx, accountID, cutoff); err != nil {
		return money.Amount{}, err
	} else if ok && snap.AsOf.Equal(cutoff) {
		return snap.Balance, nil
	}

	txns, err := s.repo.Transactions(ctx, ledger.TransactionQuery{
		UserID:    userID,
		AccountID: accountID,
		To:        &cutoff,
	})
	if err != nil {
		return money.Amount{}, err
	}
	bal := acc.StartingBalance
	for _, t := range txns {
		bal, err = bal.Add(t.Amount)
		if err != nil {
			return money.Amount{}, err
		}
	}

	// Memoization is best-effort; a failed write never fails the read.
	if err := s.writer.SaveSnapshot(ctx, ledger.BalanceSnapshot{AccountID: accountID, AsOf: cutoff, Balance: bal}); err != nil {
		s.logger.Warn("balance snapshot write failed", "account_id", accountID, "error", err)
	}
	return bal, nil
}

// endOfDay normalizes a date to the last instant counted as that day.
func endOfDay(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 23, 59, 59, 999_000_000, date.Location())
}
