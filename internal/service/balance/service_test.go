package balance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
	"github.com/tinoosan/reconcile/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func gbp(t *testing.T, minor int64) money.Amount {
	t.Helper()
	amt, err := money.NewAmountFromMinorUnits("GBP", minor)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	return amt
}

func setup(t *testing.T, startingMinor int64) (*memory.Store, Service, uuid.UUID, ledger.Account) {
	t.Helper()
	store := memory.New()
	userID := uuid.New()
	acc := ledger.Account{
		ID:              uuid.New(),
		UserID:          userID,
		Name:            "Current",
		Currency:        "GBP",
		StartingBalance: gbp(t, startingMinor),
		Balance:         gbp(t, startingMinor),
		Active:          true,
	}
	store.SeedAccount(acc)
	return store, New(store, store, testLogger()), userID, acc
}

func seedTxn(t *testing.T, store *memory.Store, acc ledger.Account, minor int64, bookedAt time.Time) {
	t.Helper()
	store.SeedTransaction(ledger.Transaction{
		ID:        uuid.New(),
		UserID:    acc.UserID,
		AccountID: acc.ID,
		Amount:    gbp(t, minor),
		BookedAt:  bookedAt,
	})
}

func TestBalanceOnDate_Replay(t *testing.T) {
	store, svc, userID, acc := setup(t, 10000)
	seedTxn(t, store, acc, -2500, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	seedTxn(t, store, acc, 1000, time.Date(2025, 6, 2, 18, 30, 0, 0, time.UTC))
	seedTxn(t, store, acc, -500, time.Date(2025, 6, 5, 8, 0, 0, 0, time.UTC))

	bal, err := svc.BalanceOnDate(context.Background(), userID, acc.ID, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BalanceOnDate: %v", err)
	}
	minor, _ := bal.MinorUnits()
	if minor != 8500 {
		t.Fatalf("balance = %d, want 8500", minor)
	}
}

func TestBalanceOnDate_SameDayIncluded(t *testing.T) {
	store, svc, userID, acc := setup(t, 10000)
	// Booked late in the evening: still inside end-of-day.
	seedTxn(t, store, acc, -4000, time.Date(2025, 6, 3, 23, 45, 0, 0, time.UTC))

	bal, err := svc.BalanceOnDate(context.Background(), userID, acc.ID, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BalanceOnDate: %v", err)
	}
	minor, _ := bal.MinorUnits()
	if minor != 6000 {
		t.Fatalf("balance = %d, want 6000", minor)
	}
}

func TestBalanceOnDate_EmptyAccount(t *testing.T) {
	_, svc, userID, acc := setup(t, 12345)

	bal, err := svc.BalanceOnDate(context.Background(), userID, acc.ID, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BalanceOnDate: %v", err)
	}
	minor, _ := bal.MinorUnits()
	if minor != 12345 {
		t.Fatalf("empty account must return its starting balance, got %d", minor)
	}
}

func TestBalanceOnDate_SnapshotEquivalentToReplay(t *testing.T) {
	store, svc, userID, acc := setup(t, 10000)
	seedTxn(t, store, acc, -2500, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	seedTxn(t, store, acc, 1000, time.Date(2025, 6, 2, 18, 30, 0, 0, time.UTC))

	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	first, err := svc.BalanceOnDate(context.Background(), userID, acc.ID, date)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	// The first call memoized a snapshot; the second must serve it with the
	// exact same result.
	second, err := svc.BalanceOnDate(context.Background(), userID, acc.ID, date)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	a, _ := first.MinorUnits()
	b, _ := second.MinorUnits()
	if a != b {
		t.Fatalf("snapshot path diverged from replay: %d vs %d", a, b)
	}
}

func TestBalanceOnDate_SnapshotHit(t *testing.T) {
	store, svc, userID, acc := setup(t, 10000)
	asOf := time.Date(2025, 6, 2, 23, 59, 59, 999_000_000, time.UTC)
	if err := store.SaveSnapshot(context.Background(), ledger.BalanceSnapshot{AccountID: acc.ID, AsOf: asOf, Balance: gbp(t, 7777)}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	bal, err := svc.BalanceOnDate(context.Background(), userID, acc.ID, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BalanceOnDate: %v", err)
	}
	minor, _ := bal.MinorUnits()
	if minor != 7777 {
		t.Fatalf("snapshot must be served directly, got %d", minor)
	}
}

func TestBalanceOnDate_UnknownAccount(t *testing.T) {
	_, svc, userID, _ := setup(t, 0)
	_, err := svc.BalanceOnDate(context.Background(), userID, uuid.New(), time.Now())
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
