package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

func txn(t *testing.T, userID, accID uuid.UUID, externalID string, minor int64) ledger.Transaction {
	t.Helper()
	amt, err := money.NewAmountFromMinorUnits("GBP", minor)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	return ledger.Transaction{
		ID:         uuid.New(),
		UserID:     userID,
		AccountID:  accID,
		ExternalID: externalID,
		Amount:     amt,
		BookedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateTransaction_ExternalIDUnique(t *testing.T) {
	store := New()
	userID, accID := uuid.New(), uuid.New()

	if _, err := store.CreateTransaction(context.Background(), txn(t, userID, accID, "ext-1", -100)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := store.CreateTransaction(context.Background(), txn(t, userID, accID, "ext-1", -200))
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate external id: err = %v, want ErrConflict", err)
	}
	// Same external id on a different account is fine.
	if _, err := store.CreateTransaction(context.Background(), txn(t, userID, uuid.New(), "ext-1", -300)); err != nil {
		t.Fatalf("other account: %v", err)
	}
}

func TestPutMemberships_Atomic(t *testing.T) {
	store := New()
	groupA, groupB := uuid.New(), uuid.New()
	t1, t2 := uuid.New(), uuid.New()

	if err := store.PutMemberships(context.Background(), []ledger.LinkMembership{
		{TransactionID: t1, GroupID: groupA, Role: ledger.LinkRolePrimary},
	}); err != nil {
		t.Fatalf("seed group: %v", err)
	}

	// t1 is taken: the whole second batch must be rejected, including t2.
	err := store.PutMemberships(context.Background(), []ledger.LinkMembership{
		{TransactionID: t2, GroupID: groupB, Role: ledger.LinkRolePrimary},
		{TransactionID: t1, GroupID: groupB, Role: ledger.LinkRoleExpense},
	})
	if !errors.Is(err, errs.ErrAlreadyLinked) {
		t.Fatalf("err = %v, want ErrAlreadyLinked", err)
	}
	if _, ok, _ := store.Membership(context.Background(), t2); ok {
		t.Fatal("partial write leaked from a rejected batch")
	}
	members, err := store.GroupMembers(context.Background(), groupB)
	if err != nil || len(members) != 0 {
		t.Fatalf("groupB members = %v err = %v", members, err)
	}
}

func TestTransactions_Filters(t *testing.T) {
	store := New()
	userID, accID := uuid.New(), uuid.New()

	a := txn(t, userID, accID, "a", -100)
	a.BookedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := txn(t, userID, accID, "b", 500)
	b.BookedAt = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	c := txn(t, userID, accID, "c", -300)
	c.BookedAt = time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	c.RecurringID = uuid.New()
	for _, x := range []ledger.Transaction{a, b, c} {
		store.SeedTransaction(x)
	}

	got, err := store.Transactions(context.Background(), ledger.TransactionQuery{
		UserID:            userID,
		ExpensesOnly:      true,
		UnlinkedRecurring: true,
	})
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("filtered = %v, want only the unlinked expense", got)
	}

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	got, err = store.Transactions(context.Background(), ledger.TransactionQuery{UserID: userID, From: &from})
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("range filter returned %d rows, want 2", len(got))
	}
	if !got[0].BookedAt.Before(got[1].BookedAt) {
		t.Fatal("scan must be ordered by booked date")
	}
}
