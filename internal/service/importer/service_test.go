package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
	"github.com/tinoosan/reconcile/internal/storage/memory"
)

func setup(t *testing.T) (*memory.Store, Service, uuid.UUID) {
	t.Helper()
	store := memory.New()
	return store, New(store, store), uuid.New()
}

func baseRequest(userID uuid.UUID) Request {
	return Request{
		UserID: userID,
		Account: AccountHint{
			Name:        "Revolut Current",
			Institution: "Revolut",
			Provider:    "revolut",
			ExternalID:  "rev-123",
			Currency:    "GBP",
		},
		Mapping: ColumnMapping{Date: "Date", Amount: "Amount", Description: "Description"},
	}
}

func TestImport_NewAccountWithRejectedRows(t *testing.T) {
	store, svc, userID := setup(t)

	req := baseRequest(userID)
	req.Feed.Headers = []string{"Date", "Amount", "Description"}
	for i := 0; i < 98; i++ {
		req.Feed.Rows = append(req.Feed.Rows, []string{
			time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02"),
			"-12.50",
			fmt.Sprintf("purchase %d", i),
		})
	}
	// Two rows with missing dates must be rejected, not fatal.
	req.Feed.Rows = append(req.Feed.Rows, []string{"", "-5.00", "no date"}, []string{"", "-6.00", "also no date"})

	res, err := svc.Import(context.Background(), req)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.AccountsSynced != 1 || res.Created != 98 || res.Updated != 0 || res.Rejected != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Message == "" {
		t.Fatal("result must carry a summary message")
	}

	accs, err := store.AccountsByUserID(context.Background(), userID)
	if err != nil || len(accs) != 1 {
		t.Fatalf("accounts = %v err = %v", accs, err)
	}
	// Balance cache reflects the merged rows: 98 * -12.50.
	minor, _ := accs[0].Balance.MinorUnits()
	if minor != -122500 {
		t.Fatalf("balance = %d, want -122500", minor)
	}
}

func TestImport_RerunIsIdempotent(t *testing.T) {
	store, svc, userID := setup(t)

	req := baseRequest(userID)
	req.Feed.Headers = []string{"Date", "Amount", "Description"}
	for i := 0; i < 10; i++ {
		req.Feed.Rows = append(req.Feed.Rows, []string{
			time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02"),
			"-10.00",
			fmt.Sprintf("coffee %d", i),
		})
	}

	if _, err := svc.Import(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := svc.Import(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Created != 0 || res.Updated != 10 || res.Rejected != 0 {
		t.Fatalf("second run = %+v, want 0 created / 10 updated", res)
	}

	txns, err := store.Transactions(context.Background(), ledger.TransactionQuery{UserID: userID})
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txns) != 10 {
		t.Fatalf("transaction count = %d after re-import, want 10", len(txns))
	}
}

func TestImport_UpdatePreservesCategory(t *testing.T) {
	store, svc, userID := setup(t)

	req := baseRequest(userID)
	req.Mapping.ExternalID = "Ref"
	req.Feed.Headers = []string{"Date", "Amount", "Description", "Ref"}
	req.Feed.Rows = [][]string{{"2025-05-01", "-20.00", "gym", "tx-1"}}
	if _, err := svc.Import(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// A user categorizes the transaction between imports.
	existing, found, err := store.TransactionByExternalID(context.Background(), accountID(t, store, userID), "tx-1")
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	cat := uuid.New()
	existing.CategoryID = cat
	if _, err := store.UpdateTransaction(context.Background(), existing); err != nil {
		t.Fatalf("categorize: %v", err)
	}

	// Re-import with a changed description.
	req.Feed.Rows = [][]string{{"2025-05-01", "-20.00", "gym membership", "tx-1"}}
	res, err := svc.Import(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("updated = %d, want 1", res.Updated)
	}
	got, _, err := store.TransactionByExternalID(context.Background(), accountID(t, store, userID), "tx-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Description != "gym membership" {
		t.Fatalf("description not updated: %q", got.Description)
	}
	if got.CategoryID != cat {
		t.Fatal("re-import overwrote the user-assigned category")
	}
}

func accountID(t *testing.T, store *memory.Store, userID uuid.UUID) uuid.UUID {
	t.Helper()
	accs, err := store.AccountsByUserID(context.Background(), userID)
	if err != nil || len(accs) != 1 {
		t.Fatalf("accounts = %v err = %v", accs, err)
	}
	return accs[0].ID
}

func TestImport_UnsignedAmountsWithTypeColumn(t *testing.T) {
	store, svc, userID := setup(t)

	req := baseRequest(userID)
	req.Mapping.Type = "DC"
	req.Mapping.DebitValue = "D"
	req.Feed.Headers = []string{"Date", "Amount", "Description", "DC"}
	req.Feed.Rows = [][]string{
		{"2025-05-01", "25.00", "groceries", "D"},
		{"2025-05-02", "100.00", "salary part", "C"},
	}

	if _, err := svc.Import(context.Background(), req); err != nil {
		t.Fatalf("Import: %v", err)
	}
	txns, err := store.Transactions(context.Background(), ledger.TransactionQuery{UserID: userID})
	if err != nil || len(txns) != 2 {
		t.Fatalf("txns = %v err = %v", txns, err)
	}
	if txns[0].AmountMinor() != -2500 {
		t.Fatalf("debit = %d, want -2500", txns[0].AmountMinor())
	}
	if txns[1].AmountMinor() != 10000 {
		t.Fatalf("credit = %d, want 10000", txns[1].AmountMinor())
	}
}

func TestImport_DecimalCommaAndFee(t *testing.T) {
	store, svc, userID := setup(t)

	req := baseRequest(userID)
	req.Mapping.Fee = "Fee"
	req.Mapping.DecimalComma = true
	req.Feed.Headers = []string{"Date", "Amount", "Description", "Fee"}
	req.Feed.Rows = [][]string{{"2025-05-01", "-1.234,56", "transfer", "0,99"}}

	if _, err := svc.Import(context.Background(), req); err != nil {
		t.Fatalf("Import: %v", err)
	}
	txns, err := store.Transactions(context.Background(), ledger.TransactionQuery{UserID: userID})
	if err != nil || len(txns) != 1 {
		t.Fatalf("txns = %v err = %v", txns, err)
	}
	// -1234.56 minus the 0.99 fee.
	if txns[0].AmountMinor() != -123555 {
		t.Fatalf("amount = %d, want -123555", txns[0].AmountMinor())
	}
}

func TestImport_StartingBalanceSeedsNewAccount(t *testing.T) {
	store, svc, userID := setup(t)

	req := baseRequest(userID)
	req.Mapping.StartingBalance = "Start"
	req.Feed.Headers = []string{"Date", "Amount", "Description", "Start"}
	req.Feed.Rows = [][]string{{"2025-05-01", "-10.00", "first", "500.00"}}

	if _, err := svc.Import(context.Background(), req); err != nil {
		t.Fatalf("Import: %v", err)
	}
	accs, _ := store.AccountsByUserID(context.Background(), userID)
	start, _ := accs[0].StartingBalance.MinorUnits()
	if start != 50000 {
		t.Fatalf("starting balance = %d, want 50000", start)
	}
	bal, _ := accs[0].Balance.MinorUnits()
	if bal != 49000 {
		t.Fatalf("balance = %d, want 49000", bal)
	}
}

func TestImport_EndingBalanceCheck(t *testing.T) {
	_, svc, userID := setup(t)

	req := baseRequest(userID)
	req.Mapping.EndingBalance = "Balance"
	req.Feed.Headers = []string{"Date", "Amount", "Description", "Balance"}
	req.Feed.Rows = [][]string{
		{"2025-05-01", "-10.00", "first", "-10.00"},
		{"2025-05-02", "-5.00", "second", "-15.00"},
	}

	res, err := svc.Import(context.Background(), req)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if strings.Contains(res.Message, "mismatch") {
		t.Fatalf("consistent feed flagged as mismatch: %q", res.Message)
	}

	// A feed whose reported balance disagrees with the merged rows is still
	// imported, but the discrepancy is surfaced.
	req.Feed.Rows = [][]string{{"2025-05-03", "-1.00", "third", "-99.00"}}
	res, err = svc.Import(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !strings.Contains(res.Message, "ending balance mismatch") {
		t.Fatalf("discrepancy not reported: %q", res.Message)
	}
}

func TestImport_StructurallyInvalid(t *testing.T) {
	store, svc, userID := setup(t)

	// Empty feed.
	req := baseRequest(userID)
	if _, err := svc.Import(context.Background(), req); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("empty feed: err = %v, want ErrInvalid", err)
	}

	// Missing required mapping.
	req = baseRequest(userID)
	req.Mapping.Date = ""
	req.Feed.Headers = []string{"Date", "Amount", "Description"}
	req.Feed.Rows = [][]string{{"2025-05-01", "-1.00", "x"}}
	if _, err := svc.Import(context.Background(), req); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("missing mapping: err = %v, want ErrInvalid", err)
	}

	// Mapped column absent from the headers.
	req = baseRequest(userID)
	req.Feed.Headers = []string{"When", "Amount", "Description"}
	req.Feed.Rows = [][]string{{"2025-05-01", "-1.00", "x"}}
	if _, err := svc.Import(context.Background(), req); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("unknown column: err = %v, want ErrInvalid", err)
	}

	// None of the failures may have written anything.
	if accs, _ := store.AccountsByUserID(context.Background(), userID); len(accs) != 0 {
		t.Fatalf("invalid imports wrote accounts: %v", accs)
	}
}

func TestImport_SnapshotInvalidation(t *testing.T) {
	store, svc, userID := setup(t)

	req := baseRequest(userID)
	req.Feed.Headers = []string{"Date", "Amount", "Description"}
	req.Feed.Rows = [][]string{{"2025-05-01", "-10.00", "first"}}
	if _, err := svc.Import(context.Background(), req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	accID := accountID(t, store, userID)

	stale := ledger.BalanceSnapshot{
		AccountID: accID,
		AsOf:      time.Date(2025, 5, 10, 23, 59, 59, 999_000_000, time.UTC),
	}
	if err := store.SaveSnapshot(context.Background(), stale); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// A new row booked before the snapshot invalidates it.
	req.Feed.Rows = [][]string{{"2025-05-05", "-20.00", "second"}}
	if _, err := svc.Import(context.Background(), req); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if _, found, _ := store.SnapshotOnOrBefore(context.Background(), accID, stale.AsOf); found {
		t.Fatal("stale snapshot survived the import")
	}
}
