package recurring

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

func (f *fixture) seedDefinition(t *testing.T, name, merchant string, minor int64, active bool) ledger.RecurringDefinition {
	t.Helper()
	amt, err := money.NewAmountFromMinorUnits("GBP", minor)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	def := ledger.RecurringDefinition{
		ID:         uuid.New(),
		UserID:     f.userID,
		Name:       name,
		Merchant:   merchant,
		Amount:     amt,
		Importance: 3,
		Cadence:    ledger.CadenceMonthly,
		Active:     active,
	}
	f.store.SeedDefinition(def)
	return def
}

func TestMatch_FindsAndApplies(t *testing.T) {
	f := newFixture(t)
	def := f.seedDefinition(t, "Spotify", "Spotify", 1099, true)
	hit := f.seedTxn(t, "Spotify", "SPOTIFY PREMIUM", -1099, day(2025, 5, 5))
	// Close merchant but amount far outside tolerance: below threshold.
	f.seedTxn(t, "Spotity", "SPOTITY", -2599, day(2025, 5, 6))
	// Income never matches.
	f.seedTxn(t, "Spotify", "REFUND", 1099, day(2025, 5, 7))

	res, err := f.svc.Match(context.Background(), f.userID, def.ID, MatchOptions{Apply: true})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ID != hit.ID {
		t.Fatalf("matches = %v, want just the premium charge", res.Matches)
	}
	if res.Applied != 1 {
		t.Fatalf("applied = %d, want 1", res.Applied)
	}

	got, err := f.store.Transaction(context.Background(), f.userID, hit.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.RecurringID != def.ID {
		t.Fatal("matched transaction was not linked")
	}
}

func TestMatch_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	def := f.seedDefinition(t, "Spotify", "Spotify", 1099, true)
	f.seedTxn(t, "Spotify", "SPOTIFY PREMIUM", -1099, day(2025, 5, 5))

	if _, err := f.svc.Match(context.Background(), f.userID, def.ID, MatchOptions{Apply: true}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := f.svc.Match(context.Background(), f.userID, def.ID, MatchOptions{Apply: true})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(res.Matches) != 0 || res.Applied != 0 {
		t.Fatalf("second run must find nothing, got %d matches %d applied", len(res.Matches), res.Applied)
	}
}

func TestMatch_CloseMerchantExactAmount(t *testing.T) {
	f := newFixture(t)
	// Merchant close (not exact) plus exact amount and its bonus clears the
	// threshold.
	def := f.seedDefinition(t, "Vattenfall", "Vattenfall BV", 8000, true)
	hit := f.seedTxn(t, "Vattenfall", "energy bill", -8000, day(2025, 5, 10))

	res, err := f.svc.Match(context.Background(), f.userID, def.ID, MatchOptions{})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ID != hit.ID {
		t.Fatalf("expected borderline candidate to match, got %d", len(res.Matches))
	}
	if res.Applied != 0 {
		t.Fatal("dry run must not apply")
	}
}

func TestMatch_InactiveDefinition(t *testing.T) {
	f := newFixture(t)
	def := f.seedDefinition(t, "Old Gym", "Old Gym", 3000, false)

	_, err := f.svc.Match(context.Background(), f.userID, def.ID, MatchOptions{})
	if !errors.Is(err, errs.ErrUnprocessable) {
		t.Fatalf("err = %v, want ErrUnprocessable", err)
	}
}

func TestMatch_BadThresholds(t *testing.T) {
	f := newFixture(t)
	def := f.seedDefinition(t, "Spotify", "Spotify", 1099, true)

	if _, err := f.svc.Match(context.Background(), f.userID, def.ID, MatchOptions{DescriptionSimilarity: 1.5}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("similarity out of range: err = %v, want ErrInvalid", err)
	}
	if _, err := f.svc.Match(context.Background(), f.userID, def.ID, MatchOptions{AmountTolerance: -0.1}); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("tolerance out of range: err = %v, want ErrInvalid", err)
	}
}

func TestAcceptDetection_CreatesAndLinks(t *testing.T) {
	f := newFixture(t)
	f.seedTxn(t, "Netflix", "NETFLIX.COM", -1599, day(2025, 4, 2))
	f.seedTxn(t, "Netflix", "NETFLIX.COM", -1599, day(2025, 5, 2))
	seed := f.seedTxn(t, "Netflix", "NETFLIX.COM", -1599, day(2025, 6, 1))

	def, linked, err := f.svc.AcceptDetection(context.Background(), f.userID, seed.ID)
	if err != nil {
		t.Fatalf("AcceptDetection: %v", err)
	}
	if linked != 3 {
		t.Fatalf("linked = %d, want 3 (seed plus two priors)", linked)
	}
	if !def.Active || def.Name != "Netflix" {
		t.Fatalf("definition = %+v", def)
	}
	got, err := f.store.Transaction(context.Background(), f.userID, seed.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.RecurringID != def.ID {
		t.Fatal("seed was not linked to the created definition")
	}
}

func TestAcceptDetection_NoPattern(t *testing.T) {
	f := newFixture(t)
	seed := f.seedTxn(t, "One Off Ltd", "single purchase", -9900, day(2025, 6, 1))

	_, _, err := f.svc.AcceptDetection(context.Background(), f.userID, seed.ID)
	if !errors.Is(err, errs.ErrUnprocessable) {
		t.Fatalf("err = %v, want ErrUnprocessable", err)
	}
}

func TestDeactivate_ClearsLinks(t *testing.T) {
	f := newFixture(t)
	def := f.seedDefinition(t, "Spotify", "Spotify", 1099, true)
	txn := f.seedTxn(t, "Spotify", "SPOTIFY PREMIUM", -1099, day(2025, 5, 5))
	if _, err := f.store.SetTransactionRecurring(context.Background(), f.userID, []uuid.UUID{txn.ID}, def.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	cleared, err := f.svc.Deactivate(context.Background(), f.userID, def.ID)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	got, err := f.store.Transaction(context.Background(), f.userID, txn.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.RecurringID != uuid.Nil {
		t.Fatal("transaction still linked after deactivation")
	}
	defs, err := f.svc.ListDefinitions(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("ListDefinitions: %v", err)
	}
	if len(defs) != 0 {
		t.Fatalf("inactive definition still listed: %v", defs)
	}
}

func TestCreateDefinition_Validation(t *testing.T) {
	f := newFixture(t)
	amt, _ := money.NewAmountFromMinorUnits("GBP", 1099)

	cases := []struct {
		name string
		def  ledger.RecurringDefinition
		want error
	}{
		{"missing name", ledger.RecurringDefinition{UserID: f.userID, Amount: amt, Cadence: ledger.CadenceMonthly}, errs.ErrInvalid},
		{"bad cadence", ledger.RecurringDefinition{UserID: f.userID, Name: "X", Amount: amt, Cadence: "fortnightly"}, errs.ErrInvalid},
		{"bad importance", ledger.RecurringDefinition{UserID: f.userID, Name: "X", Amount: amt, Importance: 9, Cadence: ledger.CadenceMonthly}, errs.ErrInvalid},
	}
	for _, tc := range cases {
		if _, err := f.svc.CreateDefinition(context.Background(), tc.def); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	ok := ledger.RecurringDefinition{UserID: f.userID, Name: "Spotify", Amount: amt, Cadence: ledger.CadenceMonthly}
	created, err := f.svc.CreateDefinition(context.Background(), ok)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Importance != 3 {
		t.Fatalf("importance default = %d, want 3", created.Importance)
	}
	if _, err := f.svc.CreateDefinition(context.Background(), ok); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate name: err = %v, want ErrConflict", err)
	}
}
