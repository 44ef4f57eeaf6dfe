package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
)

// Cadence describes the expected recurrence interval of a recurring definition.
type Cadence string

const (
	CadenceWeekly    Cadence = "weekly"
	CadenceBiweekly  Cadence = "biweekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceYearly    Cadence = "yearly"
)

// Valid reports whether c is one of the supported cadences.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceWeekly, CadenceBiweekly, CadenceMonthly, CadenceQuarterly, CadenceYearly:
		return true
	}
	return false
}

// LinkRole is the position of a transaction within a link group.
type LinkRole string

const (
	// LinkRolePrimary marks the anchoring transaction of a group; exactly one per group.
	LinkRolePrimary LinkRole = "primary"
	// LinkRoleReimbursement marks a repayment against a primary expense.
	LinkRoleReimbursement LinkRole = "reimbursement"
	// LinkRoleExpense marks an additional expense grouped under a primary.
	LinkRoleExpense LinkRole = "expense"
)

// Account represents a bank account belonging to a user.
type Account struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Institution string
	// Provider identifies the feed source (e.g. revolut, manual).
	Provider string
	// ExternalID is the provider's identifier for the account.
	ExternalID string
	Currency   string
	// StartingBalance is the opening balance the ledger replays from.
	StartingBalance money.Amount
	// Balance is the functional running balance. It is a cache: it must always
	// be derivable by replaying transactions from StartingBalance.
	Balance money.Amount
	// Active indicates whether the account is active (soft-delete when false).
	Active bool
}

// Transaction is one booked or pending ledger movement on an account.
type Transaction struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	AccountID uuid.UUID
	// ExternalID is the provider identifier used as the dedup key for
	// re-imports; unique per account when non-empty.
	ExternalID string
	// Amount is signed: negative for expenses, positive for income.
	Amount      money.Amount
	Description string
	Merchant    string
	// CategoryID is the user-assigned category; uuid.Nil when unset.
	CategoryID uuid.UUID
	// SystemCategoryID is the system-assigned category. User edits never
	// touch it and imports never overwrite CategoryID with it.
	SystemCategoryID uuid.UUID
	// RecurringID links the transaction to a recurring definition; uuid.Nil
	// when unlinked.
	RecurringID uuid.UUID
	BookedAt    time.Time
	Pending     bool
}

// AmountMinor returns the signed amount in minor units.
func (t Transaction) AmountMinor() int64 {
	units, _ := t.Amount.MinorUnits()
	return units
}

// Currency returns the transaction's currency code.
func (t Transaction) Currency() string { return t.Amount.Curr().Code() }

// RecurringDefinition is a user-visible subscription/bill with an expected
// amount and cadence. Deactivation is soft: linked transactions survive with
// their recurring reference cleared, never cascaded.
type RecurringDefinition struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Name     string
	Merchant string
	// Amount is the expected charge, stored positive.
	Amount     money.Amount
	CategoryID uuid.UUID
	// Importance is a 1..5 weight used by callers for ordering.
	Importance int
	Cadence    Cadence
	Active     bool
}

// AmountMinor returns the expected amount in minor units.
func (d RecurringDefinition) AmountMinor() int64 {
	units, _ := d.Amount.MinorUnits()
	return units
}

// LinkMembership is one row of a link group. A group has no persisted entity
// of its own; it is the set of membership rows sharing a GroupID.
type LinkMembership struct {
	TransactionID uuid.UUID
	GroupID       uuid.UUID
	Role          LinkRole
}

// BalanceSnapshot memoizes a reconstructed account balance as of a date.
// It is a cache, never authoritative: replay is always the fallback.
type BalanceSnapshot struct {
	AccountID uuid.UUID
	AsOf      time.Time
	Balance   money.Amount
}

// TransactionQuery narrows a transaction scan. Zero values mean "no filter".
type TransactionQuery struct {
	UserID    uuid.UUID
	AccountID uuid.UUID
	Currency  string
	From      *time.Time
	To        *time.Time
	// UnlinkedRecurring keeps only transactions with no recurring reference.
	UnlinkedRecurring bool
	// ExpensesOnly keeps only negative amounts.
	ExpensesOnly bool
	// Limit caps the number of rows returned; 0 means no cap.
	Limit int
}
