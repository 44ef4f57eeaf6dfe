package postgres

// Package postgres provides a pgx-backed storage implementation that satisfies
// the repository and writer interfaces used by the services.
//
// It is intentionally small and explicit. Migrations that create the expected
// schema live under db/migrations. This package focuses on mapping between the
// domain entities and SQL rows and running the necessary statements/transactions.

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

// Store holds a pgx connection pool and implements the read/write interfaces
// used across the service layer. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil { return nil, err }
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil { return nil, err }
	// Verify connection
	if err := pool.Ping(ctx); err != nil { pool.Close(); return nil, err }
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() { if s.pool != nil { s.pool.Close() } }

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

func amountFrom(currency string, minor int64) (money.Amount, error) {
	return money.NewAmountFromMinorUnits(currency, minor)
}

// --- accounts ---

const accountCols = `id, user_id, name, institution, provider, external_id, currency, starting_balance, balance, active`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	var currency string
	var startingMinor, balanceMinor int64
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Institution, &a.Provider, &a.ExternalID, &currency, &startingMinor, &balanceMinor, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) { return ledger.Account{}, errs.ErrNotFound }
	if err != nil { return ledger.Account{}, err }
	a.Currency = currency
	if a.StartingBalance, err = amountFrom(currency, startingMinor); err != nil { return ledger.Account{}, err }
	if a.Balance, err = amountFrom(currency, balanceMinor); err != nil { return ledger.Account{}, err }
	return a, nil
}

func (s *Store) Account(ctx context.Context, userID, accountID uuid.UUID) (ledger.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		select `+accountCols+` from accounts where id = $1 and user_id = $2
	`, accountID, userID))
}

func (s *Store) AccountsByUserID(ctx context.Context, userID uuid.UUID) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `
		select `+accountCols+` from accounts where user_id = $1 order by name asc
	`, userID)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil { return nil, err }
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AccountByExternalID(ctx context.Context, userID uuid.UUID, provider, externalID string) (ledger.Account, bool, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		select `+accountCols+` from accounts
		where user_id = $1 and provider = $2 and external_id = $3 and external_id <> ''
	`, userID, provider, externalID))
	if errors.Is(err, errs.ErrNotFound) { return ledger.Account{}, false, nil }
	if err != nil { return ledger.Account{}, false, err }
	return a, true, nil
}

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	startingMinor, _ := a.StartingBalance.MinorUnits()
	balanceMinor, _ := a.Balance.MinorUnits()
	_, err := s.pool.Exec(ctx, `
		insert into accounts (`+accountCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, a.UserID, a.Name, a.Institution, a.Provider, a.ExternalID, a.Currency, startingMinor, balanceMinor, a.Active)
	if err != nil { return ledger.Account{}, err }
	return a, nil
}

// UpdateAccount updates mutable fields (name, institution, balance, active).
func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	balanceMinor, _ := a.Balance.MinorUnits()
	ct, err := s.pool.Exec(ctx, `
		update accounts set name=$1, institution=$2, balance=$3, active=$4
		where id=$5 and user_id=$6
	`, a.Name, a.Institution, balanceMinor, a.Active, a.ID, a.UserID)
	if err != nil { return ledger.Account{}, err }
	if ct.RowsAffected() == 0 { return ledger.Account{}, errs.ErrNotFound }
	return a, nil
}

// --- transactions ---

const txnCols = `id, user_id, account_id, external_id, amount, currency, description, merchant, category_id, system_category_id, recurring_id, booked_at, pending`

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var t ledger.Transaction
	var currency string
	var minor int64
	var categoryID, systemCategoryID, recurringID *uuid.UUID
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.ExternalID, &minor, &currency, &t.Description, &t.Merchant, &categoryID, &systemCategoryID, &recurringID, &t.BookedAt, &t.Pending)
	if errors.Is(err, pgx.ErrNoRows) { return ledger.Transaction{}, errs.ErrNotFound }
	if err != nil { return ledger.Transaction{}, err }
	if t.Amount, err = amountFrom(currency, minor); err != nil { return ledger.Transaction{}, err }
	if categoryID != nil { t.CategoryID = *categoryID }
	if systemCategoryID != nil { t.SystemCategoryID = *systemCategoryID }
	if recurringID != nil { t.RecurringID = *recurringID }
	return t, nil
}

func (s *Store) Transaction(ctx context.Context, userID, transactionID uuid.UUID) (ledger.Transaction, error) {
	return scanTransaction(s.pool.QueryRow(ctx, `
		select `+txnCols+` from transactions where id = $1 and user_id = $2
	`, transactionID, userID))
}

func (s *Store) TransactionsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]ledger.Transaction, error) {
	if len(ids) == 0 { return nil, nil }
	rows, err := s.pool.Query(ctx, `
		select `+txnCols+` from transactions where user_id = $1 and id = any($2)
	`, userID, ids)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil { return nil, err }
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) TransactionByExternalID(ctx context.Context, accountID uuid.UUID, externalID string) (ledger.Transaction, bool, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `
		select `+txnCols+` from transactions
		where account_id = $1 and external_id = $2 and external_id <> ''
	`, accountID, externalID))
	if errors.Is(err, errs.ErrNotFound) { return ledger.Transaction{}, false, nil }
	if err != nil { return ledger.Transaction{}, false, err }
	return t, true, nil
}

// Transactions scans with the query's filters, ordered by booked date asc.
func (s *Store) Transactions(ctx context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, error) {
	sql := `select ` + txnCols + ` from transactions where 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if q.UserID != uuid.Nil { sql += ` and user_id = ` + arg(q.UserID) }
	if q.AccountID != uuid.Nil { sql += ` and account_id = ` + arg(q.AccountID) }
	if q.Currency != "" { sql += ` and currency = ` + arg(q.Currency) }
	if q.From != nil { sql += ` and booked_at >= ` + arg(*q.From) }
	if q.To != nil { sql += ` and booked_at <= ` + arg(*q.To) }
	if q.UnlinkedRecurring { sql += ` and recurring_id is null` }
	if q.ExpensesOnly { sql += ` and amount < 0` }
	sql += ` order by booked_at asc, id asc`
	if q.Limit > 0 { sql += ` limit ` + arg(q.Limit) }

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil { return nil, err }
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	minor, _ := t.Amount.MinorUnits()
	_, err := s.pool.Exec(ctx, `
		insert into transactions (`+txnCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, t.ID, t.UserID, t.AccountID, t.ExternalID, minor, t.Currency(), t.Description, t.Merchant,
		nilIfZero(t.CategoryID), nilIfZero(t.SystemCategoryID), nilIfZero(t.RecurringID), t.BookedAt, t.Pending)
	if err != nil { return ledger.Transaction{}, err }
	return t, nil
}

// UpdateTransaction updates the fields an import merge may touch. Category
// references are preserved as stored.
func (s *Store) UpdateTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	minor, _ := t.Amount.MinorUnits()
	ct, err := s.pool.Exec(ctx, `
		update transactions set amount=$1, description=$2, merchant=$3, pending=$4
		where id=$5 and user_id=$6
	`, minor, t.Description, t.Merchant, t.Pending, t.ID, t.UserID)
	if err != nil { return ledger.Transaction{}, err }
	if ct.RowsAffected() == 0 { return ledger.Transaction{}, errs.ErrNotFound }
	return t, nil
}

// --- recurring definitions ---

const defCols = `id, user_id, name, merchant, amount, currency, category_id, importance, cadence, active`

func scanDefinition(row pgx.Row) (ledger.RecurringDefinition, error) {
	var d ledger.RecurringDefinition
	var currency, cadence string
	var minor int64
	var categoryID *uuid.UUID
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Merchant, &minor, &currency, &categoryID, &d.Importance, &cadence, &d.Active)
	if errors.Is(err, pgx.ErrNoRows) { return ledger.RecurringDefinition{}, errs.ErrNotFound }
	if err != nil { return ledger.RecurringDefinition{}, err }
	if d.Amount, err = amountFrom(currency, minor); err != nil { return ledger.RecurringDefinition{}, err }
	if categoryID != nil { d.CategoryID = *categoryID }
	d.Cadence = ledger.Cadence(cadence)
	return d, nil
}

func (s *Store) Definition(ctx context.Context, userID, definitionID uuid.UUID) (ledger.RecurringDefinition, error) {
	return scanDefinition(s.pool.QueryRow(ctx, `
		select `+defCols+` from recurring_definitions where id = $1 and user_id = $2
	`, definitionID, userID))
}

func (s *Store) DefinitionsByUserID(ctx context.Context, userID uuid.UUID) ([]ledger.RecurringDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		select `+defCols+` from recurring_definitions where user_id = $1 order by name asc
	`, userID)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []ledger.RecurringDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil { return nil, err }
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateDefinition(ctx context.Context, d ledger.RecurringDefinition) (ledger.RecurringDefinition, error) {
	minor, _ := d.Amount.MinorUnits()
	_, err := s.pool.Exec(ctx, `
		insert into recurring_definitions (`+defCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, d.ID, d.UserID, d.Name, d.Merchant, minor, d.Amount.Curr().Code(), nilIfZero(d.CategoryID), d.Importance, string(d.Cadence), d.Active)
	if err != nil { return ledger.RecurringDefinition{}, err }
	return d, nil
}

func (s *Store) UpdateDefinition(ctx context.Context, d ledger.RecurringDefinition) (ledger.RecurringDefinition, error) {
	minor, _ := d.Amount.MinorUnits()
	ct, err := s.pool.Exec(ctx, `
		update recurring_definitions
		set name=$1, merchant=$2, amount=$3, category_id=$4, importance=$5, cadence=$6, active=$7
		where id=$8 and user_id=$9
	`, d.Name, d.Merchant, minor, nilIfZero(d.CategoryID), d.Importance, string(d.Cadence), d.Active, d.ID, d.UserID)
	if err != nil { return ledger.RecurringDefinition{}, err }
	if ct.RowsAffected() == 0 { return ledger.RecurringDefinition{}, errs.ErrNotFound }
	return d, nil
}

func (s *Store) SetTransactionRecurring(ctx context.Context, userID uuid.UUID, transactionIDs []uuid.UUID, recurringID uuid.UUID) (int, error) {
	ct, err := s.pool.Exec(ctx, `
		update transactions set recurring_id = $1
		where user_id = $2 and id = any($3) and (recurring_id is distinct from $1)
	`, recurringID, userID, transactionIDs)
	if err != nil { return 0, err }
	return int(ct.RowsAffected()), nil
}

func (s *Store) ClearTransactionRecurring(ctx context.Context, userID, recurringID uuid.UUID) (int, error) {
	ct, err := s.pool.Exec(ctx, `
		update transactions set recurring_id = null
		where user_id = $1 and recurring_id = $2
	`, userID, recurringID)
	if err != nil { return 0, err }
	return int(ct.RowsAffected()), nil
}

// --- link memberships ---

func (s *Store) Membership(ctx context.Context, transactionID uuid.UUID) (ledger.LinkMembership, bool, error) {
	var m ledger.LinkMembership
	var role string
	err := s.pool.QueryRow(ctx, `
		select transaction_id, group_id, role from link_memberships where transaction_id = $1
	`, transactionID).Scan(&m.TransactionID, &m.GroupID, &role)
	if errors.Is(err, pgx.ErrNoRows) { return ledger.LinkMembership{}, false, nil }
	if err != nil { return ledger.LinkMembership{}, false, err }
	m.Role = ledger.LinkRole(role)
	return m, true, nil
}

func (s *Store) GroupMembers(ctx context.Context, groupID uuid.UUID) ([]ledger.LinkMembership, error) {
	rows, err := s.pool.Query(ctx, `
		select transaction_id, group_id, role from link_memberships where group_id = $1
	`, groupID)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []ledger.LinkMembership
	for rows.Next() {
		var m ledger.LinkMembership
		var role string
		if err := rows.Scan(&m.TransactionID, &m.GroupID, &role); err != nil { return nil, err }
		m.Role = ledger.LinkRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutMemberships writes all rows in one transaction; the primary-key on
// transaction_id turns an already-linked member into a rollback.
func (s *Store) PutMemberships(ctx context.Context, rowsIn []ledger.LinkMembership) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil { return err }
	defer func() { _ = tx.Rollback(ctx) }()
	for _, r := range rowsIn {
		if _, err := tx.Exec(ctx, `
			insert into link_memberships (transaction_id, group_id, role) values ($1,$2,$3)
		`, r.TransactionID, r.GroupID, string(r.Role)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) DeleteMembership(ctx context.Context, transactionID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `delete from link_memberships where transaction_id = $1`, transactionID)
	if err != nil { return err }
	if ct.RowsAffected() == 0 { return errs.ErrNotFound }
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `delete from link_memberships where group_id = $1`, groupID)
	return err
}

// --- balance snapshots ---

func (s *Store) SnapshotOnOrBefore(ctx context.Context, accountID uuid.UUID, asOf time.Time) (ledger.BalanceSnapshot, bool, error) {
	var snap ledger.BalanceSnapshot
	var minor int64
	var currency string
	err := s.pool.QueryRow(ctx, `
		select account_id, as_of, balance, currency from balance_snapshots
		where account_id = $1 and as_of <= $2
		order by as_of desc limit 1
	`, accountID, asOf).Scan(&snap.AccountID, &snap.AsOf, &minor, &currency)
	if errors.Is(err, pgx.ErrNoRows) { return ledger.BalanceSnapshot{}, false, nil }
	if err != nil { return ledger.BalanceSnapshot{}, false, err }
	if snap.Balance, err = amountFrom(currency, minor); err != nil { return ledger.BalanceSnapshot{}, false, err }
	return snap, true, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, snap ledger.BalanceSnapshot) error {
	minor, _ := snap.Balance.MinorUnits()
	_, err := s.pool.Exec(ctx, `
		insert into balance_snapshots (account_id, as_of, balance, currency)
		values ($1,$2,$3,$4)
		on conflict (account_id, as_of) do update set balance = excluded.balance
	`, snap.AccountID, snap.AsOf, minor, snap.Balance.Curr().Code())
	return err
}

func (s *Store) InvalidateSnapshots(ctx context.Context, accountID uuid.UUID, from time.Time) error {
	_, err := s.pool.Exec(ctx, `
		delete from balance_snapshots where account_id = $1 and as_of >= $2
	`, accountID, from)
	return err
}

func nilIfZero(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil { return nil }
	return &id
}

