// Package importer maps heterogeneous tabular bank exports onto canonical
// transactions through a caller-supplied column mapping and merges them into
// the ledger without creating duplicates.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

// ColumnMapping binds semantic fields to source column headers. Date, Amount
// and Description are required; everything else is optional.
type ColumnMapping struct {
	Date        string
	Amount      string
	Description string
	Merchant    string
	// Type names the column distinguishing debits from credits when the
	// amount column is unsigned.
	Type string
	// Fee names a column whose absolute value is subtracted from the amount.
	Fee        string
	ExternalID string
	// StartingBalance seeds a newly created account's opening balance.
	StartingBalance string
	// EndingBalance, when mapped, is checked against the recomputed balance
	// after the merge; a mismatch is reported in the result message.
	EndingBalance string
	Pending       string

	// DateFormat is a Go reference layout; empty means "2006-01-02".
	DateFormat string
	// DecimalComma treats "," as the decimal separator and "." as grouping.
	DecimalComma bool
	// AmountSigned means the amount column already carries the debit sign and
	// the Type column is ignored.
	AmountSigned bool
	// DebitValue is the Type column value marking a debit (case-insensitive).
	DebitValue string
}

// Feed is one tabular export: a header row plus data rows.
type Feed struct {
	Headers []string
	Rows    [][]string
}

// AccountHint carries feed-derived account metadata, used to resolve the
// target account or create it on first import.
type AccountHint struct {
	Name        string
	Institution string
	Provider    string
	ExternalID  string
	Currency    string
}

// Request is one import run.
type Request struct {
	UserID  uuid.UUID
	Account AccountHint
	Mapping ColumnMapping
	Feed    Feed
}

// Result reports an import run. Counts always match what was persisted.
type Result struct {
	AccountsSynced int
	Created        int
	Updated        int
	Rejected       int
	Message        string
}

// Repo defines read operations needed by the service.
type Repo interface {
	AccountByExternalID(ctx context.Context, userID uuid.UUID, provider, externalID string) (ledger.Account, bool, error)
	TransactionByExternalID(ctx context.Context, accountID uuid.UUID, externalID string) (ledger.Transaction, bool, error)
	Transactions(ctx context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, error)
}

// Writer defines write operations needed by the service.
type Writer interface {
	CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	CreateTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error)
	UpdateTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error)
	// InvalidateSnapshots drops memoized balances at or after from, since the
	// merged rows make them stale.
	InvalidateSnapshots(ctx context.Context, accountID uuid.UUID, from time.Time) error
}

// Service exposes import reconciliation.
type Service interface {
	Import(ctx context.Context, req Request) (Result, error)
}

type service struct {
	repo   Repo
	writer Writer
}

// New constructs the importer service.
func New(repo Repo, writer Writer) Service {
	return &service{repo: repo, writer: writer}
}

const defaultDateFormat = "2006-01-02"

// Import parses the feed per the mapping and merges the rows into the ledger,
// deduplicating by (account, external id). A structurally invalid feed fails
// whole with no writes; a row that fails required-field parsing is rejected
// and counted without affecting the rest.
func (s *service) Import(ctx context.Context, req Request) (Result, error) {
	if req.UserID == uuid.Nil {
		return Result{}, errs.ErrInvalid
	}
	cols, err := resolveColumns(req.Mapping, req.Feed)
	if err != nil {
		return Result{}, err
	}
	if req.Account.Currency == "" {
		return Result{}, fmt.Errorf("%w: account currency is required", errs.ErrInvalid)
	}
	if _, err := money.NewAmountFromMinorUnits(req.Account.Currency, 0); err != nil {
		return Result{}, fmt.Errorf("%w: unknown currency %q", errs.ErrInvalid, req.Account.Currency)
	}

	rows := parseRows(req.Mapping, cols, req.Feed.Rows, req.Account.Currency)

	acc, err := s.resolveAccount(ctx, req, rows)
	if err != nil {
		return Result{}, err
	}

	res := Result{AccountsSynced: 1}
	var earliest time.Time
	for _, r := range rows.parsed {
		if earliest.IsZero() || r.bookedAt.Before(earliest) {
			earliest = r.bookedAt
		}
		existing, found, err := s.repo.TransactionByExternalID(ctx, acc.ID, r.externalID)
		if err != nil {
			return res, err
		}
		if found {
			// Mutable fields only. The user-assigned category and the system
			// category are never overwritten by a re-import.
			existing.Amount = r.amount
			existing.Description = r.description
			existing.Merchant = r.merchant
			existing.Pending = r.pending
			if _, err := s.writer.UpdateTransaction(ctx, existing); err != nil {
				return res, err
			}
			res.Updated++
			continue
		}
		_, err = s.writer.CreateTransaction(ctx, ledger.Transaction{
			ID:          uuid.New(),
			UserID:      req.UserID,
			AccountID:   acc.ID,
			ExternalID:  r.externalID,
			Amount:      r.amount,
			Description: r.description,
			Merchant:    r.merchant,
			BookedAt:    r.bookedAt,
			Pending:     r.pending,
		})
		if err != nil {
			return res, err
		}
		res.Created++
	}
	res.Rejected = rows.rejected

	balMinor, err := s.refreshAccount(ctx, req.UserID, acc)
	if err != nil {
		return res, err
	}
	if !earliest.IsZero() {
		if err := s.writer.InvalidateSnapshots(ctx, acc.ID, earliest); err != nil {
			return res, err
		}
	}

	res.Message = fmt.Sprintf("synced 1 account: %d created, %d updated, %d rejected",
		res.Created, res.Updated, res.Rejected)
	if n := len(rows.parsed); n > 0 {
		if want := rows.parsed[n-1].endingBalanceMinor; want != nil && *want != balMinor {
			res.Message += fmt.Sprintf("; ending balance mismatch: feed reports %d, recomputed %d", *want, balMinor)
		}
	}
	return res, nil
}

// columnIndexes holds the resolved position of each mapped column; -1 for
// unmapped optional columns.
type columnIndexes struct {
	date, amount, description      int
	merchant, typ, fee, externalID int
	startingBalance, endingBalance int
	pending                        int
}

func resolveColumns(m ColumnMapping, f Feed) (columnIndexes, error) {
	if len(f.Headers) == 0 || len(f.Rows) == 0 {
		return columnIndexes{}, fmt.Errorf("%w: feed is empty", errs.ErrInvalid)
	}
	if m.Date == "" || m.Amount == "" || m.Description == "" {
		return columnIndexes{}, fmt.Errorf("%w: date, amount and description mappings are required", errs.ErrInvalid)
	}
	idx := func(header string) int {
		if header == "" {
			return -1
		}
		for i, h := range f.Headers {
			if strings.EqualFold(strings.TrimSpace(h), header) {
				return i
			}
		}
		return -1
	}
	cols := columnIndexes{
		date:            idx(m.Date),
		amount:          idx(m.Amount),
		description:     idx(m.Description),
		merchant:        idx(m.Merchant),
		typ:             idx(m.Type),
		fee:             idx(m.Fee),
		externalID:      idx(m.ExternalID),
		startingBalance: idx(m.StartingBalance),
		endingBalance:   idx(m.EndingBalance),
		pending:         idx(m.Pending),
	}
	if cols.date < 0 || cols.amount < 0 || cols.description < 0 {
		return columnIndexes{}, fmt.Errorf("%w: mapped column not present in feed headers", errs.ErrInvalid)
	}
	return cols, nil
}

type parsedRow struct {
	externalID  string
	amount      money.Amount
	description string
	merchant    string
	bookedAt    time.Time
	pending     bool
	// startingBalanceMinor seeds a new account; only the first parsed row's
	// value is used.
	startingBalanceMinor *int64
	// endingBalanceMinor is the provider's running balance; the last parsed
	// row's value is compared against the recomputed balance.
	endingBalanceMinor *int64
}

type parseOutcome struct {
	parsed   []parsedRow
	rejected int
}

func parseRows(m ColumnMapping, cols columnIndexes, rows [][]string, currency string) parseOutcome {
	layout := m.DateFormat
	if layout == "" {
		layout = defaultDateFormat
	}
	var out parseOutcome
	for _, raw := range rows {
		r, ok := parseRow(m, cols, raw, layout, currency)
		if !ok {
			out.rejected++
			continue
		}
		out.parsed = append(out.parsed, r)
	}
	return out
}

func parseRow(m ColumnMapping, cols columnIndexes, raw []string, layout, currency string) (parsedRow, bool) {
	cell := func(i int) string {
		if i < 0 || i >= len(raw) {
			return ""
		}
		return strings.TrimSpace(raw[i])
	}

	dateStr, amountStr, desc := cell(cols.date), cell(cols.amount), cell(cols.description)
	if dateStr == "" || amountStr == "" || desc == "" {
		return parsedRow{}, false
	}
	bookedAt, err := time.Parse(layout, dateStr)
	if err != nil {
		return parsedRow{}, false
	}
	minor, err := parseMinor(amountStr, m.DecimalComma)
	if err != nil {
		return parsedRow{}, false
	}
	if !m.AmountSigned && cols.typ >= 0 {
		minor = abs64(minor)
		if strings.EqualFold(cell(cols.typ), m.DebitValue) {
			minor = -minor
		}
	}
	if feeStr := cell(cols.fee); feeStr != "" {
		if fee, err := parseMinor(feeStr, m.DecimalComma); err == nil {
			minor -= abs64(fee)
		}
	}
	amount, err := money.NewAmountFromMinorUnits(currency, minor)
	if err != nil {
		return parsedRow{}, false
	}

	row := parsedRow{
		amount:      amount,
		description: desc,
		merchant:    cell(cols.merchant),
		bookedAt:    bookedAt,
		pending:     isTruthy(cell(cols.pending)),
	}
	row.externalID = cell(cols.externalID)
	if row.externalID == "" {
		row.externalID = contentHash(bookedAt, minor, desc)
	}
	if sb := cell(cols.startingBalance); sb != "" {
		if v, err := parseMinor(sb, m.DecimalComma); err == nil {
			row.startingBalanceMinor = &v
		}
	}
	if eb := cell(cols.endingBalance); eb != "" {
		if v, err := parseMinor(eb, m.DecimalComma); err == nil {
			row.endingBalanceMinor = &v
		}
	}
	return row, true
}

// parseMinor converts a decimal money string to minor units (two fractional
// digits), tolerating a leading sign and grouping separators.
func parseMinor(s string, decimalComma bool) (int64, error) {
	s = strings.TrimSpace(s)
	if decimalComma {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch {
	case len(frac) == 0:
		frac = "00"
	case len(frac) == 1:
		frac += "0"
	case len(frac) > 2:
		frac = frac[:2]
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	minor := w*100 + f
	if neg {
		minor = -minor
	}
	return minor, nil
}

// contentHash derives a stable external identifier for providers that supply
// none: same date, amount and description always dedup to the same row.
func contentHash(bookedAt time.Time, minor int64, description string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s",
		bookedAt.Format(defaultDateFormat), minor, strings.ToLower(description))))
	return hex.EncodeToString(sum[:])
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "pending":
		return true
	}
	return false
}

// resolveAccount finds the target account by provider identity or creates it
// from feed-derived metadata on first import.
func (s *service) resolveAccount(ctx context.Context, req Request, rows parseOutcome) (ledger.Account, error) {
	acc, found, err := s.repo.AccountByExternalID(ctx, req.UserID, req.Account.Provider, req.Account.ExternalID)
	if err != nil {
		return ledger.Account{}, err
	}
	if found {
		return acc, nil
	}
	var startingMinor int64
	for _, r := range rows.parsed {
		if r.startingBalanceMinor != nil {
			startingMinor = *r.startingBalanceMinor
			break
		}
	}
	starting, err := money.NewAmountFromMinorUnits(req.Account.Currency, startingMinor)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("%w: unknown currency %q", errs.ErrInvalid, req.Account.Currency)
	}
	return s.writer.CreateAccount(ctx, ledger.Account{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Name:            req.Account.Name,
		Institution:     req.Account.Institution,
		Provider:        req.Account.Provider,
		ExternalID:      req.Account.ExternalID,
		Currency:        req.Account.Currency,
		StartingBalance: starting,
		Balance:         starting,
		Active:          true,
	})
}

// refreshAccount recomputes the functional balance as starting balance plus
// the sum of every transaction on the account, returning it in minor units.
func (s *service) refreshAccount(ctx context.Context, userID uuid.UUID, acc ledger.Account) (int64, error) {
	txns, err := s.repo.Transactions(ctx, ledger.TransactionQuery{UserID: userID, AccountID: acc.ID})
	if err != nil {
		return 0, err
	}
	bal := acc.StartingBalance
	for _, t := range txns {
		bal, err = bal.Add(t.Amount)
		if err != nil {
			return 0, err
		}
	}
	acc.Balance = bal
	if _, err = s.writer.UpdateAccount(ctx, acc); err != nil {
		return 0, err
	}
	minor, _ := bal.MinorUnits()
	return minor, nil
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
