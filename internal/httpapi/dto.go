package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/reconcile/internal/ledger"
	"github.com/tinoosan/reconcile/internal/service/importer"
	"github.com/tinoosan/reconcile/internal/service/link"
	"github.com/tinoosan/reconcile/internal/service/recurring"
)

type transactionResponse struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	ExternalID  string    `json:"external_id,omitempty"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	Merchant    string    `json:"merchant,omitempty"`
	RecurringID uuid.UUID `json:"recurring_id,omitempty"`
	BookedAt    time.Time `json:"booked_at"`
	Pending     bool      `json:"pending"`
}

func toTransactionResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		AccountID:   t.AccountID,
		ExternalID:  t.ExternalID,
		AmountMinor: t.AmountMinor(),
		Currency:    t.Currency(),
		Description: t.Description,
		Merchant:    t.Merchant,
		RecurringID: t.RecurringID,
		BookedAt:    t.BookedAt,
		Pending:     t.Pending,
	}
}

func toTransactionResponses(ts []ledger.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

type accountResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Institution  string    `json:"institution,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	Active       bool      `json:"active"`
}

func toAccountResponse(a ledger.Account) accountResponse {
	minor, _ := a.Balance.MinorUnits()
	return accountResponse{
		ID:           a.ID,
		Name:         a.Name,
		Institution:  a.Institution,
		Provider:     a.Provider,
		Currency:     a.Currency,
		BalanceMinor: minor,
		Active:       a.Active,
	}
}

type definitionResponse struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Merchant    string         `json:"merchant,omitempty"`
	AmountMinor int64          `json:"amount_minor"`
	Currency    string         `json:"currency"`
	Importance  int            `json:"importance"`
	Cadence     ledger.Cadence `json:"cadence"`
	Active      bool           `json:"active"`
}

func toDefinitionResponse(d ledger.RecurringDefinition) definitionResponse {
	return definitionResponse{
		ID:          d.ID,
		Name:        d.Name,
		Merchant:    d.Merchant,
		AmountMinor: d.AmountMinor(),
		Currency:    d.Amount.Curr().Code(),
		Importance:  d.Importance,
		Cadence:     d.Cadence,
		Active:      d.Active,
	}
}

// Recurring

type detectRequest struct {
	UserID        uuid.UUID `json:"user_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

type detectionResponse struct {
	OK          bool                  `json:"ok"`
	Reason      string                `json:"reason,omitempty"`
	Name        string                `json:"name,omitempty"`
	Merchant    string                `json:"merchant,omitempty"`
	Cadence     ledger.Cadence        `json:"cadence,omitempty"`
	Confidence  int                   `json:"confidence"`
	Band        string                `json:"band"`
	AmountMinor int64                 `json:"amount_minor,omitempty"`
	Currency    string                `json:"currency,omitempty"`
	Matches     []transactionResponse `json:"matches,omitempty"`
}

func toDetectionResponse(d recurring.Detection) detectionResponse {
	return detectionResponse{
		OK:          d.OK,
		Reason:      d.Reason,
		Name:        d.Name,
		Merchant:    d.Merchant,
		Cadence:     d.Cadence,
		Confidence:  d.Confidence,
		Band:        string(d.Band),
		AmountMinor: d.AmountMinor,
		Currency:    d.Currency,
		Matches:     toTransactionResponses(d.Matches),
	}
}

type postDefinitionRequest struct {
	UserID      uuid.UUID      `json:"user_id"`
	Name        string         `json:"name"`
	Merchant    string         `json:"merchant"`
	AmountMinor int64          `json:"amount_minor"`
	Currency    string         `json:"currency"`
	CategoryID  uuid.UUID      `json:"category_id"`
	Importance  int            `json:"importance"`
	Cadence     ledger.Cadence `json:"cadence"`
}

type acceptDetectionResponse struct {
	Definition definitionResponse `json:"definition"`
	Linked     int                `json:"linked"`
}

type matchRequest struct {
	UserID                uuid.UUID `json:"user_id"`
	DescriptionSimilarity float64   `json:"description_similarity"`
	AmountTolerance       float64   `json:"amount_tolerance"`
	Apply                 bool      `json:"apply"`
}

type matchResponse struct {
	Definition definitionResponse    `json:"definition"`
	Matches    []transactionResponse `json:"matches"`
	Applied    int                   `json:"applied"`
}

func toMatchResponse(r recurring.MatchResult) matchResponse {
	return matchResponse{
		Definition: toDefinitionResponse(r.Definition),
		Matches:    toTransactionResponses(r.Matches),
		Applied:    r.Applied,
	}
}

// Links

type postGroupRequest struct {
	UserID         uuid.UUID       `json:"user_id"`
	PrimaryID      uuid.UUID       `json:"primary_id"`
	TransactionIDs []uuid.UUID     `json:"transaction_ids"`
	Role           ledger.LinkRole `json:"role"`
}

type bulkLinkRequest struct {
	UserID         uuid.UUID   `json:"user_id"`
	TransactionIDs []uuid.UUID `json:"transaction_ids"`
}

type postMemberRequest struct {
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Role          ledger.LinkRole `json:"role"`
}

type groupResponse struct {
	GroupID  uuid.UUID             `json:"group_id"`
	Primary  transactionResponse   `json:"primary"`
	Others   []transactionResponse `json:"others"`
	NetMinor int64                 `json:"net_minor"`
	Currency string                `json:"currency"`
}

func toGroupResponse(v link.GroupView) groupResponse {
	return groupResponse{
		GroupID:  v.GroupID,
		Primary:  toTransactionResponse(v.Primary),
		Others:   toTransactionResponses(v.Others),
		NetMinor: v.NetMinor,
		Currency: v.Currency,
	}
}

// Imports

type importRequest struct {
	UserID  uuid.UUID            `json:"user_id"`
	Account importer.AccountHint `json:"account"`
	Mapping importColumnMapping  `json:"mapping"`
	Headers []string             `json:"headers"`
	Rows    [][]string           `json:"rows"`
}

type importColumnMapping struct {
	Date            string `json:"date"`
	Amount          string `json:"amount"`
	Description     string `json:"description"`
	Merchant        string `json:"merchant"`
	Type            string `json:"type"`
	Fee             string `json:"fee"`
	ExternalID      string `json:"external_id"`
	StartingBalance string `json:"starting_balance"`
	EndingBalance   string `json:"ending_balance"`
	Pending         string `json:"pending"`
	DateFormat      string `json:"date_format"`
	DecimalComma    bool   `json:"decimal_comma"`
	AmountSigned    bool   `json:"amount_signed"`
	DebitValue      string `json:"debit_value"`
}

func (m importColumnMapping) toMapping() importer.ColumnMapping {
	return importer.ColumnMapping{
		Date:            m.Date,
		Amount:          m.Amount,
		Description:     m.Description,
		Merchant:        m.Merchant,
		Type:            m.Type,
		Fee:             m.Fee,
		ExternalID:      m.ExternalID,
		StartingBalance: m.StartingBalance,
		EndingBalance:   m.EndingBalance,
		Pending:         m.Pending,
		DateFormat:      m.DateFormat,
		DecimalComma:    m.DecimalComma,
		AmountSigned:    m.AmountSigned,
		DebitValue:      m.DebitValue,
	}
}

type importResponse struct {
	AccountsSynced int    `json:"accounts_synced"`
	Created        int    `json:"transactions_created"`
	Updated        int    `json:"transactions_updated"`
	Rejected       int    `json:"rejected_rows"`
	Message        string `json:"message"`
}
