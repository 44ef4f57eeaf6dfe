// Package recurring implements recurring-obligation handling: detecting a
// pattern from a seed transaction, matching new transactions against an
// established definition, and the definition lifecycle (create, accept a
// detection proposal, soft deactivate).
package recurring

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

// Repo defines read operations needed by the service.
type Repo interface {
	Transaction(ctx context.Context, userID, transactionID uuid.UUID) (ledger.Transaction, error)
	Transactions(ctx context.Context, q ledger.TransactionQuery) ([]ledger.Transaction, error)
	Definition(ctx context.Context, userID, definitionID uuid.UUID) (ledger.RecurringDefinition, error)
	DefinitionsByUserID(ctx context.Context, userID uuid.UUID) ([]ledger.RecurringDefinition, error)
}

// Writer defines write operations needed by the service.
type Writer interface {
	CreateDefinition(ctx context.Context, d ledger.RecurringDefinition) (ledger.RecurringDefinition, error)
	UpdateDefinition(ctx context.Context, d ledger.RecurringDefinition) (ledger.RecurringDefinition, error)
	// SetTransactionRecurring links the given transactions to a definition and
	// reports how many rows actually changed.
	SetTransactionRecurring(ctx context.Context, userID uuid.UUID, transactionIDs []uuid.UUID, recurringID uuid.UUID) (int, error)
	// ClearTransactionRecurring clears the recurring reference on every
	// transaction linked to the definition ("on delete: set null").
	ClearTransactionRecurring(ctx context.Context, userID, recurringID uuid.UUID) (int, error)
}

// Service exposes detection, matching and the definition lifecycle.
type Service interface {
	Detect(ctx context.Context, userID, seedID uuid.UUID) (Detection, error)
	Match(ctx context.Context, userID, definitionID uuid.UUID, opts MatchOptions) (MatchResult, error)
	CreateDefinition(ctx context.Context, d ledger.RecurringDefinition) (ledger.RecurringDefinition, error)
	AcceptDetection(ctx context.Context, userID, seedID uuid.UUID) (ledger.RecurringDefinition, int, error)
	ListDefinitions(ctx context.Context, userID uuid.UUID) ([]ledger.RecurringDefinition, error)
	Deactivate(ctx context.Context, userID, definitionID uuid.UUID) (int, error)
}

// Config bundles the tunables of detection and matching.
type Config struct {
	Weights ScoreWeights
	// LookbackDays bounds the candidate window behind the seed.
	LookbackDays int
	// CandidateCap bounds a single scan so invocation cost stays predictable.
	CandidateCap int
}

// DefaultConfig returns the production defaults: a 12-month lookback and a
// 500-row candidate cap.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), LookbackDays: 365, CandidateCap: 500}
}

type service struct {
	repo   Repo
	writer Writer
	cfg    Config
}

// New constructs the recurring service.
func New(repo Repo, writer Writer, cfg Config) Service {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultConfig().LookbackDays
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = DefaultConfig().CandidateCap
	}
	if cfg.Weights.Threshold == 0 {
		cfg.Weights = DefaultWeights()
	}
	return &service{repo: repo, writer: writer, cfg: cfg}
}

const defaultImportance = 3

func (s *service) CreateDefinition(ctx context.Context, d ledger.RecurringDefinition) (ledger.RecurringDefinition, error) {
	if d.UserID == uuid.Nil {
		return ledger.RecurringDefinition{}, errs.ErrInvalid
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return ledger.RecurringDefinition{}, fmt.Errorf("%w: name is required", errs.ErrInvalid)
	}
	if d.AmountMinor() <= 0 {
		return ledger.RecurringDefinition{}, fmt.Errorf("%w: amount must be > 0", errs.ErrInvalid)
	}
	if d.Importance == 0 {
		d.Importance = defaultImportance
	}
	if d.Importance < 1 || d.Importance > 5 {
		return ledger.RecurringDefinition{}, fmt.Errorf("%w: importance must be between 1 and 5", errs.ErrInvalid)
	}
	if !d.Cadence.Valid() {
		return ledger.RecurringDefinition{}, fmt.Errorf("%w: unsupported cadence %q", errs.ErrInvalid, d.Cadence)
	}
	existing, err := s.repo.DefinitionsByUserID(ctx, d.UserID)
	if err != nil {
		return ledger.RecurringDefinition{}, err
	}
	for _, other := range existing {
		if other.Active && strings.EqualFold(other.Name, d.Name) {
			return ledger.RecurringDefinition{}, fmt.Errorf("%w: definition %q already exists", errs.ErrConflict, d.Name)
		}
	}
	d.ID = uuid.New()
	d.Active = true
	return s.writer.CreateDefinition(ctx, d)
}

// AcceptDetection runs detection for the seed and, on success, creates the
// proposed definition and links the matched transactions (seed included) in
// one operation. It returns the definition and the number of linked rows.
func (s *service) AcceptDetection(ctx context.Context, userID, seedID uuid.UUID) (ledger.RecurringDefinition, int, error) {
	det, err := s.Detect(ctx, userID, seedID)
	if err != nil {
		return ledger.RecurringDefinition{}, 0, err
	}
	if !det.OK {
		return ledger.RecurringDefinition{}, 0, fmt.Errorf("%w: %s", errs.ErrUnprocessable, det.Reason)
	}
	amount, err := amountFromMinor(det.Currency, det.AmountMinor)
	if err != nil {
		return ledger.RecurringDefinition{}, 0, err
	}
	def, err := s.CreateDefinition(ctx, ledger.RecurringDefinition{
		UserID:   userID,
		Name:     det.Name,
		Merchant: det.Merchant,
		Amount:   amount,
		Cadence:  det.Cadence,
	})
	if err != nil {
		return ledger.RecurringDefinition{}, 0, err
	}
	ids := make([]uuid.UUID, 0, len(det.Matches)+1)
	ids = append(ids, seedID)
	for _, m := range det.Matches {
		ids = append(ids, m.ID)
	}
	linked, err := s.writer.SetTransactionRecurring(ctx, userID, ids, def.ID)
	if err != nil {
		return def, linked, err
	}
	return def, linked, nil
}

func (s *service) ListDefinitions(ctx context.Context, userID uuid.UUID) ([]ledger.RecurringDefinition, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	all, err := s.repo.DefinitionsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.RecurringDefinition, 0, len(all))
	for _, d := range all {
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

// Deactivate soft-deletes a definition and clears the recurring reference on
// its transactions. Linked transactions themselves are never deleted.
func (s *service) Deactivate(ctx context.Context, userID, definitionID uuid.UUID) (int, error) {
	if userID == uuid.Nil || definitionID == uuid.Nil {
		return 0, errs.ErrInvalid
	}
	def, err := s.repo.Definition(ctx, userID, definitionID)
	if err != nil {
		return 0, err
	}
	if def.UserID != userID {
		return 0, errs.ErrForbidden
	}
	if !def.Active {
		return 0, nil
	}
	def.Active = false
	if _, err := s.writer.UpdateDefinition(ctx, def); err != nil {
		return 0, err
	}
	return s.writer.ClearTransactionRecurring(ctx, userID, definitionID)
}

func amountFromMinor(currency string, minor int64) (money.Amount, error) {
	a, err := money.NewAmountFromMinorUnits(currency, minor)
	if err != nil {
		return money.Amount{}, fmt.Errorf("%w: bad currency %q", errs.ErrInvalid, currency)
	}
	return a, nil
}
