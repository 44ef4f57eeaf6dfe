package recurring

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

// MatchOptions tunes a single matching run against a definition.
type MatchOptions struct {
	// DescriptionSimilarity is the minimum description similarity in [0,1]
	// for the fallback term. Zero means the default 0.6.
	DescriptionSimilarity float64
	// AmountTolerance is the relative amount tolerance in [0,1]. Zero means
	// the default 0.05.
	AmountTolerance float64
	// Apply links the matched transactions to the definition instead of just
	// reporting them.
	Apply bool
}

// MatchResult reports a matching run. Applied is the number of persisted
// links, zero on a dry run.
type MatchResult struct {
	Definition ledger.RecurringDefinition
	Matches    []ledger.Transaction
	Applied    int
}

// Match scores unlinked expense transactions against an active definition.
// Already-linked transactions are never candidates, so re-running with Apply
// is idempotent.
func (s *service) Match(ctx context.Context, userID, definitionID uuid.UUID, opts MatchOptions) (MatchResult, error) {
	if userID == uuid.Nil || definitionID == uuid.Nil {
		return MatchResult{}, errs.ErrInvalid
	}
	if opts.DescriptionSimilarity < 0 || opts.DescriptionSimilarity > 1 {
		return MatchResult{}, fmt.Errorf("%w: description similarity must be between 0 and 1", errs.ErrInvalid)
	}
	if opts.AmountTolerance < 0 || opts.AmountTolerance > 1 {
		return MatchResult{}, fmt.Errorf("%w: amount tolerance must be between 0 and 1", errs.ErrInvalid)
	}
	if opts.DescriptionSimilarity == 0 {
		opts.DescriptionSimilarity = 0.6
	}
	if opts.AmountTolerance == 0 {
		opts.AmountTolerance = s.cfg.Weights.AmountTolerance
	}

	def, err := s.repo.Definition(ctx, userID, definitionID)
	if err != nil {
		return MatchResult{}, err
	}
	if def.UserID != userID {
		return MatchResult{}, errs.ErrForbidden
	}
	if !def.Active {
		return MatchResult{}, fmt.Errorf("%w: definition is inactive", errs.ErrUnprocessable)
	}

	candidates, err := s.repo.Transactions(ctx, ledger.TransactionQuery{
		UserID:            userID,
		Currency:          def.Amount.Curr().Code(),
		UnlinkedRecurring: true,
		ExpensesOnly:      true,
		Limit:             s.cfg.CandidateCap,
	})
	if err != nil {
		return MatchResult{}, err
	}

	weights := s.cfg.Weights
	weights.DescriptionMin = int(math.Round(opts.DescriptionSimilarity * 100))
	weights.AmountTolerance = opts.AmountTolerance

	target := TargetFromDefinition(def)
	var matches []ledger.Transaction
	for _, c := range candidates {
		score := MatchScore(weights, target, c)
		if target.AmountMinor-abs64(c.AmountMinor()) == 0 {
			score += weights.ExactAmountBonus
		}
		if score > 100 {
			score = 100
		}
		if score >= weights.Threshold {
			matches = append(matches, c)
		}
	}

	result := MatchResult{Definition: def, Matches: matches}
	if !opts.Apply || len(matches) == 0 {
		return result, nil
	}
	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	applied, err := s.writer.SetTransactionRecurring(ctx, userID, ids, def.ID)
	if err != nil {
		return result, err
	}
	result.Applied = applied
	return result, nil
}
