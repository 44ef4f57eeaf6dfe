package recurring

import (
	"github.com/google/uuid"

	"github.com/tinoosan/reconcile/internal/ledger"
	"github.com/tinoosan/reconcile/internal/textmatch"
)

// ScoreWeights names every weight and threshold of the match score so callers
// can tune them instead of scattering literals through call sites.
type ScoreWeights struct {
	// MerchantExact is granted when both sides have a merchant and the
	// similarity is 100.
	MerchantExact int
	// MerchantClose is granted when merchant similarity is at least
	// MerchantCloseMin (but not exact).
	MerchantClose    int
	MerchantCloseMin int
	// AmountExact is granted when absolute amounts are identical.
	AmountExact int
	// AmountNear is granted when the absolute difference is within
	// AmountTolerance of the target amount.
	AmountNear      int
	AmountTolerance float64
	// Category is granted when the candidate's user or system category
	// equals the target category.
	Category int
	// DescriptionFallback is granted only when neither side has a merchant
	// and target-name vs candidate-description similarity reaches
	// DescriptionMin.
	DescriptionFallback int
	DescriptionMin      int
	// ExactAmountBonus is added on top by the ongoing matcher when the
	// amount matches to the minor unit; the total is capped at 100.
	ExactAmountBonus int
	// Threshold is the minimum total for a candidate to count as a match.
	Threshold int
}

// DefaultWeights returns the tuned production weights.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		MerchantExact:       50,
		MerchantClose:       30,
		MerchantCloseMin:    80,
		AmountExact:         30,
		AmountNear:          20,
		AmountTolerance:     0.05,
		Category:            10,
		DescriptionFallback: 20,
		DescriptionMin:      70,
		ExactAmountBonus:    10,
		Threshold:           50,
	}
}

// Target is the thing a candidate transaction is scored against: either an
// established recurring definition or a detection seed acting as one.
type Target struct {
	Name        string
	Merchant    string
	AmountMinor int64 // absolute expected amount in minor units
	CategoryID  uuid.UUID
}

// TargetFromDefinition adapts a recurring definition for scoring.
func TargetFromDefinition(d ledger.RecurringDefinition) Target {
	return Target{
		Name:        d.Name,
		Merchant:    d.Merchant,
		AmountMinor: abs64(d.AmountMinor()),
		CategoryID:  d.CategoryID,
	}
}

// TargetFromSeed adapts a seed transaction for scoring during detection.
func TargetFromSeed(t ledger.Transaction) Target {
	name := t.Merchant
	if name == "" {
		name = t.Description
	}
	cat := t.CategoryID
	if cat == uuid.Nil {
		cat = t.SystemCategoryID
	}
	return Target{
		Name:        name,
		Merchant:    t.Merchant,
		AmountMinor: abs64(t.AmountMinor()),
		CategoryID:  cat,
	}
}

// MatchScore computes the weighted match score between a target and a
// candidate transaction. It is the single scoring function shared by pattern
// detection and ongoing matching.
func MatchScore(w ScoreWeights, target Target, txn ledger.Transaction) int {
	score := 0

	// Merchant term.
	if target.Merchant != "" && txn.Merchant != "" {
		switch sim := textmatch.Similarity(target.Merchant, txn.Merchant); {
		case sim == 100:
			score += w.MerchantExact
		case sim >= w.MerchantCloseMin:
			score += w.MerchantClose
		}
	}

	// Amount term against absolute values.
	diff := abs64(target.AmountMinor - abs64(txn.AmountMinor()))
	switch {
	case diff == 0:
		score += w.AmountExact
	case float64(diff) <= w.AmountTolerance*float64(target.AmountMinor):
		score += w.AmountNear
	}

	// Category term: either the user-assigned or system category counts.
	if target.CategoryID != uuid.Nil &&
		(txn.CategoryID == target.CategoryID || txn.SystemCategoryID == target.CategoryID) {
		score += w.Category
	}

	// Description fallback only when no merchant exists on either side.
	if target.Merchant == "" && txn.Merchant == "" {
		if textmatch.Similarity(target.Name, txn.Description) >= w.DescriptionMin {
			score += w.DescriptionFallback
		}
	}

	return score
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
