package recurring

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/reconcile/internal/errs"
	"github.com/tinoosan/reconcile/internal/ledger"
)

// ConfidenceBand is the display banding of a continuous confidence score.
type ConfidenceBand string

const (
	BandHigh   ConfidenceBand = "high"
	BandMedium ConfidenceBand = "medium"
	BandLow    ConfidenceBand = "low"
)

// bandFor maps a continuous confidence to its display band.
func bandFor(confidence int) ConfidenceBand {
	switch {
	case confidence >= 70:
		return BandHigh
	case confidence >= 40:
		return BandMedium
	default:
		return BandLow
	}
}

// Detection is the result of pattern detection from a seed transaction. When
// OK is false, Reason carries a human-readable explanation; detection never
// errors for well-formed input.
type Detection struct {
	OK          bool
	Reason      string
	Name        string
	Merchant    string
	Cadence     ledger.Cadence
	Confidence  int
	Band        ConfidenceBand
	AmountMinor int64
	Currency    string
	// Matches are the historical transactions judged to be occurrences of the
	// same obligation, ordered by booked date. The seed is not included.
	Matches []ledger.Transaction
}

// cadenceBuckets maps day-gap ranges onto the supported cadences.
var cadenceBuckets = []struct {
	cadence  ledger.Cadence
	min, max int
}{
	{ledger.CadenceWeekly, 5, 9},
	{ledger.CadenceBiweekly, 12, 18},
	{ledger.CadenceMonthly, 26, 35},
	{ledger.CadenceQuarterly, 85, 100},
	{ledger.CadenceYearly, 350, 380},
}

// Detect finds historical siblings of the seed transaction, infers a cadence
// from their day-gap distribution and scores confidence.
func (s *service) Detect(ctx context.Context, userID, seedID uuid.UUID) (Detection, error) {
	if userID == uuid.Nil || seedID == uuid.Nil {
		return Detection{}, errs.ErrInvalid
	}
	seed, err := s.repo.Transaction(ctx, userID, seedID)
	if err != nil {
		return Detection{}, err
	}
	if seed.AmountMinor() >= 0 {
		return Detection{OK: false, Reason: "seed transaction is not an expense", Band: BandLow}, nil
	}

	from := seed.BookedAt.AddDate(0, 0, -s.cfg.LookbackDays)
	candidates, err := s.repo.Transactions(ctx, ledger.TransactionQuery{
		UserID:       userID,
		Currency:     seed.Currency(),
		From:         &from,
		ExpensesOnly: true,
		Limit:        s.cfg.CandidateCap,
	})
	if err != nil {
		return Detection{}, err
	}

	target := TargetFromSeed(seed)
	var matches []ledger.Transaction
	scoreSum := 0
	for _, c := range candidates {
		if c.ID == seed.ID {
			continue
		}
		if score := MatchScore(s.cfg.Weights, target, c); score >= s.cfg.Weights.Threshold {
			matches = append(matches, c)
			scoreSum += score
		}
	}
	if len(matches) == 0 {
		return Detection{OK: false, Reason: "no transactions matched the seed above the score threshold", Band: BandLow}, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].BookedAt.Before(matches[j].BookedAt) })

	// Cadence comes from the gaps between consecutive occurrences, seed included.
	dates := make([]time.Time, 0, len(matches)+1)
	for _, m := range matches {
		dates = append(dates, m.BookedAt)
	}
	dates = append(dates, seed.BookedAt)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	cadence, defaulted := inferCadence(dates)

	confidence := confidenceFor(scoreSum/len(matches), len(matches), dates, defaulted)

	return Detection{
		OK:          true,
		Name:        suggestedName(seed),
		Merchant:    seed.Merchant,
		Cadence:     cadence,
		Confidence:  confidence,
		Band:        bandFor(confidence),
		AmountMinor: abs64(seed.AmountMinor()),
		Currency:    seed.Currency(),
		Matches:     matches,
	}, nil
}

// inferCadence buckets the day gaps between consecutive occurrences against
// the supported cadences. Ties or fewer than two gaps default to monthly with
// lowered confidence (reported via the second return).
func inferCadence(dates []time.Time) (ledger.Cadence, bool) {
	gaps := dayGaps(dates)
	if len(gaps) < 2 {
		return ledger.CadenceMonthly, true
	}
	votes := make(map[ledger.Cadence]int, len(cadenceBuckets))
	for _, g := range gaps {
		for _, b := range cadenceBuckets {
			if g >= b.min && g <= b.max {
				votes[b.cadence]++
				break
			}
		}
	}
	best := ledger.Cadence("")
	bestVotes, tied := 0, false
	for _, b := range cadenceBuckets {
		switch v := votes[b.cadence]; {
		case v > bestVotes:
			best, bestVotes, tied = b.cadence, v, false
		case v == bestVotes && v > 0:
			tied = true
		}
	}
	if bestVotes == 0 || tied {
		return ledger.CadenceMonthly, true
	}
	return best, false
}

func dayGaps(dates []time.Time) []int {
	var gaps []int
	for i := 1; i < len(dates); i++ {
		days := int(dates[i].Sub(dates[i-1]).Hours() / 24)
		if days > 0 {
			gaps = append(gaps, days)
		}
	}
	return gaps
}

// confidenceFor blends the average match score, the occurrence count and the
// regularity of the gap distribution into one continuous 0-100 value.
func confidenceFor(avgScore, matchCount int, dates []time.Time, cadenceDefaulted bool) int {
	c := float64(avgScore) * 0.5

	countBonus := float64(matchCount * 5)
	if countBonus > 25 {
		countBonus = 25
	}
	c += countBonus

	if gaps := dayGaps(dates); len(gaps) >= 2 {
		mean := 0.0
		for _, g := range gaps {
			mean += float64(g)
		}
		mean /= float64(len(gaps))
		variance := 0.0
		for _, g := range gaps {
			d := float64(g) - mean
			variance += d * d
		}
		variance /= float64(len(gaps))
		if mean > 0 {
			cv := math.Sqrt(variance) / mean
			consistency := 1 - cv/0.7
			if consistency < 0 {
				consistency = 0
			}
			c += consistency * 25
		}
	}

	if cadenceDefaulted {
		c *= 0.6
	}
	if c > 100 {
		c = 100
	}
	if c < 0 {
		c = 0
	}
	return int(math.Round(c))
}

func suggestedName(seed ledger.Transaction) string {
	if seed.Merchant != "" {
		return seed.Merchant
	}
	return seed.Description
}
