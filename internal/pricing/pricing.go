// Package pricing implements the deterministic fixed-point math for
// combination wagers: fair multiplier, edge, payout, and early-cashout
// valuation.
//
// Every function is pure and must produce bit-identical results wherever it
// is re-implemented. Probabilities are parts-per-million (1,000,000 =
// certainty), rates are basis points (10,000 = 100%), multipliers are
// six-decimal fixed point (1,000,000 = 1.0x), and money is six-decimal
// micro-units. Every division truncates toward zero, and the multiplier is
// built leg by leg with truncation after each step; the per-step order is
// part of the contract, not an implementation detail. Intermediate products
// go through math/big so long-shot parlays cannot silently overflow int64.
package pricing

import (
	"errors"
	"math"
	"math/big"
)

const (
	// ProbScale is the PPM probability scale.
	ProbScale int64 = 1_000_000

	// MultScale is the fixed-point multiplier scale (1.0x).
	MultScale int64 = 1_000_000

	// BpsScale is the basis-point scale (100%).
	BpsScale int64 = 10_000
)

var (
	// ErrNoLegs is returned when a multiplier is requested for zero legs.
	ErrNoLegs = errors.New("pricing: at least one leg probability required")

	// ErrProbabilityRange is returned for a probability outside (0, 1e6].
	ErrProbabilityRange = errors.New("pricing: probability must be in (0, 1000000]")

	// ErrEdgeRange is returned for an edge outside [0, 10000] bps.
	ErrEdgeRange = errors.New("pricing: edge must be in [0, 10000] bps")

	// ErrPenaltyRange is returned when a cashout penalty exceeds 100%.
	ErrPenaltyRange = errors.New("pricing: penalty exceeds 10000 bps")

	// ErrNoWonLegs is returned when a cashout is valued with no won legs.
	ErrNoWonLegs = errors.New("pricing: cashout requires at least one won leg")

	// ErrNoUnresolvedLegs is returned when a cashout is valued with nothing
	// left unresolved.
	ErrNoUnresolvedLegs = errors.New("pricing: cashout requires at least one unresolved leg")

	// ErrNegativeInput is returned for negative stakes, multipliers, or rates.
	ErrNegativeInput = errors.New("pricing: negative input")

	// ErrOverflow is returned when a result does not fit int64.
	ErrOverflow = errors.New("pricing: result out of int64 range")
)

var maxInt64 = big.NewInt(math.MaxInt64)

// mulDiv computes a*b/den with a full-width intermediate product, truncating
// toward zero. den must be positive and a, b non-negative.
func mulDiv(a, b, den int64) (int64, error) {
	p := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	p.Quo(p, big.NewInt(den))
	if p.Cmp(maxInt64) > 0 {
		return 0, ErrOverflow
	}
	return p.Int64(), nil
}

// Multiplier computes the combined fair multiplier for a set of leg
// probabilities: starting from 1.0, each leg multiplies by 1e6/p with
// truncation after every step. Rejects empty input and any probability
// outside (0, 1e6].
func Multiplier(probs []int64) (int64, error) {
	if len(probs) == 0 {
		return 0, ErrNoLegs
	}
	acc := MultScale
	for _, p := range probs {
		if p <= 0 || p > ProbScale {
			return 0, ErrProbabilityRange
		}
		next, err := mulDiv(acc, ProbScale, p)
		if err != nil {
			return 0, err
		}
		acc = next
	}
	return acc, nil
}

// EdgeBps returns the total protocol edge for a ticket:
// baseBps + numLegs*perLegBps.
func EdgeBps(numLegs int, baseBps, perLegBps int64) (int64, error) {
	if numLegs <= 0 {
		return 0, ErrNoLegs
	}
	if baseBps < 0 || perLegBps < 0 {
		return 0, ErrNegativeInput
	}
	edge := baseBps + int64(numLegs)*perLegBps
	if edge > BpsScale {
		return 0, ErrEdgeRange
	}
	return edge, nil
}

// ApplyEdge discounts a fair multiplier by an edge:
// fair*(10000-edgeBps)/10000, truncated.
func ApplyEdge(fair, edgeBps int64) (int64, error) {
	if fair < 0 {
		return 0, ErrNegativeInput
	}
	if edgeBps < 0 || edgeBps > BpsScale {
		return 0, ErrEdgeRange
	}
	return mulDiv(fair, BpsScale-edgeBps, BpsScale)
}

// Payout converts a stake and multiplier to a payout: stake*mult/1e6,
// truncated.
func Payout(stake, mult int64) (int64, error) {
	if stake < 0 || mult < 0 {
		return 0, ErrNegativeInput
	}
	return mulDiv(stake, mult, MultScale)
}

// Fee returns the purchase fee taken off the stake: stake*edgeBps/10000,
// truncated.
func Fee(stake, edgeBps int64) (int64, error) {
	if stake < 0 {
		return 0, ErrNegativeInput
	}
	if edgeBps < 0 || edgeBps > BpsScale {
		return 0, ErrEdgeRange
	}
	return mulDiv(stake, edgeBps, BpsScale)
}

// CashoutValue prices a voluntary early exit. The fair value is the payout
// on the already-won legs alone, which already equals the conditional
// expected value, so no further discount by unresolved-leg probability is
// applied. The penalty scales linearly with the unresolved fraction of the
// ticket: basePenaltyBps*unresolvedCount/totalLegs, truncated. The result
// is capped at payoutCap.
func CashoutValue(effectiveStake int64, wonProbs []int64, unresolvedCount int, basePenaltyBps int64, totalLegs int, payoutCap int64) (int64, error) {
	if len(wonProbs) == 0 {
		return 0, ErrNoWonLegs
	}
	if unresolvedCount < 1 {
		return 0, ErrNoUnresolvedLegs
	}
	if effectiveStake < 0 || basePenaltyBps < 0 || payoutCap < 0 {
		return 0, ErrNegativeInput
	}
	if totalLegs < len(wonProbs)+unresolvedCount {
		return 0, ErrNoLegs
	}

	mult, err := Multiplier(wonProbs)
	if err != nil {
		return 0, err
	}
	fairValue, err := Payout(effectiveStake, mult)
	if err != nil {
		return 0, err
	}

	penaltyBps := basePenaltyBps * int64(unresolvedCount) / int64(totalLegs)
	if penaltyBps > BpsScale {
		return 0, ErrPenaltyRange
	}

	value, err := mulDiv(fairValue, BpsScale-penaltyBps, BpsScale)
	if err != nil {
		return 0, err
	}
	if value > payoutCap {
		value = payoutCap
	}
	return value, nil
}

// PenaltyBps exposes the cashout penalty computation on its own so callers
// can quote it without pricing a full exit.
func PenaltyBps(basePenaltyBps int64, unresolvedCount, totalLegs int) (int64, error) {
	if basePenaltyBps < 0 {
		return 0, ErrNegativeInput
	}
	if totalLegs <= 0 || unresolvedCount < 0 || unresolvedCount > totalLegs {
		return 0, ErrNoLegs
	}
	p := basePenaltyBps * int64(unresolvedCount) / int64(totalLegs)
	if p > BpsScale {
		return 0, ErrPenaltyRange
	}
	return p, nil
}
