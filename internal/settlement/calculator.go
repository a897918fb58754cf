// Package settlement computes pari-mutuel fees and payouts for resolved
// pools. All arithmetic happens in the contract's minimum unit (1e-18
// BNB) with truncation toward zero, so the sum of distributed payouts
// never exceeds the net pot. The calculator is pure; it performs no I/O.
package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bnbpools/poolctl/internal/domain"
)

// FeeBps is the platform fee in basis points of the total pot. Fixed at
// design time; not configurable per pool.
const FeeBps = 150

// minUnitDecimals is the number of decimal places of the contract's
// minimum unit (wei-style 1e-18).
const minUnitDecimals = 18

var (
	feeBpsDec = decimal.NewFromInt(FeeBps)
	bpsScale  = decimal.NewFromInt(10000)
)

// Settlement holds the derived figures of a resolved pool. Fee and NetPot
// are exact; per-stake payouts are obtained from Payout.
type Settlement struct {
	Winner            domain.Side
	TotalPot          decimal.Decimal
	Fee               decimal.Decimal
	NetPot            decimal.Decimal
	TotalWinningStake decimal.Decimal
}

// Compute derives the settlement for the given stake totals and winning
// side. It returns domain.ErrNoWinningStake when nobody staked on the
// winning side: the pot is then recoverable only through the operator's
// fund-recovery transition, never through payouts.
func Compute(totals domain.StakeTotals, winner domain.Side) (Settlement, error) {
	if !winner.Valid() {
		return Settlement{}, fmt.Errorf("settlement: invalid winning side %q", winner)
	}
	if totals.Yes.IsNegative() || totals.No.IsNegative() {
		return Settlement{}, fmt.Errorf("settlement: negative stake totals (yes=%s no=%s)", totals.Yes, totals.No)
	}

	potUnits := toUnits(totals.Total())
	winUnits := toUnits(totals.ForSide(winner))

	if winUnits.IsZero() {
		return Settlement{}, domain.ErrNoWinningStake
	}

	// fee = totalPot * FeeBps / 10000, floored at the minimum unit.
	feeUnits := floorDiv(potUnits.Mul(feeBpsDec), bpsScale)
	netUnits := potUnits.Sub(feeUnits)

	return Settlement{
		Winner:            winner,
		TotalPot:          fromUnits(potUnits),
		Fee:               fromUnits(feeUnits),
		NetPot:            fromUnits(netUnits),
		TotalWinningStake: fromUnits(winUnits),
	}, nil
}

// Payout returns the amount a winning stake can withdraw:
//
//	payout(s) = s * netPot / totalWinningStake
//
// truncated toward zero at the minimum unit. Losing-side stakes receive
// zero; callers pass only winning-side stakes here.
func (s Settlement) Payout(stake decimal.Decimal) decimal.Decimal {
	if stake.Sign() <= 0 {
		return decimal.Zero
	}
	stakeUnits := toUnits(stake)
	netUnits := toUnits(s.NetPot)
	winUnits := toUnits(s.TotalWinningStake)
	if winUnits.IsZero() {
		return decimal.Zero
	}
	return fromUnits(floorDiv(stakeUnits.Mul(netUnits), winUnits))
}

// Refund returns the claim amount for a stake in a cancelled pool: the
// original stake exactly, with zero fee.
func Refund(stake decimal.Decimal) decimal.Decimal {
	if stake.Sign() <= 0 {
		return decimal.Zero
	}
	return stake
}

// toUnits converts a BNB amount to integer minimum units, truncating any
// sub-unit fraction.
func toUnits(d decimal.Decimal) decimal.Decimal {
	return d.Shift(minUnitDecimals).Truncate(0)
}

// fromUnits converts integer minimum units back to a BNB amount.
func fromUnits(u decimal.Decimal) decimal.Decimal {
	return u.Shift(-minUnitDecimals)
}

// floorDiv returns the integer quotient of num/den truncated toward zero.
// Inputs are non-negative integers, so truncation equals flooring.
func floorDiv(num, den decimal.Decimal) decimal.Decimal {
	q, _ := num.QuoRem(den, 0)
	return q
}
