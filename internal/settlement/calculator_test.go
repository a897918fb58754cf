package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnbpools/poolctl/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func totals(yes, no string) domain.StakeTotals {
	return domain.StakeTotals{Yes: dec(yes), No: dec(no)}
}

func TestCompute_Example(t *testing.T) {
	// Yes stakes 10+20+5=35, No stakes 5+15=20, winner Yes.
	s, err := Compute(totals("35", "20"), domain.SideYes)
	require.NoError(t, err)

	assert.True(t, s.TotalPot.Equal(dec("55")), "totalPot = %s", s.TotalPot)
	assert.True(t, s.Fee.Equal(dec("0.825")), "fee = %s", s.Fee)
	assert.True(t, s.NetPot.Equal(dec("54.175")), "netPot = %s", s.NetPot)
	assert.True(t, s.TotalWinningStake.Equal(dec("35")))

	// Each Yes better's payout = stake * 54.175 / 35.
	p10 := s.Payout(dec("10"))
	assert.True(t, p10.GreaterThan(dec("15.478")) && p10.LessThan(dec("15.479")),
		"payout(10) = %s", p10)

	p20 := s.Payout(dec("20"))
	p5 := s.Payout(dec("5"))
	sum := p10.Add(p20).Add(p5)
	assert.True(t, sum.LessThanOrEqual(s.NetPot), "sum %s exceeds net pot %s", sum, s.NetPot)
}

func TestCompute_FeeExact(t *testing.T) {
	cases := []string{"0", "1", "55", "0.000000000000000001", "123456.789", "10000"}
	for _, pot := range cases {
		s, err := Compute(domain.StakeTotals{Yes: dec(pot), No: decimal.Zero}, domain.SideYes)
		if pot == "0" {
			assert.ErrorIs(t, err, domain.ErrNoWinningStake)
			continue
		}
		require.NoError(t, err, "pot %s", pot)

		// Recomputing yields the identical fee.
		again, err := Compute(domain.StakeTotals{Yes: dec(pot), No: decimal.Zero}, domain.SideYes)
		require.NoError(t, err)
		assert.True(t, s.Fee.Equal(again.Fee), "fee not idempotent for pot %s", pot)

		// fee = pot * 150 / 10000 at minimum-unit precision.
		want := dec(pot).Shift(18).Truncate(0).Mul(dec("150")).Div(dec("10000")).Truncate(0).Shift(-18)
		assert.True(t, s.Fee.Equal(want), "pot %s: fee %s want %s", pot, s.Fee, want)
	}
}

func TestCompute_NoWinningStake(t *testing.T) {
	_, err := Compute(totals("0", "20"), domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrNoWinningStake)

	_, err = Compute(totals("35", "0"), domain.SideNo)
	assert.ErrorIs(t, err, domain.ErrNoWinningStake)
}

func TestCompute_InvalidInputs(t *testing.T) {
	_, err := Compute(totals("-1", "20"), domain.SideYes)
	assert.Error(t, err)

	_, err = Compute(totals("1", "2"), domain.Side("maybe"))
	assert.Error(t, err)
}

func TestPayout_BoundedRoundingLoss(t *testing.T) {
	// Awkward divisors: the distributed sum must never exceed the net pot
	// and the residual dust must stay below one stake-count of minimum
	// units (here, far below the smallest stake).
	cases := []struct {
		yes    []string
		no     string
		winner domain.Side
	}{
		{[]string{"1", "1", "1"}, "1", domain.SideYes},
		{[]string{"0.000000000000000007", "3"}, "10", domain.SideYes},
		{[]string{"7", "11", "13"}, "17.5", domain.SideYes},
		{[]string{"33.333333333333333333"}, "66.6", domain.SideYes},
	}

	for _, tc := range cases {
		totalYes := decimal.Zero
		for _, y := range tc.yes {
			totalYes = totalYes.Add(dec(y))
		}
		s, err := Compute(domain.StakeTotals{Yes: totalYes, No: dec(tc.no)}, tc.winner)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, y := range tc.yes {
			sum = sum.Add(s.Payout(dec(y)))
		}
		assert.True(t, sum.LessThanOrEqual(s.NetPot),
			"over-distribution: sum %s > netPot %s", sum, s.NetPot)

		loss := s.NetPot.Sub(sum)
		assert.True(t, loss.Sign() >= 0)
		assert.True(t, loss.LessThan(s.TotalWinningStake),
			"rounding loss %s not bounded by winning stake %s", loss, s.TotalWinningStake)
	}
}

func TestPayout_LosingAndZeroStakes(t *testing.T) {
	s, err := Compute(totals("35", "20"), domain.SideYes)
	require.NoError(t, err)

	assert.True(t, s.Payout(decimal.Zero).IsZero())
	assert.True(t, s.Payout(dec("-3")).IsZero())
}

func TestPayout_SingleWinnerTakesNetPot(t *testing.T) {
	s, err := Compute(totals("10", "90"), domain.SideYes)
	require.NoError(t, err)

	// payout(10) = 10 * netPot / 10 = netPot exactly.
	assert.True(t, s.Payout(dec("10")).Equal(s.NetPot))
}

func TestRefund_CancelledPool(t *testing.T) {
	// Cancellation: every participant's claim equals their stake exactly.
	for _, st := range []string{"0.5", "10", "123.456789"} {
		assert.True(t, Refund(dec(st)).Equal(dec(st)))
	}
	assert.True(t, Refund(decimal.Zero).IsZero())
}
