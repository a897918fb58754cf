package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bet is the cached mirror of a single on-chain stake. Bets are immutable
// once written; the aggregate of all bets for a prediction is the
// pari-mutuel pot.
type Bet struct {
	ID           int64
	PredictionID string
	UserID       string
	Position     Side
	AmountBNB    decimal.Decimal
	CreatedAt    time.Time
}

// StakeTotals aggregates the pot of a prediction by side.
type StakeTotals struct {
	Yes decimal.Decimal
	No  decimal.Decimal
}

// Total returns the combined pot.
func (t StakeTotals) Total() decimal.Decimal {
	return t.Yes.Add(t.No)
}

// ForSide returns the stake total on the given side.
func (t StakeTotals) ForSide(s Side) decimal.Decimal {
	if s == SideYes {
		return t.Yes
	}
	return t.No
}
