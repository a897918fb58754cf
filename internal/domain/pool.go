package domain

import "time"

// Side is a binary pool outcome.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is "yes" or "no".
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Bool maps the side onto the contract's winner flag (true = yes).
func (s Side) Bool() bool {
	return s == SideYes
}

// SideFromBool converts the contract's winner flag back to a Side.
func SideFromBool(b bool) Side {
	if b {
		return SideYes
	}
	return SideNo
}

// PoolFlags are the four read-only flags exposed by a deployed pool
// contract, plus the read time so consumers can judge staleness.
type PoolFlags struct {
	IsOpen        bool
	EmergencyStop bool
	Cancelled     bool
	IsClosed      bool
	ReadAt        time.Time
}

// PoolParams are the constructor arguments for a new pool, passed to the
// factory's createPool call.
type PoolParams struct {
	Title       string
	Description string
	Category    string
	ClosingDate time.Time
	ClosingBid  time.Time
}
