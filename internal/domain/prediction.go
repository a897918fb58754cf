// Package domain defines the core types of the pool lifecycle controller:
// predictions, pools, bets, admin commands, and the store/contract/cache
// interfaces implemented by the infrastructure packages.
package domain

import "time"

// PredictionStatus is the cached lifecycle state of a prediction. The values
// match the status column of the predictions table and are kept in the
// operator's original Italian labels.
type PredictionStatus string

const (
	StatusPending   PredictionStatus = "in_attesa"  // pool not yet deployed
	StatusActive    PredictionStatus = "attiva"     // open or time-gated
	StatusPaused    PredictionStatus = "in_pausa"   // stopped or admin-closed
	StatusResolved  PredictionStatus = "risolta"    // terminal, winner set
	StatusCancelled PredictionStatus = "cancellata" // terminal, refundable
)

// Terminal reports whether the status admits no further lifecycle transition
// other than fund recovery.
func (s PredictionStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Valid reports whether s is one of the five known statuses.
func (s PredictionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPaused, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// DisplayStatus is the canonical status shown to operators and participants,
// produced exclusively by the reconciliation engine. It is a closed set; there
// is no fallback value.
type DisplayStatus int

const (
	DisplayPending DisplayStatus = iota
	DisplayActive
	DisplayPaused
	DisplayClosed
	DisplayResolved
	DisplayCancelled
)

// String returns the operator-facing label.
func (d DisplayStatus) String() string {
	switch d {
	case DisplayPending:
		return "IN ATTESA"
	case DisplayActive:
		return "ATTIVA"
	case DisplayPaused:
		return "IN PAUSA"
	case DisplayClosed:
		return "CHIUSA"
	case DisplayResolved:
		return "RISOLTA"
	case DisplayCancelled:
		return "CANCELLATA"
	}
	return "UNKNOWN"
}

// CacheStatus maps the display status back onto the five cached statuses.
// CHIUSA collapses onto in_pausa: an admin-closed pool is paused from the
// cache's point of view until a winner is set.
func (d DisplayStatus) CacheStatus() PredictionStatus {
	switch d {
	case DisplayPending:
		return StatusPending
	case DisplayActive:
		return StatusActive
	case DisplayPaused, DisplayClosed:
		return StatusPaused
	case DisplayResolved:
		return StatusResolved
	case DisplayCancelled:
		return StatusCancelled
	}
	return StatusPending
}

// Prediction is the cached mirror of an on-chain pool plus editorial
// metadata. PoolAddress is empty until the pool is deployed.
type Prediction struct {
	ID          string
	Title       string
	Description string
	Category    string
	ClosingDate time.Time // bet cutoff
	ClosingBid  time.Time // event / resolution cutoff
	Status      PredictionStatus
	PoolAddress string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Deployed reports whether the prediction has an on-chain pool.
func (p Prediction) Deployed() bool {
	return p.PoolAddress != ""
}
