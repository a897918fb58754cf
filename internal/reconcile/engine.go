// Package reconcile merges on-chain pool flags, the cached prediction
// status, and wall-clock deadlines into one canonical display status.
// On-chain state is authoritative whenever it is obtainable; the cache is
// a read accelerator, eventually consistent by design.
package reconcile

import (
	"time"

	"github.com/bnbpools/poolctl/internal/domain"
)

// Canonical produces the canonical display status for a prediction.
//
// Precedence over the on-chain flags, first match wins:
//
//	cancelled > isClosed > emergencyStop > isOpen > time gate
//
// When flags is nil (pool not deployed, or every read so far has failed)
// the cached status is mapped verbatim to its display label.
func Canonical(flags *domain.PoolFlags, p domain.Prediction, now time.Time) domain.DisplayStatus {
	if flags == nil {
		return CacheDisplay(p.Status)
	}

	switch {
	case flags.Cancelled:
		return domain.DisplayCancelled
	case flags.IsClosed:
		return domain.DisplayClosed
	case flags.EmergencyStop:
		return domain.DisplayPaused
	case flags.IsOpen:
		return domain.DisplayActive
	case now.Before(p.ClosingBid):
		// Betting closed by time but the event is still pending; shown as
		// active in a degraded sense until the resolution cutoff passes.
		return domain.DisplayActive
	default:
		return domain.DisplayResolved
	}
}

// CacheDisplay maps the five cached statuses 1:1 onto display labels. The
// switch is exhaustive over domain.PredictionStatus; an unknown value in
// the database surfaces as IN ATTESA rather than inventing a sixth state.
func CacheDisplay(s domain.PredictionStatus) domain.DisplayStatus {
	switch s {
	case domain.StatusActive:
		return domain.DisplayActive
	case domain.StatusPaused:
		return domain.DisplayPaused
	case domain.StatusResolved:
		return domain.DisplayResolved
	case domain.StatusCancelled:
		return domain.DisplayCancelled
	case domain.StatusPending:
		return domain.DisplayPending
	}
	return domain.DisplayPending
}
