package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PredictionStore persists the cached prediction mirror.
type PredictionStore interface {
	Create(ctx context.Context, p Prediction) error
	Update(ctx context.Context, p Prediction) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Prediction, error)
	List(ctx context.Context, opts ListOpts) ([]Prediction, error)
	// ListDeployedByStatus returns predictions with a non-empty pool address
	// whose cached status is one of the given statuses. Used by the poller.
	ListDeployedByStatus(ctx context.Context, statuses ...PredictionStatus) ([]Prediction, error)
	// UpdateStatus writes the cached status. Writing the same status twice
	// is a no-op at the row level.
	UpdateStatus(ctx context.Context, id string, status PredictionStatus) error
	// SetPoolAddress records the deployed pool address and flips the status
	// in a single statement.
	SetPoolAddress(ctx context.Context, id, address string, status PredictionStatus) error
	SaveNotes(ctx context.Context, id, notes string) error
}

// BetStore persists the immutable bet mirror.
type BetStore interface {
	Insert(ctx context.Context, b Bet) (int64, error)
	ListByPrediction(ctx context.Context, predictionID string, opts ListOpts) ([]Bet, error)
	// StakeTotals returns the summed stake per side for a prediction.
	StakeTotals(ctx context.Context, predictionID string) (StakeTotals, error)
	// UserStake returns a single wallet's summed stake per side.
	UserStake(ctx context.Context, predictionID, userID string) (StakeTotals, error)
}

// AdminActionStore persists the append-only audit trail.
type AdminActionStore interface {
	Append(ctx context.Context, a AdminAction) error
	List(ctx context.Context, opts ListOpts) ([]AdminAction, error)
}

// OutboxStore persists durable persistence jobs.
type OutboxStore interface {
	Enqueue(ctx context.Context, job OutboxJob) (int64, error)
	// Due returns incomplete jobs whose next attempt time has passed.
	Due(ctx context.Context, now time.Time, limit int) ([]OutboxJob, error)
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, nextAttempt time.Time) error
}
