package orchestrator

import "time"

// StepName identifies one unit of the admin transaction pipeline.
type StepName string

const (
	StepPrepare   StepName = "prepare"
	StepSign      StepName = "sign"
	StepConfirm   StepName = "confirm"
	StepPersist   StepName = "persist"
	StepSaveNotes StepName = "save_notes"
)

// StepStatus is the execution state of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepLoading   StepStatus = "loading"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// StepResult is the immutable outcome of one step. Detail carries a short
// human-readable note (tx hash, revert reason, write error).
type StepResult struct {
	Name       StepName   `json:"name"`
	Status     StepStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitzero"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
}

// Operation is a value-type snapshot of one admin operation's progress.
// Consumers receive copies; only the orchestrator mutates the live record,
// and only between snapshots.
type Operation struct {
	ID           string       `json:"id"`
	PredictionID string       `json:"prediction_id"`
	PoolAddress  string       `json:"pool_address,omitempty"`
	Command      string       `json:"command"`
	Steps        []StepResult `json:"steps"`
	// Current indexes the step being executed; len(Steps) once finished.
	Current int    `json:"current"`
	Done    bool   `json:"done"`
	TxHash  string `json:"tx_hash,omitempty"`
	// Err is set only when the on-chain effect failed. Persist failures are
	// recorded on their step and do not mark the operation failed.
	Err        string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// clone returns a deep copy safe to hand to readers.
func (op Operation) clone() Operation {
	out := op
	out.Steps = make([]StepResult, len(op.Steps))
	copy(out.Steps, op.Steps)
	return out
}

func newOperation(id, predictionID, command string, steps []StepName, now time.Time) Operation {
	op := Operation{
		ID:           id,
		PredictionID: predictionID,
		Command:      command,
		Steps:        make([]StepResult, len(steps)),
		StartedAt:    now,
	}
	for i, name := range steps {
		op.Steps[i] = StepResult{Name: name, Status: StepPending}
	}
	return op
}
