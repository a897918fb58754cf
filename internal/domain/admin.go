package domain

import "time"

// AdminCommand is an operator-issued lifecycle command.
type AdminCommand string

const (
	CommandDeploy    AdminCommand = "deploy_pool"
	CommandStop      AdminCommand = "stop_betting"
	CommandResume    AdminCommand = "resume_betting"
	CommandClose     AdminCommand = "close_pool"
	CommandReopen    AdminCommand = "reopen_pool"
	CommandSetWinner AdminCommand = "set_winner"
	CommandCancel    AdminCommand = "cancel_pool"
	CommandRecover   AdminCommand = "recover_funds"
)

// Valid reports whether c is a known command.
func (c AdminCommand) Valid() bool {
	switch c {
	case CommandDeploy, CommandStop, CommandResume, CommandClose,
		CommandReopen, CommandSetWinner, CommandCancel, CommandRecover:
		return true
	}
	return false
}

// AdminAction is one row of the append-only audit trail. It is written
// best-effort after on-chain confirmation and never blocks or rolls back
// the on-chain effect.
type AdminAction struct {
	ID             int64
	ActionType     AdminCommand
	TxHash         string
	PoolAddress    string
	PredictionID   string
	AdminAddress   string
	AdditionalData map[string]any
	CreatedAt      time.Time
}

// OutboxJob is a durable at-least-once persistence job, enqueued by the
// orchestrator's persist step once a transaction has confirmed. A worker
// retries the cache mutation and audit append until they land.
type OutboxJob struct {
	ID             int64
	PredictionID   string
	PoolAddress    string
	NewStatus      PredictionStatus // empty for fund recovery (no status change)
	ActionType     AdminCommand
	TxHash         string
	AdminAddress   string
	AdditionalData map[string]any
	Attempts       int
	NextAttemptAt  time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
}
