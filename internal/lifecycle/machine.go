// Package lifecycle defines the legal admin state machine of a pool: which
// command is allowed in which cached status, the on-chain call it maps to,
// and the cache status written after the chain confirms. The table is
// closed; unknown command/status pairs are rejected, never defaulted.
package lifecycle

import (
	"fmt"

	"github.com/bnbpools/poolctl/internal/domain"
)

// Transition describes the effect of one admin command.
type Transition struct {
	Command domain.AdminCommand
	// From lists the cached statuses in which the command may be issued.
	From []domain.PredictionStatus
	// Next is the cache status written after on-chain confirmation.
	// StatusChanged is false for fund recovery, which sweeps funds without
	// touching the lifecycle.
	Next          domain.PredictionStatus
	StatusChanged bool
	// NeedsDeployedPool is false only for the deploy command itself.
	NeedsDeployedPool bool
}

// table is the full transition table. The on-chain contract enforces its
// own preconditions as well; this table keeps obviously illegal commands
// (terminal-state re-entry in particular) from ever reaching the chain.
var table = map[domain.AdminCommand]Transition{
	domain.CommandDeploy: {
		Command: domain.CommandDeploy,
		From:    []domain.PredictionStatus{domain.StatusPending},
		Next:    domain.StatusActive, StatusChanged: true,
	},
	domain.CommandStop: {
		Command: domain.CommandStop,
		From:    []domain.PredictionStatus{domain.StatusActive},
		Next:    domain.StatusPaused, StatusChanged: true,
		NeedsDeployedPool: true,
	},
	domain.CommandResume: {
		Command: domain.CommandResume,
		From:    []domain.PredictionStatus{domain.StatusPaused},
		Next:    domain.StatusActive, StatusChanged: true,
		NeedsDeployedPool: true,
	},
	domain.CommandClose: {
		Command: domain.CommandClose,
		From:    []domain.PredictionStatus{domain.StatusActive},
		Next:    domain.StatusPaused, StatusChanged: true,
		NeedsDeployedPool: true,
	},
	domain.CommandReopen: {
		Command: domain.CommandReopen,
		From:    []domain.PredictionStatus{domain.StatusPaused},
		Next:    domain.StatusActive, StatusChanged: true,
		NeedsDeployedPool: true,
	},
	domain.CommandSetWinner: {
		Command: domain.CommandSetWinner,
		From:    []domain.PredictionStatus{domain.StatusPaused},
		Next:    domain.StatusResolved, StatusChanged: true,
		NeedsDeployedPool: true,
	},
	domain.CommandCancel: {
		Command: domain.CommandCancel,
		From:    []domain.PredictionStatus{domain.StatusActive, domain.StatusPaused},
		Next:    domain.StatusCancelled, StatusChanged: true,
		NeedsDeployedPool: true,
	},
	domain.CommandRecover: {
		Command: domain.CommandRecover,
		From:    []domain.PredictionStatus{domain.StatusResolved, domain.StatusCancelled},
		// Funds sweep only; the cached status is left unchanged.
		StatusChanged:     false,
		NeedsDeployedPool: true,
	},
}

// Lookup returns the transition for a command.
func Lookup(cmd domain.AdminCommand) (Transition, error) {
	t, ok := table[cmd]
	if !ok {
		return Transition{}, fmt.Errorf("lifecycle: unknown command %q: %w", cmd, domain.ErrInvalidCommand)
	}
	return t, nil
}

// Check validates that cmd may be issued against a prediction in the given
// state. It returns the transition on success.
func Check(p domain.Prediction, cmd domain.AdminCommand) (Transition, error) {
	t, err := Lookup(cmd)
	if err != nil {
		return Transition{}, err
	}

	if t.NeedsDeployedPool && !p.Deployed() {
		return Transition{}, fmt.Errorf("lifecycle: %s on prediction %s: %w", cmd, p.ID, domain.ErrPoolNotDeployed)
	}
	if cmd == domain.CommandDeploy && p.Deployed() {
		return Transition{}, fmt.Errorf("lifecycle: prediction %s already has pool %s: %w", p.ID, p.PoolAddress, domain.ErrAlreadyExists)
	}

	for _, from := range t.From {
		if p.Status == from {
			return t, nil
		}
	}
	return Transition{}, fmt.Errorf("lifecycle: %s not legal from status %s: %w", cmd, p.Status, domain.ErrInvalidCommand)
}
