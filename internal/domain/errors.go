package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrInvalidCommand  = errors.New("command not legal in current status")
	ErrPoolNotDeployed = errors.New("pool not deployed")
	ErrBettingClosed   = errors.New("betting is not open")
	ErrNoWinningStake  = errors.New("no stake on the winning side; pool is unsettleable")
	ErrNotSettleable   = errors.New("pool is not resolved or cancelled")
	ErrSignRejected    = errors.New("transaction signing rejected")
	ErrConfirmTimeout  = errors.New("transaction still pending, check later")
)
