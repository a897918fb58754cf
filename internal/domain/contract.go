package domain

import "context"

// TxOutcome is the result of a confirmed transaction. PoolAddress is set
// only for pool-creation transactions, extracted from the factory's
// PoolCreated event.
type TxOutcome struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	PoolAddress string
}

// PoolContract is the published interface of the on-chain escrow system:
// a factory that creates pools and per-pool admin calls. Submit methods
// sign and broadcast a transaction, returning its hash; Confirm waits for
// inclusion. The contract enforces its own preconditions; a revert must
// be treated as a hard stop by callers.
type PoolContract interface {
	// CreatePool submits the factory call that deploys a new pool.
	CreatePool(ctx context.Context, p PoolParams) (txHash string, err error)
	// SetEmergencyStop toggles the pool's emergency stop flag.
	SetEmergencyStop(ctx context.Context, poolAddress string, stop bool) (txHash string, err error)
	// ClosePool administratively closes betting, independent of time.
	ClosePool(ctx context.Context, poolAddress string) (txHash string, err error)
	// ReopenPool reverses an administrative close.
	ReopenPool(ctx context.Context, poolAddress string) (txHash string, err error)
	// SetWinner resolves the pool. Legal on-chain only once closed.
	SetWinner(ctx context.Context, poolAddress string, winner Side) (txHash string, err error)
	// CancelPool cancels the pool with a reason, enabling refunds.
	CancelPool(ctx context.Context, poolAddress, reason string) (txHash string, err error)
	// RecoverFunds sweeps residual funds. Legal on-chain only when the pool
	// is cancelled or has a winner set.
	RecoverFunds(ctx context.Context, poolAddress string) (txHash string, err error)

	// Confirm blocks until the transaction is mined or the configured
	// confirmation timeout elapses (ErrConfirmTimeout). A reverted
	// transaction yields an error carrying the revert reason when it can
	// be recovered.
	Confirm(ctx context.Context, txHash string) (TxOutcome, error)

	// Flags reads the four authoritative pool flags.
	Flags(ctx context.Context, poolAddress string) (PoolFlags, error)

	// Winner reads the resolution state. side is meaningful only when set
	// is true.
	Winner(ctx context.Context, poolAddress string) (set bool, side Side, err error)
}
