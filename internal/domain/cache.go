package domain

import (
	"context"
	"time"
)

// FlagsCache stores the most recently read on-chain flags per pool. A
// failed chain read must leave the previous entry in place; entries are
// replaced only by successful reads.
type FlagsCache interface {
	Set(ctx context.Context, poolAddress string, flags PoolFlags) error
	// Get returns ErrNotFound when no flags have been cached for the pool.
	Get(ctx context.Context, poolAddress string) (PoolFlags, error)
}

// StatusBus is the pub/sub channel over which reconciled status changes
// and operation events are published. The presentation layer subscribes;
// it never drives the poller.
type StatusBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel that emits payloads until ctx is
	// cancelled, at which point it is closed.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed locks used to serialize admin
// operations per pool. Acquire returns ErrLockHeld when the lock is taken.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// AdminGate answers whether a wallet address is an authorized operator.
// Consumed as a boolean capability; how the set is maintained is not this
// service's concern.
type AdminGate interface {
	IsAdmin(ctx context.Context, address string) bool
}
