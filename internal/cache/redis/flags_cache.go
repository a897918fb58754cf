package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bnbpools/poolctl/internal/domain"
)

// flagsTTL bounds staleness when a pool stops being polled (for example
// after resolution). Active pools are refreshed well inside this window.
const flagsTTL = 24 * time.Hour

// FlagsCache implements domain.FlagsCache using JSON-serialized flag
// snapshots keyed per pool address.
//
// Key schema:
//
//	pool:flags:{address} - string value containing JSON
type FlagsCache struct {
	rdb *redis.Client
}

// NewFlagsCache creates a FlagsCache backed by the given Client.
func NewFlagsCache(c *Client) *FlagsCache {
	return &FlagsCache{rdb: c.Underlying()}
}

func flagsKey(addr string) string { return "pool:flags:" + addr }

// Set stores the latest successfully read flags for a pool. Callers only
// invoke Set after a successful chain read, so a failed read never
// overwrites the previous snapshot.
func (fc *FlagsCache) Set(ctx context.Context, poolAddress string, flags domain.PoolFlags) error {
	data, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("redis: marshal flags for %s: %w", poolAddress, err)
	}

	if err := fc.rdb.Set(ctx, flagsKey(poolAddress), data, flagsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set flags for %s: %w", poolAddress, err)
	}
	return nil
}

// Get retrieves the cached flags for a pool.
// It returns domain.ErrNotFound when no flags have been cached.
func (fc *FlagsCache) Get(ctx context.Context, poolAddress string) (domain.PoolFlags, error) {
	data, err := fc.rdb.Get(ctx, flagsKey(poolAddress)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PoolFlags{}, domain.ErrNotFound
		}
		return domain.PoolFlags{}, fmt.Errorf("redis: get flags for %s: %w", poolAddress, err)
	}

	var flags domain.PoolFlags
	if err := json.Unmarshal(data, &flags); err != nil {
		return domain.PoolFlags{}, fmt.Errorf("redis: unmarshal flags for %s: %w", poolAddress, err)
	}
	return flags, nil
}

// Compile-time interface check.
var _ domain.FlagsCache = (*FlagsCache)(nil)
