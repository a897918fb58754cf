// Package poller keeps the cached prediction view consistent with chain
// truth. Every cycle it reads the flags of each deployed pool still in an
// active lifecycle, reconciles them against the cached status, and
// publishes the result. A pool whose read fails keeps its previous cached
// flags and is retried next cycle.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bnbpools/poolctl/internal/domain"
	"github.com/bnbpools/poolctl/internal/reconcile"
)

// Config tunes the poll loop.
type Config struct {
	Interval time.Duration
	// Concurrency caps simultaneous chain reads per cycle.
	Concurrency int
}

// Poller is the recurring background sync task.
type Poller struct {
	cfg         Config
	predictions domain.PredictionStore
	contract    domain.PoolContract
	flags       domain.FlagsCache
	bus         domain.StatusBus
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Poller.
func New(cfg Config, predictions domain.PredictionStore, contract domain.PoolContract, flags domain.FlagsCache, bus domain.StatusBus, logger *slog.Logger) *Poller {
	return &Poller{
		cfg:         cfg,
		predictions: predictions,
		contract:    contract,
		flags:       flags,
		bus:         bus,
		logger:      logger.With(slog.String("component", "poller")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run polls on the configured interval until the context is cancelled.
// The first cycle runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", slog.Duration("interval", p.cfg.Interval))

	if err := p.Cycle(ctx); err != nil {
		p.logger.Error("poll cycle failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				if ctx.Err() != nil {
					p.logger.Info("poller stopped")
					return nil
				}
				p.logger.Error("poll cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Cycle performs one poll over every deployed pool whose cached status is
// still attiva or in_pausa. Terminal pools are skipped; their state no
// longer moves on chain without an admin command, which refreshes the
// cache itself.
func (p *Poller) Cycle(ctx context.Context) error {
	preds, err := p.predictions.ListDeployedByStatus(ctx, domain.StatusActive, domain.StatusPaused)
	if err != nil {
		return err
	}
	if len(preds) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, pred := range preds {
		g.Go(func() error {
			// Per-pool failures are logged and isolated, never propagated;
			// one unreadable pool must not starve the rest of the cycle.
			p.syncOne(gctx, pred)
			return nil
		})
	}
	return g.Wait()
}

// syncOne reads one pool's flags, reconciles, and persists any change.
func (p *Poller) syncOne(ctx context.Context, pred domain.Prediction) {
	log := p.logger.With(
		slog.String("prediction_id", pred.ID),
		slog.String("pool_address", pred.PoolAddress),
	)

	flags, err := p.contract.Flags(ctx, pred.PoolAddress)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// The previous cached flags stay in place; readers fall back to
		// them or to the cached status.
		log.Warn("flags read failed, keeping previous", slog.String("error", err.Error()))
		return
	}

	if err := p.flags.Set(ctx, pred.PoolAddress, flags); err != nil {
		log.Warn("cache flags", slog.String("error", err.Error()))
	}

	display := reconcile.Canonical(&flags, pred, p.now())
	next := display.CacheStatus()

	// The time-gated RISOLTA is display-only: with every flag down the
	// pool has merely passed its betting deadline. The cache goes terminal
	// only once the chain reports a winner; otherwise set_winner stays
	// reachable and the pool stays in the polled set.
	if next == domain.StatusResolved && next != pred.Status {
		set, _, werr := p.contract.Winner(ctx, pred.PoolAddress)
		if werr != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("winner read failed, keeping cached status", slog.String("error", werr.Error()))
		}
		if werr != nil || !set {
			next = pred.Status
		}
	}

	changed := next != pred.Status

	if changed {
		if err := p.predictions.UpdateStatus(ctx, pred.ID, next); err != nil {
			log.Error("update cached status", slog.String("error", err.Error()))
			return
		}
		log.Info("status reconciled",
			slog.String("from", string(pred.Status)),
			slog.String("to", string(next)),
			slog.String("display", display.String()))
	}

	p.publish(ctx, pred, next, display, changed)
}

// publish announces the reconciled view. Unchanged statuses are published
// too so subscribers can refresh staleness indicators; the Changed field
// tells them apart.
func (p *Poller) publish(ctx context.Context, pred domain.Prediction, status domain.PredictionStatus, display domain.DisplayStatus, changed bool) {
	ev := domain.StatusEvent{
		PredictionID: pred.ID,
		PoolAddress:  pred.PoolAddress,
		Status:       string(status),
		Display:      display.String(),
		Changed:      changed,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.ChannelStatus, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Warn("publish status event", slog.String("error", err.Error()))
	}
}
