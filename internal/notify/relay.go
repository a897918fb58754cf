package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bnbpools/poolctl/internal/domain"
)

// Relay subscribes to the status and operation channels and turns bus
// events into operator notifications. It is a pure consumer; missing a
// message costs an alert, never state.
type Relay struct {
	bus      domain.StatusBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay.
func NewRelay(bus domain.StatusBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run consumes bus events until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	statusCh, err := r.bus.Subscribe(ctx, domain.ChannelStatus)
	if err != nil {
		return fmt.Errorf("notify: subscribe status channel: %w", err)
	}
	opsCh, err := r.bus.Subscribe(ctx, domain.ChannelOps)
	if err != nil {
		return fmt.Errorf("notify: subscribe ops channel: %w", err)
	}

	r.logger.Info("notification relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("notification relay stopped")
			return nil
		case payload, ok := <-statusCh:
			if !ok {
				return nil
			}
			r.onStatus(ctx, payload)
		case payload, ok := <-opsCh:
			if !ok {
				return nil
			}
			r.onOperation(ctx, payload)
		}
	}
}

func (r *Relay) onStatus(ctx context.Context, payload []byte) {
	var ev domain.StatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warn("bad status event", slog.String("error", err.Error()))
		return
	}
	if !ev.Changed {
		return
	}

	title := "Pool status changed"
	msg := fmt.Sprintf("Prediction %s is now %s (%s)", ev.PredictionID, ev.Display, ev.Status)
	if err := r.notifier.Notify(ctx, EventStatusChanged, title, msg); err != nil {
		r.logger.Warn("notify status change", slog.String("error", err.Error()))
	}
}

// opEvent is the subset of the orchestrator's operation snapshot the relay
// cares about. Only finished operations are announced.
type opEvent struct {
	ID           string `json:"id"`
	PredictionID string `json:"prediction_id"`
	Command      string `json:"command"`
	Done         bool   `json:"done"`
	TxHash       string `json:"tx_hash"`
	Err          string `json:"error"`
}

func (r *Relay) onOperation(ctx context.Context, payload []byte) {
	var ev opEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warn("bad operation event", slog.String("error", err.Error()))
		return
	}
	if !ev.Done {
		return
	}

	if ev.Err != "" {
		title := fmt.Sprintf("Operation failed: %s", ev.Command)
		msg := fmt.Sprintf("Prediction %s, operation %s: %s", ev.PredictionID, ev.ID, ev.Err)
		if err := r.notifier.Notify(ctx, EventOpFailed, title, msg); err != nil {
			r.logger.Warn("notify operation failure", slog.String("error", err.Error()))
		}
		return
	}

	title := fmt.Sprintf("Operation completed: %s", ev.Command)
	msg := fmt.Sprintf("Prediction %s, tx %s", ev.PredictionID, ev.TxHash)
	if err := r.notifier.Notify(ctx, EventOpCompleted, title, msg); err != nil {
		r.logger.Warn("notify operation completion", slog.String("error", err.Error()))
	}
}
