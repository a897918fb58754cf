// Package outbox retries the persistence of confirmed admin operations.
// The orchestrator enqueues a durable job before its inline write; when
// the inline write fails, the worker replays the job until the cache and
// audit trail reflect the on-chain effect.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/bnbpools/poolctl/internal/domain"
)

// Apply performs the persistence writes of one job: the cached status
// update and the audit append. It is idempotent for status writes;
// replayed audit appends may duplicate, which readers tolerate.
func Apply(ctx context.Context, predictions domain.PredictionStore, actions domain.AdminActionStore, job domain.OutboxJob) error {
	switch {
	case job.ActionType == domain.CommandDeploy && job.PoolAddress != "":
		if err := predictions.SetPoolAddress(ctx, job.PredictionID, job.PoolAddress, job.NewStatus); err != nil {
			return err
		}
	case job.NewStatus != "":
		if err := predictions.UpdateStatus(ctx, job.PredictionID, job.NewStatus); err != nil {
			return err
		}
	}

	// Cancellations carry their reason in the job; a replay must restore
	// the operator notes the inline save_notes step never got to write.
	if reason, ok := job.AdditionalData["reason"].(string); ok && reason != "" {
		if err := predictions.SaveNotes(ctx, job.PredictionID, reason); err != nil {
			return err
		}
	}

	return actions.Append(ctx, domain.AdminAction{
		ActionType:     job.ActionType,
		TxHash:         job.TxHash,
		PoolAddress:    job.PoolAddress,
		PredictionID:   job.PredictionID,
		AdminAddress:   job.AdminAddress,
		AdditionalData: job.AdditionalData,
	})
}

// Config tunes the worker loop.
type Config struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

// Worker drains due outbox jobs on an interval with exponential backoff
// per job.
type Worker struct {
	cfg         Config
	outbox      domain.OutboxStore
	predictions domain.PredictionStore
	actions     domain.AdminActionStore
	logger      *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(cfg Config, outbox domain.OutboxStore, predictions domain.PredictionStore, actions domain.AdminActionStore, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:         cfg,
		outbox:      outbox,
		predictions: predictions,
		actions:     actions,
		logger:      logger.With(slog.String("component", "outbox")),
	}
}

// Run drains jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", slog.Duration("interval", w.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes one batch of due jobs.
func (w *Worker) drain(ctx context.Context) {
	jobs, err := w.outbox.Due(ctx, time.Now().UTC(), w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("list due jobs", slog.String("error", err.Error()))
		return
	}

	for _, job := range jobs {
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job domain.OutboxJob) {
	log := w.logger.With(
		slog.Int64("job_id", job.ID),
		slog.String("prediction_id", job.PredictionID),
		slog.String("action", string(job.ActionType)),
	)

	if err := Apply(ctx, w.predictions, w.actions, job); err != nil {
		if ctx.Err() != nil {
			return
		}

		// A job past its attempt budget is abandoned loudly rather than
		// retried forever; reconciliation covers the cached status, the
		// audit gap needs operator attention.
		if job.Attempts+1 >= w.cfg.MaxAttempts {
			log.Error("giving up on job",
				slog.Int("attempts", job.Attempts+1),
				slog.String("error", err.Error()))
			if err := w.outbox.MarkDone(ctx, job.ID); err != nil {
				log.Error("mark job done", slog.String("error", err.Error()))
			}
			return
		}

		next := time.Now().UTC().Add(w.backoff(job.Attempts))
		log.Warn("job failed, rescheduling",
			slog.Int("attempts", job.Attempts+1),
			slog.Time("next_attempt", next),
			slog.String("error", err.Error()))
		if err := w.outbox.MarkFailed(ctx, job.ID, next); err != nil {
			log.Error("mark job failed", slog.String("error", err.Error()))
		}
		return
	}

	if err := w.outbox.MarkDone(ctx, job.ID); err != nil {
		log.Error("mark job done", slog.String("error", err.Error()))
		return
	}
	log.Info("job persisted", slog.Int("attempts", job.Attempts+1))
}

// backoff doubles per attempt from the base, capped at 10 minutes.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.cfg.BaseBackoff
	for i := 0; i < attempts && d < 10*time.Minute; i++ {
		d *= 2
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}
