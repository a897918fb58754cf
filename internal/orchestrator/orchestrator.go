// Package orchestrator executes admin operations as an ordered step
// pipeline: prepare, sign, confirm, persist, and for cancellations a
// trailing save_notes. The on-chain call is the only irreversible step;
// everything after a confirmed transaction is retried through the outbox
// rather than rolled back.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnbpools/poolctl/internal/domain"
	"github.com/bnbpools/poolctl/internal/lifecycle"
	"github.com/bnbpools/poolctl/internal/outbox"
	"github.com/bnbpools/poolctl/internal/reconcile"
)

// Request is one operator-issued admin command.
type Request struct {
	PredictionID string
	Command      domain.AdminCommand
	// Winner applies to set_winner only.
	Winner domain.Side
	// Reason applies to cancel_pool only.
	Reason       string
	AdminAddress string
}

// Config tunes the orchestrator.
type Config struct {
	// LockTTL bounds how long a crashed operation can hold its pool lock.
	LockTTL time.Duration
}

// Orchestrator runs one operation at a time per prediction, serialized
// through a distributed lock, and keeps completed operations readable in
// an in-memory registry.
type Orchestrator struct {
	cfg         Config
	predictions domain.PredictionStore
	actions     domain.AdminActionStore
	jobs        domain.OutboxStore
	contract    domain.PoolContract
	locks       domain.LockManager
	bus         domain.StatusBus
	logger      *slog.Logger

	mu  sync.RWMutex
	ops map[string]Operation
}

// New creates an Orchestrator.
func New(cfg Config, predictions domain.PredictionStore, actions domain.AdminActionStore, jobs domain.OutboxStore, contract domain.PoolContract, locks domain.LockManager, bus domain.StatusBus, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		predictions: predictions,
		actions:     actions,
		jobs:        jobs,
		contract:    contract,
		locks:       locks,
		bus:         bus,
		logger:      logger.With(slog.String("component", "orchestrator")),
		ops:         make(map[string]Operation),
	}
}

// Get returns a snapshot of a registered operation.
func (o *Orchestrator) Get(id string) (Operation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	op, ok := o.ops[id]
	if !ok {
		return Operation{}, false
	}
	return op.clone(), true
}

// Execute runs one admin operation to completion and returns its final
// snapshot. The returned error is the on-chain failure, if any; persist
// and save_notes failures are recorded on their steps but leave the
// operation successful, since the chain effect already happened.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Operation, error) {
	op, unlock, err := o.begin(ctx, req)
	if err != nil {
		return Operation{}, err
	}
	return o.run(ctx, op, req, unlock)
}

// Begin validates the command and takes the pool lock synchronously, so
// conflicts surface to the caller immediately, then runs the pipeline in
// the background. The returned snapshot carries the registry ID to poll.
func (o *Orchestrator) Begin(ctx context.Context, req Request) (Operation, error) {
	op, unlock, err := o.begin(ctx, req)
	if err != nil {
		return Operation{}, err
	}
	go o.run(context.WithoutCancel(ctx), op, req, unlock)
	return op.clone(), nil
}

func (o *Orchestrator) begin(ctx context.Context, req Request) (Operation, func(), error) {
	if !req.Command.Valid() {
		return Operation{}, nil, fmt.Errorf("orchestrator: command %q: %w", req.Command, domain.ErrInvalidCommand)
	}

	// One operation at a time per prediction. A prediction maps onto at
	// most one pool, so this serializes per pool as well.
	unlock, err := o.locks.Acquire(ctx, "op:"+req.PredictionID, o.cfg.LockTTL)
	if err != nil {
		return Operation{}, nil, fmt.Errorf("orchestrator: prediction %s: %w", req.PredictionID, err)
	}

	op := newOperation(uuid.New().String(), req.PredictionID, string(req.Command), stepsFor(req), time.Now().UTC())
	o.put(op)
	return op, unlock, nil
}

func (o *Orchestrator) run(ctx context.Context, op Operation, req Request, unlock func()) (Operation, error) {
	defer unlock()

	log := o.logger.With(
		slog.String("operation_id", op.ID),
		slog.String("prediction_id", req.PredictionID),
		slog.String("command", string(req.Command)),
	)
	log.Info("operation started")

	// prepare
	o.startStep(&op)
	pred, transition, err := o.prepare(ctx, req)
	if err != nil {
		return o.fail(&op, log, err)
	}
	op.PoolAddress = pred.PoolAddress
	o.completeStep(&op, "")

	// sign
	o.startStep(&op)
	txHash, err := o.sign(ctx, pred, req)
	if err != nil {
		return o.fail(&op, log, err)
	}
	op.TxHash = txHash
	o.completeStep(&op, txHash)
	log.Info("transaction submitted", slog.String("tx_hash", txHash))

	// confirm
	o.startStep(&op)
	outcome, err := o.contract.Confirm(ctx, txHash)
	if err != nil {
		return o.fail(&op, log, err)
	}
	if req.Command == domain.CommandDeploy {
		if outcome.PoolAddress == "" {
			return o.fail(&op, log, errors.New("orchestrator: deploy receipt carries no pool address"))
		}
		op.PoolAddress = outcome.PoolAddress
	}
	o.completeStep(&op, fmt.Sprintf("block %d", outcome.BlockNumber))
	log.Info("transaction confirmed",
		slog.String("tx_hash", txHash),
		slog.Uint64("block", outcome.BlockNumber))

	// persist: the chain effect is final from here on. Failures are
	// recorded and retried by the outbox worker, never rolled back.
	o.startStep(&op)
	persistErr := o.persist(ctx, req, transition, op, outcome)
	if persistErr != nil {
		log.Warn("persist failed, outbox will retry", slog.String("error", persistErr.Error()))
		o.errorStep(&op, persistErr)
	} else {
		o.completeStep(&op, "")
	}

	// save_notes (cancellation reason). Stays pending when persist
	// failed; the outbox job carries the reason and writes it on replay.
	if persistErr == nil && op.Current < len(op.Steps) {
		o.startStep(&op)
		if err := o.predictions.SaveNotes(ctx, req.PredictionID, req.Reason); err != nil {
			log.Warn("save notes failed", slog.String("error", err.Error()))
			o.errorStep(&op, err)
		} else {
			o.completeStep(&op, "")
		}
	}

	op.Done = true
	op.FinishedAt = time.Now().UTC()
	o.put(op)
	o.publishOp(op)
	log.Info("operation completed", slog.String("pool_address", op.PoolAddress))
	return op.clone(), nil
}

// stepsFor returns the pipeline for a request. Cancellations with a
// reason get a trailing save_notes step.
func stepsFor(req Request) []StepName {
	steps := []StepName{StepPrepare, StepSign, StepConfirm, StepPersist}
	if req.Command == domain.CommandCancel && req.Reason != "" {
		steps = append(steps, StepSaveNotes)
	}
	return steps
}

// prepare validates the request against the lifecycle table. Nothing
// reaches the chain when prepare fails.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (domain.Prediction, lifecycle.Transition, error) {
	if req.Command == domain.CommandSetWinner && !req.Winner.Valid() {
		return domain.Prediction{}, lifecycle.Transition{}, fmt.Errorf("orchestrator: set_winner needs a yes/no winner: %w", domain.ErrInvalidCommand)
	}

	pred, err := o.predictions.GetByID(ctx, req.PredictionID)
	if err != nil {
		return domain.Prediction{}, lifecycle.Transition{}, fmt.Errorf("orchestrator: load prediction %s: %w", req.PredictionID, err)
	}

	transition, err := lifecycle.Check(pred, req.Command)
	if err != nil {
		return domain.Prediction{}, lifecycle.Transition{}, err
	}
	return pred, transition, nil
}

// sign submits the on-chain call for the command. Revert reasons surface
// here verbatim when the node reports them at estimation time.
func (o *Orchestrator) sign(ctx context.Context, pred domain.Prediction, req Request) (string, error) {
	switch req.Command {
	case domain.CommandDeploy:
		return o.contract.CreatePool(ctx, domain.PoolParams{
			Title:       pred.Title,
			Description: pred.Description,
			Category:    pred.Category,
			ClosingDate: pred.ClosingDate,
			ClosingBid:  pred.ClosingBid,
		})
	case domain.CommandStop:
		return o.contract.SetEmergencyStop(ctx, pred.PoolAddress, true)
	case domain.CommandResume:
		return o.contract.SetEmergencyStop(ctx, pred.PoolAddress, false)
	case domain.CommandClose:
		return o.contract.ClosePool(ctx, pred.PoolAddress)
	case domain.CommandReopen:
		return o.contract.ReopenPool(ctx, pred.PoolAddress)
	case domain.CommandSetWinner:
		return o.contract.SetWinner(ctx, pred.PoolAddress, req.Winner)
	case domain.CommandCancel:
		return o.contract.CancelPool(ctx, pred.PoolAddress, req.Reason)
	case domain.CommandRecover:
		return o.contract.RecoverFunds(ctx, pred.PoolAddress)
	}
	return "", fmt.Errorf("orchestrator: command %q: %w", req.Command, domain.ErrInvalidCommand)
}

// persist enqueues the durable job, then attempts the writes inline and
// marks the job done on success.
func (o *Orchestrator) persist(ctx context.Context, req Request, transition lifecycle.Transition, op Operation, outcome domain.TxOutcome) error {
	job := domain.OutboxJob{
		PredictionID: req.PredictionID,
		PoolAddress:  op.PoolAddress,
		ActionType:   req.Command,
		TxHash:       outcome.TxHash,
		AdminAddress: req.AdminAddress,
		AdditionalData: map[string]any{
			"block_number": outcome.BlockNumber,
			"gas_used":     outcome.GasUsed,
		},
	}
	if transition.StatusChanged {
		job.NewStatus = transition.Next
	}
	if req.Command == domain.CommandSetWinner {
		job.AdditionalData["winner"] = string(req.Winner)
	}
	if req.Command == domain.CommandCancel {
		job.AdditionalData["reason"] = req.Reason
	}

	jobID, err := o.jobs.Enqueue(ctx, job)
	if err != nil {
		// No durable fallback; attempt the inline write anyway and report.
		o.logger.Error("enqueue outbox job", slog.String("error", err.Error()))
	}

	if err := outbox.Apply(ctx, o.predictions, o.actions, job); err != nil {
		return err
	}
	if jobID != 0 {
		if err := o.jobs.MarkDone(ctx, jobID); err != nil {
			o.logger.Warn("mark outbox job done", slog.String("error", err.Error()))
		}
	}

	if transition.StatusChanged {
		o.publishStatus(op, transition.Next)
	}
	return nil
}

func (o *Orchestrator) put(op Operation) {
	o.mu.Lock()
	o.ops[op.ID] = op.clone()
	o.mu.Unlock()
}

func (o *Orchestrator) startStep(op *Operation) {
	op.Steps[op.Current].Status = StepLoading
	op.Steps[op.Current].StartedAt = time.Now().UTC()
	o.put(*op)
	o.publishOp(*op)
}

func (o *Orchestrator) completeStep(op *Operation, detail string) {
	op.Steps[op.Current].Status = StepCompleted
	op.Steps[op.Current].Detail = detail
	op.Steps[op.Current].FinishedAt = time.Now().UTC()
	op.Current++
	o.put(*op)
	o.publishOp(*op)
}

func (o *Orchestrator) errorStep(op *Operation, err error) {
	op.Steps[op.Current].Status = StepError
	op.Steps[op.Current].Detail = err.Error()
	op.Steps[op.Current].FinishedAt = time.Now().UTC()
	op.Current++
	o.put(*op)
	o.publishOp(*op)
}

// fail terminates the operation at its current step. No cache mutation
// and no audit row were written; remaining steps stay pending.
func (o *Orchestrator) fail(op *Operation, log *slog.Logger, err error) (Operation, error) {
	op.Steps[op.Current].Status = StepError
	op.Steps[op.Current].Detail = err.Error()
	op.Steps[op.Current].FinishedAt = time.Now().UTC()
	op.Err = err.Error()
	op.Done = true
	op.FinishedAt = time.Now().UTC()
	o.put(*op)
	o.publishOp(*op)
	log.Error("operation failed",
		slog.String("step", string(op.Steps[op.Current].Name)),
		slog.String("error", err.Error()))
	return op.clone(), err
}

func (o *Orchestrator) publishOp(op Operation) {
	payload, err := json.Marshal(op)
	if err != nil {
		return
	}
	if err := o.bus.Publish(context.Background(), domain.ChannelOps, payload); err != nil {
		o.logger.Warn("publish operation event", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) publishStatus(op Operation, status domain.PredictionStatus) {
	ev := domain.StatusEvent{
		PredictionID: op.PredictionID,
		PoolAddress:  op.PoolAddress,
		Status:       string(status),
		Display:      reconcile.CacheDisplay(status).String(),
		Changed:      true,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := o.bus.Publish(context.Background(), domain.ChannelStatus, payload); err != nil {
		o.logger.Warn("publish status event", slog.String("error", err.Error()))
	}
}
