package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnbpools/poolctl/internal/domain"
)

type fakePredictions struct {
	mu         sync.Mutex
	preds      map[string]domain.Prediction
	statusErr  error
	notesCalls int
}

func newFakePredictions(preds ...domain.Prediction) *fakePredictions {
	m := make(map[string]domain.Prediction, len(preds))
	for _, p := range preds {
		m[p.ID] = p
	}
	return &fakePredictions{preds: m}
}

func (f *fakePredictions) Create(_ context.Context, p domain.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preds[p.ID] = p
	return nil
}

func (f *fakePredictions) Update(_ context.Context, p domain.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preds[p.ID] = p
	return nil
}

func (f *fakePredictions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.preds, id)
	return nil
}

func (f *fakePredictions) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preds[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePredictions) List(context.Context, domain.ListOpts) ([]domain.Prediction, error) {
	return nil, nil
}

func (f *fakePredictions) ListDeployedByStatus(context.Context, ...domain.PredictionStatus) ([]domain.Prediction, error) {
	return nil, nil
}

func (f *fakePredictions) UpdateStatus(_ context.Context, id string, status domain.PredictionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	p, ok := f.preds[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	f.preds[id] = p
	return nil
}

func (f *fakePredictions) SetPoolAddress(_ context.Context, id, addr string, status domain.PredictionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preds[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.PoolAddress = addr
	p.Status = status
	f.preds[id] = p
	return nil
}

func (f *fakePredictions) SaveNotes(_ context.Context, id, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notesCalls++
	p, ok := f.preds[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Notes = notes
	f.preds[id] = p
	return nil
}

func (f *fakePredictions) noteWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notesCalls
}

func (f *fakePredictions) get(id string) domain.Prediction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preds[id]
}

type fakeActions struct {
	mu   sync.Mutex
	rows []domain.AdminAction
}

func (f *fakeActions) Append(_ context.Context, a domain.AdminAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, a)
	return nil
}

func (f *fakeActions) List(context.Context, domain.ListOpts) ([]domain.AdminAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AdminAction(nil), f.rows...), nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]domain.OutboxJob
	done   map[int64]bool
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{jobs: make(map[int64]domain.OutboxJob), done: make(map[int64]bool)}
}

func (f *fakeOutbox) Enqueue(_ context.Context, job domain.OutboxJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	job.ID = f.nextID
	f.jobs[job.ID] = job
	return job.ID, nil
}

func (f *fakeOutbox) Due(context.Context, time.Time, int) ([]domain.OutboxJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []domain.OutboxJob
	for id, j := range f.jobs {
		if !f.done[id] {
			due = append(due, j)
		}
	}
	return due, nil
}

func (f *fakeOutbox) MarkDone(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[id] = true
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id int64, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.jobs[id]
	j.Attempts++
	j.NextAttemptAt = next
	f.jobs[id] = j
	return nil
}

func (f *fakeOutbox) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id := range f.jobs {
		if !f.done[id] {
			n++
		}
	}
	return n
}

type fakeContract struct {
	mu        sync.Mutex
	calls     []string
	signErr   error
	confirmEr error
	poolAddr  string
}

func (f *fakeContract) record(call string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return "", f.signErr
	}
	f.calls = append(f.calls, call)
	return "0xtx" + call, nil
}

func (f *fakeContract) CreatePool(_ context.Context, _ domain.PoolParams) (string, error) {
	return f.record("create")
}

func (f *fakeContract) SetEmergencyStop(_ context.Context, _ string, stop bool) (string, error) {
	if stop {
		return f.record("stop")
	}
	return f.record("resume")
}

func (f *fakeContract) ClosePool(context.Context, string) (string, error)  { return f.record("close") }
func (f *fakeContract) ReopenPool(context.Context, string) (string, error) { return f.record("reopen") }

func (f *fakeContract) SetWinner(_ context.Context, _ string, _ domain.Side) (string, error) {
	return f.record("winner")
}

func (f *fakeContract) CancelPool(_ context.Context, _, _ string) (string, error) {
	return f.record("cancel")
}

func (f *fakeContract) RecoverFunds(context.Context, string) (string, error) {
	return f.record("recover")
}

func (f *fakeContract) Confirm(_ context.Context, txHash string) (domain.TxOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmEr != nil {
		return domain.TxOutcome{}, f.confirmEr
	}
	return domain.TxOutcome{TxHash: txHash, BlockNumber: 42, GasUsed: 21000, PoolAddress: f.poolAddr}, nil
}

func (f *fakeContract) Flags(context.Context, string) (domain.PoolFlags, error) {
	return domain.PoolFlags{}, nil
}

func (f *fakeContract) Winner(context.Context, string) (bool, domain.Side, error) {
	return false, "", nil
}

func (f *fakeContract) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLocks struct {
	held bool
}

func (f *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newFakeBus() *fakeBus { return &fakeBus{payloads: make(map[string][][]byte)} }

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[channel] = append(f.payloads[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type fixture struct {
	orch        *Orchestrator
	predictions *fakePredictions
	actions     *fakeActions
	jobs        *fakeOutbox
	contract    *fakeContract
	locks       *fakeLocks
	bus         *fakeBus
}

func newFixture(preds ...domain.Prediction) *fixture {
	f := &fixture{
		predictions: newFakePredictions(preds...),
		actions:     &fakeActions{},
		jobs:        newFakeOutbox(),
		contract:    &fakeContract{},
		locks:       &fakeLocks{},
		bus:         newFakeBus(),
	}
	f.orch = New(Config{LockTTL: time.Minute},
		f.predictions, f.actions, f.jobs, f.contract, f.locks, f.bus,
		slog.New(slog.DiscardHandler))
	return f
}

func activePrediction(id string) domain.Prediction {
	return domain.Prediction{
		ID:          id,
		Title:       "BNB above 600 by Friday?",
		ClosingDate: time.Now().Add(24 * time.Hour),
		ClosingBid:  time.Now().Add(48 * time.Hour),
		Status:      domain.StatusActive,
		PoolAddress: "0x1111111111111111111111111111111111111111",
	}
}

func TestExecute_StopThenResume(t *testing.T) {
	pred := activePrediction("p1")
	f := newFixture(pred)
	ctx := context.Background()

	op, err := f.orch.Execute(ctx, Request{
		PredictionID: "p1", Command: domain.CommandStop, AdminAddress: "0xadmin",
	})
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.Empty(t, op.Err)
	assert.Equal(t, domain.StatusPaused, f.predictions.get("p1").Status)

	op, err = f.orch.Execute(ctx, Request{
		PredictionID: "p1", Command: domain.CommandResume, AdminAddress: "0xadmin",
	})
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.Equal(t, domain.StatusActive, f.predictions.get("p1").Status)

	// Two operations, exactly two audit rows.
	rows, err := f.actions.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.CommandStop, rows[0].ActionType)
	assert.Equal(t, domain.CommandResume, rows[1].ActionType)
	assert.Equal(t, "0xadmin", rows[0].AdminAddress)

	// Inline persist succeeded, so no jobs are left for the worker.
	assert.Zero(t, f.jobs.pending())
}

func TestExecute_SignErrorWritesNothing(t *testing.T) {
	pred := activePrediction("p1")
	f := newFixture(pred)
	f.contract.signErr = errors.New("execution reverted: Pool already stopped")

	op, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandStop, AdminAddress: "0xadmin",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Pool already stopped")
	assert.True(t, op.Done)
	assert.NotEmpty(t, op.Err)

	// The sign step failed; later steps never ran.
	require.Len(t, op.Steps, 4)
	assert.Equal(t, StepCompleted, op.Steps[0].Status)
	assert.Equal(t, StepError, op.Steps[1].Status)
	assert.Equal(t, StepPending, op.Steps[2].Status)
	assert.Equal(t, StepPending, op.Steps[3].Status)

	// No cache mutation, no audit row, no outbox job.
	assert.Equal(t, domain.StatusActive, f.predictions.get("p1").Status)
	rows, _ := f.actions.List(context.Background(), domain.ListOpts{})
	assert.Empty(t, rows)
	assert.Zero(t, f.jobs.pending())
}

func TestExecute_PrepareRejectsBeforeChain(t *testing.T) {
	pred := activePrediction("p1")
	pred.Status = domain.StatusResolved
	f := newFixture(pred)

	_, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandStop, AdminAddress: "0xadmin",
	})
	require.ErrorIs(t, err, domain.ErrInvalidCommand)
	assert.Zero(t, f.contract.callCount())
}

func TestExecute_PersistFailureIsNonFatal(t *testing.T) {
	pred := activePrediction("p1")
	f := newFixture(pred)
	f.predictions.statusErr = errors.New("connection refused")

	op, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandStop, AdminAddress: "0xadmin",
	})

	// The on-chain effect happened, so the operation itself succeeds.
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.Empty(t, op.Err)
	assert.Equal(t, StepError, op.Steps[3].Status)
	assert.Contains(t, op.Steps[3].Detail, "connection refused")

	// The durable job stays pending for the worker.
	assert.Equal(t, 1, f.jobs.pending())
}

func TestExecute_DeployRecordsPoolAddress(t *testing.T) {
	pred := domain.Prediction{
		ID:          "p1",
		Title:       "BNB above 600 by Friday?",
		ClosingDate: time.Now().Add(24 * time.Hour),
		ClosingBid:  time.Now().Add(48 * time.Hour),
		Status:      domain.StatusPending,
	}
	f := newFixture(pred)
	f.contract.poolAddr = "0x2222222222222222222222222222222222222222"

	op, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandDeploy, AdminAddress: "0xadmin",
	})
	require.NoError(t, err)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", op.PoolAddress)

	got := f.predictions.get("p1")
	assert.Equal(t, "0x2222222222222222222222222222222222222222", got.PoolAddress)
	assert.Equal(t, domain.StatusActive, got.Status)
}

func TestExecute_CancelSavesReason(t *testing.T) {
	pred := activePrediction("p1")
	f := newFixture(pred)

	op, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandCancel,
		Reason: "event postponed", AdminAddress: "0xadmin",
	})
	require.NoError(t, err)
	require.Len(t, op.Steps, 5)
	assert.Equal(t, StepSaveNotes, op.Steps[4].Name)
	assert.Equal(t, StepCompleted, op.Steps[4].Status)

	got := f.predictions.get("p1")
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, "event postponed", got.Notes)
}

func TestExecute_CancelPersistFailureHaltsPipeline(t *testing.T) {
	pred := activePrediction("p1")
	f := newFixture(pred)
	f.predictions.statusErr = errors.New("connection refused")

	op, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandCancel,
		Reason: "event postponed", AdminAddress: "0xadmin",
	})
	require.NoError(t, err)
	require.Len(t, op.Steps, 5)

	// The pipeline halts at the failed persist; save_notes never runs and
	// stays pending. The outbox job carries the reason for the replay.
	assert.Equal(t, StepError, op.Steps[3].Status)
	assert.Equal(t, StepPending, op.Steps[4].Status)
	assert.Zero(t, f.predictions.noteWrites())
	assert.Equal(t, 1, f.jobs.pending())
}

func TestExecute_RecoverLeavesStatus(t *testing.T) {
	pred := activePrediction("p1")
	pred.Status = domain.StatusResolved
	f := newFixture(pred)

	_, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandRecover, AdminAddress: "0xadmin",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, f.predictions.get("p1").Status)
}

func TestExecute_LockHeld(t *testing.T) {
	f := newFixture(activePrediction("p1"))
	f.locks.held = true

	_, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandStop, AdminAddress: "0xadmin",
	})
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, f.contract.callCount())
}

func TestGet_SnapshotIsReReadable(t *testing.T) {
	f := newFixture(activePrediction("p1"))

	op, err := f.orch.Execute(context.Background(), Request{
		PredictionID: "p1", Command: domain.CommandStop, AdminAddress: "0xadmin",
	})
	require.NoError(t, err)

	got, ok := f.orch.Get(op.ID)
	require.True(t, ok)
	assert.True(t, got.Done)
	assert.Equal(t, op.TxHash, got.TxHash)

	// Mutating the returned snapshot must not leak into the registry.
	got.Steps[0].Status = StepError
	again, _ := f.orch.Get(op.ID)
	assert.Equal(t, StepCompleted, again.Steps[0].Status)

	_, ok = f.orch.Get("missing")
	assert.False(t, ok)
}
