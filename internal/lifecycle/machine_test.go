package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnbpools/poolctl/internal/domain"
)

func pred(status domain.PredictionStatus, deployed bool) domain.Prediction {
	p := domain.Prediction{ID: "p1", Status: status}
	if deployed {
		p.PoolAddress = "0xabc"
	}
	return p
}

func TestCheck_LegalTransitions(t *testing.T) {
	cases := []struct {
		status domain.PredictionStatus
		cmd    domain.AdminCommand
		next   domain.PredictionStatus
	}{
		{domain.StatusActive, domain.CommandStop, domain.StatusPaused},
		{domain.StatusPaused, domain.CommandResume, domain.StatusActive},
		{domain.StatusActive, domain.CommandClose, domain.StatusPaused},
		{domain.StatusPaused, domain.CommandReopen, domain.StatusActive},
		{domain.StatusPaused, domain.CommandSetWinner, domain.StatusResolved},
		{domain.StatusActive, domain.CommandCancel, domain.StatusCancelled},
		{domain.StatusPaused, domain.CommandCancel, domain.StatusCancelled},
	}

	for _, tc := range cases {
		tr, err := Check(pred(tc.status, true), tc.cmd)
		require.NoError(t, err, "%s from %s", tc.cmd, tc.status)
		assert.True(t, tr.StatusChanged)
		assert.Equal(t, tc.next, tr.Next)
	}
}

func TestCheck_Deploy(t *testing.T) {
	tr, err := Check(pred(domain.StatusPending, false), domain.CommandDeploy)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, tr.Next)

	// A deployed prediction cannot be deployed again.
	_, err = Check(pred(domain.StatusPending, true), domain.CommandDeploy)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Lifecycle commands need a deployed pool.
	_, err = Check(pred(domain.StatusActive, false), domain.CommandStop)
	assert.ErrorIs(t, err, domain.ErrPoolNotDeployed)
}

func TestCheck_TerminalStatesAdmitOnlyRecovery(t *testing.T) {
	lifecycleCmds := []domain.AdminCommand{
		domain.CommandDeploy, domain.CommandStop, domain.CommandResume,
		domain.CommandClose, domain.CommandReopen, domain.CommandSetWinner,
		domain.CommandCancel,
	}

	for _, status := range []domain.PredictionStatus{domain.StatusResolved, domain.StatusCancelled} {
		for _, cmd := range lifecycleCmds {
			_, err := Check(pred(status, true), cmd)
			assert.Error(t, err, "%s must be illegal from %s", cmd, status)
		}

		tr, err := Check(pred(status, true), domain.CommandRecover)
		require.NoError(t, err)
		assert.False(t, tr.StatusChanged, "recovery must not change the cached status")
	}
}

func TestCheck_RecoveryOnlyFromTerminal(t *testing.T) {
	for _, status := range []domain.PredictionStatus{
		domain.StatusPending, domain.StatusActive, domain.StatusPaused,
	} {
		_, err := Check(pred(status, true), domain.CommandRecover)
		assert.ErrorIs(t, err, domain.ErrInvalidCommand, "recover from %s", status)
	}
}

// TestNoPathBackToActive walks every reachable status via every legal
// command and asserts a terminal status is never followed by attiva.
func TestNoPathBackToActive(t *testing.T) {
	allCmds := []domain.AdminCommand{
		domain.CommandDeploy, domain.CommandStop, domain.CommandResume,
		domain.CommandClose, domain.CommandReopen, domain.CommandSetWinner,
		domain.CommandCancel, domain.CommandRecover,
	}

	// Breadth-first over (status, deployed) states.
	type state struct {
		status   domain.PredictionStatus
		deployed bool
	}
	seen := map[state]bool{}
	queue := []state{{domain.StatusPending, false}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true

		for _, cmd := range allCmds {
			tr, err := Check(pred(cur.status, cur.deployed), cmd)
			if err != nil {
				continue
			}
			next := cur
			next.deployed = true
			if tr.StatusChanged {
				next.status = tr.Next
			}
			if cur.status.Terminal() {
				assert.True(t, next.status.Terminal(),
					"command %s escapes terminal status %s", cmd, cur.status)
			}
			assert.NotEqual(t, domain.StatusPending, next.status,
				"no transition may re-enter in_attesa (via %s)", cmd)
			queue = append(queue, next)
		}
	}

	// Sanity: both terminal states are reachable.
	assert.True(t, seen[state{domain.StatusResolved, true}])
	assert.True(t, seen[state{domain.StatusCancelled, true}])
}

func TestLookup_UnknownCommand(t *testing.T) {
	_, err := Lookup(domain.AdminCommand("explode"))
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}
