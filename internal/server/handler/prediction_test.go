package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnbpools/poolctl/internal/domain"
)

type stubPredictions struct {
	preds map[string]domain.Prediction
}

func (s *stubPredictions) Create(context.Context, domain.Prediction) error { return nil }
func (s *stubPredictions) Update(context.Context, domain.Prediction) error { return nil }
func (s *stubPredictions) Delete(context.Context, string) error            { return nil }

func (s *stubPredictions) GetByID(_ context.Context, id string) (domain.Prediction, error) {
	p, ok := s.preds[id]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubPredictions) List(context.Context, domain.ListOpts) ([]domain.Prediction, error) {
	return nil, nil
}

func (s *stubPredictions) ListDeployedByStatus(context.Context, ...domain.PredictionStatus) ([]domain.Prediction, error) {
	return nil, nil
}

func (s *stubPredictions) UpdateStatus(context.Context, string, domain.PredictionStatus) error {
	return nil
}

func (s *stubPredictions) SetPoolAddress(context.Context, string, string, domain.PredictionStatus) error {
	return nil
}

func (s *stubPredictions) SaveNotes(context.Context, string, string) error { return nil }

type stubBets struct {
	bets   []domain.Bet
	totals domain.StakeTotals
	stakes map[string]domain.StakeTotals
}

func (s *stubBets) Insert(_ context.Context, b domain.Bet) (int64, error) {
	b.ID = int64(len(s.bets) + 1)
	s.bets = append(s.bets, b)
	return b.ID, nil
}

func (s *stubBets) ListByPrediction(context.Context, string, domain.ListOpts) ([]domain.Bet, error) {
	return s.bets, nil
}

func (s *stubBets) StakeTotals(context.Context, string) (domain.StakeTotals, error) {
	return s.totals, nil
}

func (s *stubBets) UserStake(_ context.Context, _ string, userID string) (domain.StakeTotals, error) {
	return s.stakes[userID], nil
}

type stubContract struct {
	winnerSet bool
	winner    domain.Side
}

func (s *stubContract) CreatePool(context.Context, domain.PoolParams) (string, error) {
	return "", nil
}
func (s *stubContract) SetEmergencyStop(context.Context, string, bool) (string, error) {
	return "", nil
}
func (s *stubContract) ClosePool(context.Context, string) (string, error)  { return "", nil }
func (s *stubContract) ReopenPool(context.Context, string) (string, error) { return "", nil }
func (s *stubContract) SetWinner(context.Context, string, domain.Side) (string, error) {
	return "", nil
}
func (s *stubContract) CancelPool(context.Context, string, string) (string, error) {
	return "", nil
}
func (s *stubContract) RecoverFunds(context.Context, string) (string, error) { return "", nil }
func (s *stubContract) Confirm(context.Context, string) (domain.TxOutcome, error) {
	return domain.TxOutcome{}, nil
}
func (s *stubContract) Flags(context.Context, string) (domain.PoolFlags, error) {
	return domain.PoolFlags{}, nil
}

func (s *stubContract) Winner(context.Context, string) (bool, domain.Side, error) {
	return s.winnerSet, s.winner, nil
}

type stubFlags struct {
	flags map[string]domain.PoolFlags
}

func (s *stubFlags) Set(_ context.Context, addr string, f domain.PoolFlags) error {
	s.flags[addr] = f
	return nil
}

func (s *stubFlags) Get(_ context.Context, addr string) (domain.PoolFlags, error) {
	f, ok := s.flags[addr]
	if !ok {
		return domain.PoolFlags{}, domain.ErrNotFound
	}
	return f, nil
}

type stubNotifier struct {
	events []string
}

func (s *stubNotifier) Notify(_ context.Context, event, _, _ string) error {
	s.events = append(s.events, event)
	return nil
}

type predictionFixture struct {
	preds    *stubPredictions
	bets     *stubBets
	contract *stubContract
	flags    *stubFlags
	notifier *stubNotifier
	mux      *http.ServeMux
}

func newPredictionFixture() *predictionFixture {
	f := &predictionFixture{
		preds:    &stubPredictions{preds: map[string]domain.Prediction{}},
		bets:     &stubBets{stakes: map[string]domain.StakeTotals{}},
		contract: &stubContract{},
		flags:    &stubFlags{flags: map[string]domain.PoolFlags{}},
		notifier: &stubNotifier{},
	}

	h := NewPredictionHandler(
		f.preds, f.bets, f.contract, f.flags, f.notifier,
		slog.New(slog.DiscardHandler),
	)

	f.mux = http.NewServeMux()
	f.mux.HandleFunc("GET /api/predictions/{id}", h.Get)
	f.mux.HandleFunc("GET /api/predictions/{id}/settlement", h.Settlement)
	f.mux.HandleFunc("GET /api/predictions/{id}/claims/{wallet}", h.Claims)
	f.mux.HandleFunc("GET /api/predictions/{id}/bets", h.ListBets)
	f.mux.HandleFunc("POST /api/predictions/{id}/bets", h.PlaceBet)
	return f
}

func (f *predictionFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSettlement_ComputesFigures(t *testing.T) {
	f := newPredictionFixture()
	f.preds.preds["p1"] = domain.Prediction{
		ID: "p1", Status: domain.StatusResolved, PoolAddress: "0x00000000000000000000000000000000000000aa",
	}
	f.contract.winnerSet = true
	f.contract.winner = domain.SideYes
	f.bets.totals = domain.StakeTotals{Yes: dec("60"), No: dec("40")}

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/settlement", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Settleable        bool   `json:"settleable"`
		Winner            string `json:"winner"`
		TotalPot          string `json:"total_pot"`
		Fee               string `json:"fee"`
		NetPot            string `json:"net_pot"`
		TotalWinningStake string `json:"total_winning_stake"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.True(t, resp.Settleable)
	assert.Equal(t, "yes", resp.Winner)
	assert.Equal(t, "100", resp.TotalPot)
	assert.Equal(t, "1.5", resp.Fee)
	assert.Equal(t, "98.5", resp.NetPot)
	assert.Equal(t, "60", resp.TotalWinningStake)
}

func TestSettlement_NoWinningStakeNotifies(t *testing.T) {
	f := newPredictionFixture()
	f.preds.preds["p1"] = domain.Prediction{
		ID: "p1", Status: domain.StatusResolved, PoolAddress: "0x00000000000000000000000000000000000000aa",
	}
	f.contract.winnerSet = true
	f.contract.winner = domain.SideYes
	f.bets.totals = domain.StakeTotals{Yes: decimal.Zero, No: dec("40")}

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/settlement", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Settleable bool `json:"settleable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Settleable)
	assert.Equal(t, []string{"unsettleable"}, f.notifier.events)
}

func TestSettlement_UnresolvedPoolConflicts(t *testing.T) {
	f := newPredictionFixture()
	f.preds.preds["p1"] = domain.Prediction{
		ID: "p1", Status: domain.StatusActive, PoolAddress: "0x00000000000000000000000000000000000000aa",
	}
	f.contract.winnerSet = false

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/settlement", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSettlement_CancelledPoolConflicts(t *testing.T) {
	f := newPredictionFixture()
	f.preds.preds["p1"] = domain.Prediction{
		ID: "p1", Status: domain.StatusCancelled, PoolAddress: "0x00000000000000000000000000000000000000aa",
	}

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/settlement", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSettlement_FlagsCancelledBeforePollerConflicts(t *testing.T) {
	f := newPredictionFixture()
	addr := "0x00000000000000000000000000000000000000aa"
	f.preds.preds["p1"] = domain.Prediction{
		ID: "p1", Status: domain.StatusActive, PoolAddress: addr,
	}
	// The chain cancelled the pool; the poller has not caught up yet.
	f.flags.flags[addr] = domain.PoolFlags{Cancelled: true, ReadAt: time.Now().UTC()}
	f.contract.winnerSet = true
	f.contract.winner = domain.SideYes

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/settlement", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClaims_PayoutForWinningStake(t *testing.T) {
	f := newPredictionFixture()
	f.preds.preds["p1"] = domain.Prediction{
		ID: "p1", Status: domain.StatusResolved, PoolAddress: "0x00000000000000000000000000000000000000aa",
	}
	f.contract.winnerSet = true
	f.contract.winner = domain.SideYes
	f.bets.totals = domain.StakeTotals{Yes: dec("60"), No: dec("40")}
	f.bets.stakes["0xwallet"] = domain.StakeTotals{Yes: dec("30")}

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/claims/0xwallet", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Type   string `json:"type"`
		Amount string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// 30 of the 60 winning stake takes half the 98.5 net pot.
	assert.Equal(t, "payout", resp.Type)
	assert.Equal(t, "49.25", resp.Amount)
}

func TestClaims_RefundWhenCancelled(t *testing.T) {
	f := newPredictionFixture()
	f.preds.preds["p1"] = domain.Prediction{
		ID: "p1", Status: domain.StatusCancelled, PoolAddress: "0x00000000000000000000000000000000000000aa",
	}
	f.bets.stakes["0xwallet"] = domain.StakeTotals{Yes: dec("10"), No: dec("5")}

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/claims/0xwallet", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Type   string `json:"type"`
		Amount string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// Refunds return the exact stake, fee-free.
	assert.Equal(t, "refund", resp.Type)
	assert.Equal(t, "15", resp.Amount)
}

func TestClaims_RefundWhenFlagsCancelledBeforePoller(t *testing.T) {
	f := newPredictionFixture()
	addr := "0x00000000000000000000000000000000000000aa"
	f.preds.preds["p1"] = domain.Prediction{
		ID: "p1", Status: domain.StatusActive, PoolAddress: addr,
	}
	f.flags.flags[addr] = domain.PoolFlags{Cancelled: true, ReadAt: time.Now().UTC()}
	f.bets.stakes["0xwallet"] = domain.StakeTotals{Yes: dec("10"), No: dec("5")}

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/claims/0xwallet", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Type   string `json:"type"`
		Amount string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "refund", resp.Type)
	assert.Equal(t, "15", resp.Amount)
}

func TestPlaceBet_RejectedWhenBettingClosed(t *testing.T) {
	f := newPredictionFixture()
	addr := "0x00000000000000000000000000000000000000aa"
	f.preds.preds["p1"] = domain.Prediction{ID: "p1", Status: domain.StatusActive, PoolAddress: addr}
	f.flags.flags[addr] = domain.PoolFlags{IsOpen: false, ReadAt: time.Now().UTC()}

	rec := f.do(t, http.MethodPost, "/api/predictions/p1/bets",
		`{"user_id":"0xwallet","position":"yes","amount_bnb":"1.5"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, f.bets.bets)
}

func TestPlaceBet_AcceptedWhenOpen(t *testing.T) {
	f := newPredictionFixture()
	addr := "0x00000000000000000000000000000000000000aa"
	f.preds.preds["p1"] = domain.Prediction{ID: "p1", Status: domain.StatusActive, PoolAddress: addr}
	f.flags.flags[addr] = domain.PoolFlags{IsOpen: true, ReadAt: time.Now().UTC()}

	rec := f.do(t, http.MethodPost, "/api/predictions/p1/bets",
		`{"user_id":"0xwallet","position":"no","amount_bnb":"2"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.bets.bets, 1)
	assert.Equal(t, domain.SideNo, f.bets.bets[0].Position)
	assert.True(t, f.bets.bets[0].AmountBNB.Equal(dec("2")))
}

func TestListBets_ReturnsMirror(t *testing.T) {
	f := newPredictionFixture()
	f.preds.preds["p1"] = domain.Prediction{ID: "p1", Status: domain.StatusActive}
	f.bets.bets = []domain.Bet{
		{ID: 1, PredictionID: "p1", UserID: "0xa", Position: domain.SideYes, AmountBNB: dec("1")},
		{ID: 2, PredictionID: "p1", UserID: "0xb", Position: domain.SideNo, AmountBNB: dec("3")},
	}

	rec := f.do(t, http.MethodGet, "/api/predictions/p1/bets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Bets []struct {
			UserID   string `json:"user_id"`
			Position string `json:"position"`
		} `json:"bets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Bets, 2)
	assert.Equal(t, "yes", resp.Bets[0].Position)
	assert.Equal(t, "0xb", resp.Bets[1].UserID)
}
