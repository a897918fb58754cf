package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bnbpools/poolctl/internal/domain"
	"github.com/bnbpools/poolctl/internal/notify"
	"github.com/bnbpools/poolctl/internal/reconcile"
	"github.com/bnbpools/poolctl/internal/settlement"
)

// Notifier is the slice of the notification system the handlers use.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// PredictionHandler serves the public prediction endpoints.
type PredictionHandler struct {
	predictions domain.PredictionStore
	bets        domain.BetStore
	contract    domain.PoolContract
	flags       domain.FlagsCache
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewPredictionHandler creates a PredictionHandler. notifier may be nil.
func NewPredictionHandler(predictions domain.PredictionStore, bets domain.BetStore, contract domain.PoolContract, flags domain.FlagsCache, notifier Notifier, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{
		predictions: predictions,
		bets:        bets,
		contract:    contract,
		flags:       flags,
		notifier:    notifier,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// predictionView is the public JSON shape of a prediction, with the
// reconciled display status attached.
type predictionView struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	ClosingDate   time.Time  `json:"closing_date"`
	ClosingBid    time.Time  `json:"closing_bid"`
	Status        string     `json:"status"`
	DisplayStatus string     `json:"display_status"`
	PoolAddress   string     `json:"pool_address,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	FlagsReadAt   *time.Time `json:"flags_read_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// view reconciles the display status from the cached flags, falling back
// to the cached status when no flags are available.
func (h *PredictionHandler) view(ctx context.Context, p domain.Prediction) predictionView {
	v := predictionView{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
		ClosingDate: p.ClosingDate,
		ClosingBid:  p.ClosingBid,
		Status:      string(p.Status),
		PoolAddress: p.PoolAddress,
		Notes:       p.Notes,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}

	var flags *domain.PoolFlags
	if p.Deployed() {
		if f, err := h.flags.Get(ctx, p.PoolAddress); err == nil {
			flags = &f
			v.FlagsReadAt = &f.ReadAt
		}
	}
	v.DisplayStatus = reconcile.Canonical(flags, p, h.now()).String()
	return v
}

// List returns predictions with their reconciled display status.
// GET /api/predictions?limit=50&offset=0
func (h *PredictionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	preds, err := h.predictions.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list predictions failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list predictions")
		return
	}

	views := make([]predictionView, 0, len(preds))
	for _, p := range preds {
		views = append(views, h.view(r.Context(), p))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": views,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}

// Get returns a single prediction.
// GET /api/predictions/{id}
func (h *PredictionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	p, err := h.predictions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "prediction not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get prediction failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get prediction")
		return
	}

	writeJSON(w, http.StatusOK, h.view(r.Context(), p))
}

// Settlement returns the pari-mutuel figures of a resolved pool.
// GET /api/predictions/{id}/settlement
func (h *PredictionHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	p, err := h.predictions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !p.Deployed() {
		writeDomainError(w, domain.ErrPoolNotDeployed)
		return
	}
	if h.cancelled(r.Context(), p) {
		writeError(w, http.StatusConflict, "pool is cancelled; stakes are refunded, not settled")
		return
	}

	set, winner, err := h.contract.Winner(r.Context(), p.PoolAddress)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: winner read failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read pool resolution")
		return
	}
	if !set {
		writeError(w, http.StatusConflict, "pool has no winner set yet")
		return
	}

	totals, err := h.bets.StakeTotals(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: stake totals failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load stake totals")
		return
	}

	s, err := settlement.Compute(totals, winner)
	if err != nil {
		if errors.Is(err, domain.ErrNoWinningStake) {
			h.notifyUnsettleable(r.Context(), p, winner)
			writeJSON(w, http.StatusOK, map[string]any{
				"prediction_id": id,
				"settleable":    false,
				"reason":        "no stake on the winning side; funds recoverable by the operator only",
				"winner":        string(winner),
				"total_pot":     totals.Total(),
			})
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prediction_id":       id,
		"settleable":          true,
		"winner":              string(s.Winner),
		"total_pot":           s.TotalPot,
		"fee_bps":             settlement.FeeBps,
		"fee":                 s.Fee,
		"net_pot":             s.NetPot,
		"total_winning_stake": s.TotalWinningStake,
	})
}

// Claims returns the amount a wallet can withdraw: a pari-mutuel payout
// when resolved, an exact refund when cancelled, zero otherwise.
// GET /api/predictions/{id}/claims/{wallet}
func (h *PredictionHandler) Claims(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	wallet := pathParam(r, "wallet")

	p, err := h.predictions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stake, err := h.bets.UserStake(r.Context(), id, wallet)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: user stake failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load stake")
		return
	}

	resp := map[string]any{
		"prediction_id": id,
		"wallet":        wallet,
		"stake_yes":     stake.Yes,
		"stake_no":      stake.No,
	}

	if h.cancelled(r.Context(), p) {
		resp["type"] = "refund"
		resp["amount"] = settlement.Refund(stake.Total())
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if !p.Deployed() {
		writeDomainError(w, domain.ErrPoolNotDeployed)
		return
	}
	set, winner, err := h.contract.Winner(r.Context(), p.PoolAddress)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read pool resolution")
		return
	}
	if !set {
		writeError(w, http.StatusConflict, "pool is not resolved or cancelled; nothing to claim yet")
		return
	}

	totals, err := h.bets.StakeTotals(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stake totals")
		return
	}

	s, err := settlement.Compute(totals, winner)
	if err != nil {
		if errors.Is(err, domain.ErrNoWinningStake) {
			resp["type"] = "none"
			resp["amount"] = decimal.Zero
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeDomainError(w, err)
		return
	}

	resp["type"] = "payout"
	resp["winner"] = string(winner)
	resp["amount"] = s.Payout(stake.ForSide(winner))
	writeJSON(w, http.StatusOK, resp)
}

// betView is the public JSON shape of one mirrored bet.
type betView struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Position  string          `json:"position"`
	AmountBNB decimal.Decimal `json:"amount_bnb"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListBets returns the mirrored bets of a prediction, oldest first.
// GET /api/predictions/{id}/bets
func (h *PredictionHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	opts := parseListOpts(r)

	if _, err := h.predictions.GetByID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	bets, err := h.bets.ListByPrediction(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bets failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list bets")
		return
	}

	views := make([]betView, 0, len(bets))
	for _, b := range bets {
		views = append(views, betView{
			ID:        b.ID,
			UserID:    b.UserID,
			Position:  string(b.Position),
			AmountBNB: b.AmountBNB,
			CreatedAt: b.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prediction_id": id,
		"bets":          views,
		"limit":         opts.Limit,
		"offset":        opts.Offset,
	})
}

// placeBetRequest mirrors a bet the participant placed on chain.
type placeBetRequest struct {
	UserID    string `json:"user_id"`
	Position  string `json:"position"`
	AmountBNB string `json:"amount_bnb"`
}

// PlaceBet records a bet in the cached mirror. The pool must be open per
// the latest cached flags.
// POST /api/predictions/{id}/bets
func (h *PredictionHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req placeBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	side := domain.Side(req.Position)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "position must be yes or no")
		return
	}
	amount, err := decimal.NewFromString(req.AmountBNB)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount_bnb must be a positive decimal")
		return
	}

	p, err := h.predictions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.betGate(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}

	betID, err := h.bets.Insert(r.Context(), domain.Bet{
		PredictionID: id,
		UserID:       req.UserID,
		Position:     side,
		AmountBNB:    amount,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: insert bet failed",
			slog.String("prediction_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to record bet")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":            betID,
		"prediction_id": id,
		"position":      string(side),
		"amount_bnb":    amount,
	})
}

// betGate rejects mirror writes when the pool is not accepting bets,
// preferring the latest cached flags over the cached status.
func (h *PredictionHandler) betGate(ctx context.Context, p domain.Prediction) error {
	if !p.Deployed() {
		return domain.ErrPoolNotDeployed
	}
	if f, err := h.flags.Get(ctx, p.PoolAddress); err == nil {
		if !f.IsOpen {
			return domain.ErrBettingClosed
		}
		return nil
	}
	// No cached flags yet; fall back to the cached status and time gate.
	if p.Status != domain.StatusActive || !h.now().Before(p.ClosingDate) {
		return domain.ErrBettingClosed
	}
	return nil
}

// cancelled reports whether the pool is cancelled, consulting the latest
// cached flags as well as the cached status. A chain-side cancellation
// the poller has not persisted yet is honored the moment the flags land.
func (h *PredictionHandler) cancelled(ctx context.Context, p domain.Prediction) bool {
	if p.Status == domain.StatusCancelled {
		return true
	}
	if p.Deployed() {
		if f, err := h.flags.Get(ctx, p.PoolAddress); err == nil && f.Cancelled {
			return true
		}
	}
	return false
}

func (h *PredictionHandler) notifyUnsettleable(ctx context.Context, p domain.Prediction, winner domain.Side) {
	if h.notifier == nil {
		return
	}
	err := h.notifier.Notify(ctx, notify.EventUnsettleable,
		"Pool has no winning stake",
		"Prediction "+p.ID+" resolved "+string(winner)+" with zero winning stake; funds need operator recovery")
	if err != nil {
		h.logger.WarnContext(ctx, "notify unsettleable", slog.String("error", err.Error()))
	}
}
