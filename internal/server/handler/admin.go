package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bnbpools/poolctl/internal/domain"
	"github.com/bnbpools/poolctl/internal/orchestrator"
	"github.com/bnbpools/poolctl/internal/server/middleware"
)

// OperationRunner is the slice of the orchestrator the admin handler uses.
type OperationRunner interface {
	Begin(ctx context.Context, req orchestrator.Request) (orchestrator.Operation, error)
	Get(id string) (orchestrator.Operation, bool)
}

// AdminHandler serves the operator endpoints: prediction CRUD, lifecycle
// commands, the operation registry, and the audit trail.
type AdminHandler struct {
	predictions domain.PredictionStore
	actions     domain.AdminActionStore
	runner      OperationRunner
	logger      *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(predictions domain.PredictionStore, actions domain.AdminActionStore, runner OperationRunner, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		predictions: predictions,
		actions:     actions,
		runner:      runner,
		logger:      logger,
	}
}

// predictionRequest carries the editorial fields of a prediction.
type predictionRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ClosingDate time.Time `json:"closing_date"`
	ClosingBid  time.Time `json:"closing_bid"`
	Notes       string    `json:"notes"`
}

func (pr predictionRequest) validate() string {
	switch {
	case pr.Title == "":
		return "title is required"
	case pr.ClosingDate.IsZero() || pr.ClosingBid.IsZero():
		return "closing_date and closing_bid are required"
	case !pr.ClosingDate.Before(pr.ClosingBid):
		return "closing_date must be before closing_bid"
	}
	return ""
}

// Create registers a prediction draft. The pool is deployed separately.
// POST /api/admin/predictions
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if !req.ClosingDate.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "closing_date must be in the future")
		return
	}

	p := domain.Prediction{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		ClosingDate: req.ClosingDate,
		ClosingBid:  req.ClosingBid,
		Status:      domain.StatusPending,
		Notes:       req.Notes,
	}
	if err := h.predictions.Create(r.Context(), p); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create prediction failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create prediction")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     p.ID,
		"status": string(p.Status),
	})
}

// Update rewrites the editorial fields. Status and pool address are not
// editable here.
// PUT /api/admin/predictions/{id}
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req predictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p, err := h.predictions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	p.Title = req.Title
	p.Description = req.Description
	p.Category = req.Category
	p.ClosingDate = req.ClosingDate
	p.ClosingBid = req.ClosingBid
	p.Notes = req.Notes

	if err := h.predictions.Update(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Delete removes an undeployed draft. A deployed prediction mirrors an
// on-chain pool and cannot be deleted.
// DELETE /api/admin/predictions/{id}
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	p, err := h.predictions.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if p.Deployed() {
		writeError(w, http.StatusConflict, "prediction has a deployed pool and cannot be deleted")
		return
	}

	if err := h.predictions.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Lifecycle command endpoints. Each starts an asynchronous operation and
// returns its registry snapshot for polling.

// Deploy creates the on-chain pool.
// POST /api/admin/predictions/{id}/deploy
func (h *AdminHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, orchestrator.Request{Command: domain.CommandDeploy})
}

// Stop raises the emergency stop.
// POST /api/admin/predictions/{id}/stop
func (h *AdminHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, orchestrator.Request{Command: domain.CommandStop})
}

// Resume clears the emergency stop.
// POST /api/admin/predictions/{id}/resume
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, orchestrator.Request{Command: domain.CommandResume})
}

// Close administratively closes betting.
// POST /api/admin/predictions/{id}/close
func (h *AdminHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, orchestrator.Request{Command: domain.CommandClose})
}

// Reopen reverses an administrative close.
// POST /api/admin/predictions/{id}/reopen
func (h *AdminHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, orchestrator.Request{Command: domain.CommandReopen})
}

// SetWinner resolves the pool.
// POST /api/admin/predictions/{id}/winner  body: {"side":"yes"}
func (h *AdminHandler) SetWinner(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Side string `json:"side"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	side := domain.Side(body.Side)
	if !side.Valid() {
		writeError(w, http.StatusBadRequest, "side must be yes or no")
		return
	}
	h.command(w, r, orchestrator.Request{Command: domain.CommandSetWinner, Winner: side})
}

// Cancel cancels the pool with a reason.
// POST /api/admin/predictions/{id}/cancel  body: {"reason":"..."}
func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	h.command(w, r, orchestrator.Request{Command: domain.CommandCancel, Reason: body.Reason})
}

// Recover sweeps residual funds of a terminal pool.
// POST /api/admin/predictions/{id}/recover
func (h *AdminHandler) Recover(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, orchestrator.Request{Command: domain.CommandRecover})
}

func (h *AdminHandler) command(w http.ResponseWriter, r *http.Request, req orchestrator.Request) {
	req.PredictionID = pathParam(r, "id")
	req.AdminAddress = middleware.AdminAddress(r.Context())

	op, err := h.runner.Begin(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			writeError(w, http.StatusConflict, "another operation is already running against this pool")
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, op)
}

// GetOperation re-reads a registered operation without re-issuing anything.
// GET /api/admin/operations/{id}
func (h *AdminHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, ok := h.runner.Get(pathParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// actionView is the JSON shape of one audit row.
type actionView struct {
	ID             int64          `json:"id"`
	ActionType     string         `json:"action_type"`
	TxHash         string         `json:"tx_hash,omitempty"`
	PoolAddress    string         `json:"pool_address,omitempty"`
	PredictionID   string         `json:"prediction_id,omitempty"`
	AdminAddress   string         `json:"admin_address"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ListActions returns the audit trail, newest first.
// GET /api/admin/actions?limit=50&offset=0&since=...&until=...
func (h *AdminHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	rows, err := h.actions.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list admin actions failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list admin actions")
		return
	}

	views := make([]actionView, 0, len(rows))
	for _, a := range rows {
		views = append(views, actionView{
			ID:             a.ID,
			ActionType:     string(a.ActionType),
			TxHash:         a.TxHash,
			PoolAddress:    a.PoolAddress,
			PredictionID:   a.PredictionID,
			AdminAddress:   a.AdminAddress,
			AdditionalData: a.AdditionalData,
			CreatedAt:      a.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"actions": views,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
