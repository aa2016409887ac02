package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// FeeService defines the methods that the fee handler requires from the
// service layer.
type FeeService interface {
	CollectUserFees(ctx context.Context, caller, owner string) (*domain.FeeCollectedEvent, error)
	CollectBatchFees(ctx context.Context, caller string) (domain.BatchFeeResult, error)
	SweepFees(ctx context.Context, caller string) (domain.FeesSweptEvent, error)
}

// FeeHandler serves performance-fee endpoints.
type FeeHandler struct {
	fees   FeeService
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler with the given service and logger.
func NewFeeHandler(fees FeeService, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{
		fees:   fees,
		logger: logger,
	}
}

// collectRequest is the JSON body for a single-user fee collection.
type collectRequest struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
}

// Collect crystallizes the performance fee for one depositor.
// POST /api/fees/collect
func (h *FeeHandler) Collect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Caller == "" || req.Owner == "" {
		writeError(w, http.StatusBadRequest, "caller and owner are required")
		return
	}

	ev, err := h.fees.CollectUserFees(r.Context(), req.Caller, req.Owner)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "collect fees", err)
		return
	}

	if ev == nil {
		// Below the high-water mark: nothing charged, timestamp refreshed.
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_profit"})
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// callerRequest is the JSON body for operations that only identify a caller.
type callerRequest struct {
	Caller string `json:"caller"`
}

// CollectBatch crystallizes fees for every eligible depositor in one pass.
// POST /api/fees/collect-batch
func (h *FeeHandler) CollectBatch(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	result, err := h.fees.CollectBatchFees(r.Context(), req.Caller)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "collect batch fees", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Sweep transfers accumulated fees from the treasury to the admin account.
// POST /api/fees/sweep
func (h *FeeHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	ev, err := h.fees.SweepFees(r.Context(), req.Caller)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "sweep fees", err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}
