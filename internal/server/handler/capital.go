package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// CapitalService defines the methods that the capital handler requires from
// the service layer.
type CapitalService interface {
	DeployCapital(ctx context.Context, caller string, amount uint64) (domain.CapitalDeployedEvent, error)
	ReturnCapital(ctx context.Context, caller string, returnedAmount, originalDeployed uint64) (domain.CapitalReturnedEvent, error)
}

// CapitalHandler serves operator capital-movement endpoints.
type CapitalHandler struct {
	capital CapitalService
	logger  *slog.Logger
}

// NewCapitalHandler creates a CapitalHandler with the given service and logger.
func NewCapitalHandler(capital CapitalService, logger *slog.Logger) *CapitalHandler {
	return &CapitalHandler{
		capital: capital,
		logger:  logger,
	}
}

// deployRequest is the JSON body for a capital deployment.
type deployRequest struct {
	Caller string `json:"caller"`
	Amount uint64 `json:"amount"`
}

// Deploy moves treasury capital to the operator's trading account, capped at
// the trading allocation limit.
// POST /api/capital/deploy
func (h *CapitalHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	ev, err := h.capital.DeployCapital(r.Context(), req.Caller, req.Amount)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "deploy capital", err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// returnRequest is the JSON body for a capital return.
type returnRequest struct {
	Caller           string `json:"caller"`
	ReturnedAmount   uint64 `json:"returned_amount"`
	OriginalDeployed uint64 `json:"original_deployed"`
}

// Return moves capital back from the trading account to the treasury and
// accrues the pool-level fee on any profit.
// POST /api/capital/return
func (h *CapitalHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	ev, err := h.capital.ReturnCapital(r.Context(), req.Caller, req.ReturnedAmount, req.OriginalDeployed)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "return capital", err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}
