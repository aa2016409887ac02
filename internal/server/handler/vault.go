package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// VaultService defines the methods that the vault handler requires from the
// service layer.
type VaultService interface {
	Deposit(ctx context.Context, owner, userAccount string, userAuthority domain.Authority, amount, minShares uint64) (domain.DepositEvent, error)
	Withdraw(ctx context.Context, owner, userAccount string, amount, maxShares uint64) (domain.WithdrawEvent, error)
	CreatePosition(ctx context.Context, owner, userAccount string, userAuthority domain.Authority) (domain.UserPosition, error)
	UserBalance(ctx context.Context, owner string) (uint64, error)
	ProtocolStats(ctx context.Context) (domain.ProtocolStats, error)
	UserStats(ctx context.Context, owner string) (domain.UserStats, error)
	GetPosition(ctx context.Context, owner string) (domain.UserPosition, error)
	ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.UserPosition, error)
}

// VaultHandler serves depositor-facing vault endpoints.
type VaultHandler struct {
	vault  VaultService
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler with the given service and logger.
func NewVaultHandler(vault VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		vault:  vault,
		logger: logger,
	}
}

// depositRequest is the JSON body for a deposit.
type depositRequest struct {
	Owner     string `json:"owner"`
	Account   string `json:"account"`
	Authority string `json:"authority"`
	Amount    uint64 `json:"amount"`
	MinShares uint64 `json:"min_shares"`
}

// Deposit moves assets from the caller's account into the treasury and mints
// shares against the pre-deposit pool value.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Owner == "" || req.Account == "" {
		writeError(w, http.StatusBadRequest, "owner and account are required")
		return
	}

	ev, err := h.vault.Deposit(r.Context(), req.Owner, req.Account, domain.Authority(req.Authority), req.Amount, req.MinShares)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "deposit", err)
		return
	}

	writeJSON(w, http.StatusCreated, ev)
}

// withdrawRequest is the JSON body for a withdrawal.
type withdrawRequest struct {
	Owner     string `json:"owner"`
	Account   string `json:"account"`
	Amount    uint64 `json:"amount"`
	MaxShares uint64 `json:"max_shares"`
}

// Withdraw burns shares and moves assets from the treasury back to the
// caller's account.
// POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Owner == "" || req.Account == "" {
		writeError(w, http.StatusBadRequest, "owner and account are required")
		return
	}

	ev, err := h.vault.Withdraw(r.Context(), req.Owner, req.Account, req.Amount, req.MaxShares)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// createPositionRequest is the JSON body for an explicit position creation.
type createPositionRequest struct {
	Owner     string `json:"owner"`
	Account   string `json:"account"`
	Authority string `json:"authority"`
}

// CreatePosition registers an empty position for a new depositor. Deposit
// creates positions implicitly; this endpoint exists for clients that want
// the record ahead of funding.
// POST /api/vault/positions
func (h *VaultHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Owner == "" || req.Account == "" {
		writeError(w, http.StatusBadRequest, "owner and account are required")
		return
	}

	pos, err := h.vault.CreatePosition(r.Context(), req.Owner, req.Account, domain.Authority(req.Authority))
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "create position", err)
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.UserPosition `json:"positions"`
}

// ListPositions returns all depositor positions with pagination.
// GET /api/vault/positions?limit=50&offset=0
func (h *VaultHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.vault.ListPositions(r.Context(), parseListOpts(r))
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "list positions", err)
		return
	}

	if positions == nil {
		positions = []domain.UserPosition{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a single depositor position.
// GET /api/vault/positions/{owner}
func (h *VaultHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing owner")
		return
	}

	pos, err := h.vault.GetPosition(r.Context(), owner)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "get position", err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// balanceResponse wraps the user balance response.
type balanceResponse struct {
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

// GetBalance returns the current asset value of a depositor's shares.
// GET /api/vault/balance/{owner}
func (h *VaultHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing owner")
		return
	}

	balance, err := h.vault.UserBalance(r.Context(), owner)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Owner: owner, Balance: balance})
}

// GetProtocolStats returns pool-wide figures.
// GET /api/vault/stats
func (h *VaultHandler) GetProtocolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.vault.ProtocolStats(r.Context())
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "protocol stats", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetUserStats returns one depositor's standing in the pool.
// GET /api/vault/users/{owner}/stats
func (h *VaultHandler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing owner")
		return
	}

	stats, err := h.vault.UserStats(r.Context(), owner)
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "user stats", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
