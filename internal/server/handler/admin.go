package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// AdminService defines the methods that the admin handler requires from the
// service layer.
type AdminService interface {
	InitializeProtocol(ctx context.Context, admin, operator string, poolAuthority domain.Authority) (domain.ProtocolConfig, error)
	SetPaused(ctx context.Context, caller string, paused bool) error
	Events(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves protocol administration endpoints.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger,
	}
}

// initRequest is the JSON body for protocol initialization.
type initRequest struct {
	Admin         string `json:"admin"`
	Operator      string `json:"operator"`
	PoolAuthority string `json:"pool_authority"`
}

// initResponse reports the initialized protocol parameters. The pool
// authority is deliberately not echoed back.
type initResponse struct {
	Admin             string `json:"admin"`
	Operator          string `json:"operator"`
	Treasury          string `json:"treasury"`
	PerformanceFeeBps uint16 `json:"performance_fee_bps"`
}

// Initialize creates the protocol config and ledger accounts. It can only
// succeed once per deployment.
// POST /api/admin/init
func (h *AdminHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Admin == "" || req.Operator == "" {
		writeError(w, http.StatusBadRequest, "admin and operator are required")
		return
	}

	cfg, err := h.admin.InitializeProtocol(r.Context(), req.Admin, req.Operator, domain.Authority(req.PoolAuthority))
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "initialize protocol", err)
		return
	}

	writeJSON(w, http.StatusCreated, initResponse{
		Admin:             cfg.Admin,
		Operator:          cfg.Operator,
		Treasury:          cfg.Treasury,
		PerformanceFeeBps: cfg.PerformanceFeeBps,
	})
}

// Pause halts deposits and withdrawals.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Unpause resumes deposits and withdrawals.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *AdminHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	if err := h.admin.SetPaused(r.Context(), req.Caller, paused); err != nil {
		writeVaultError(r.Context(), w, h.logger, "set paused", err)
		return
	}

	status := "unpaused"
	if paused {
		status = "paused"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// listEventsResponse wraps the audit log response.
type listEventsResponse struct {
	Events []domain.AuditEntry `json:"events"`
}

// ListEvents returns recent vault events from the audit log.
// GET /api/events?limit=50&offset=0
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.admin.Events(r.Context(), parseListOpts(r))
	if err != nil {
		writeVaultError(r.Context(), w, h.logger, "list events", err)
		return
	}

	if events == nil {
		events = []domain.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}
