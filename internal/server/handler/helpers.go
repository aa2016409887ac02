package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeVaultError maps domain errors to HTTP status codes. Every handler that
// calls into the vault service shares the same error vocabulary, so the
// mapping lives in one place. Unrecognized errors are logged and returned
// as a generic 500.
func writeVaultError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be greater than zero")
	case errors.Is(err, domain.ErrSlippageExceeded):
		writeError(w, http.StatusUnprocessableEntity, "slippage tolerance exceeded")
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
	case errors.Is(err, domain.ErrInsufficientLiquidity):
		writeError(w, http.StatusUnprocessableEntity, "insufficient treasury liquidity")
	case errors.Is(err, domain.ErrExceedsMaxDeployment):
		writeError(w, http.StatusUnprocessableEntity, "deployment exceeds allocation limit")
	case errors.Is(err, domain.ErrMathOverflow):
		writeError(w, http.StatusUnprocessableEntity, "arithmetic overflow")
	case errors.Is(err, domain.ErrNoFeesToCollect):
		writeError(w, http.StatusUnprocessableEntity, "no fees to collect")
	case errors.Is(err, domain.ErrUnauthorizedAdmin),
		errors.Is(err, domain.ErrUnauthorizedTradingBot),
		errors.Is(err, domain.ErrUnauthorizedCaller),
		errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "caller not authorized")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrProtocolPaused):
		writeError(w, http.StatusConflict, "protocol is paused")
	case errors.Is(err, domain.ErrFeeCollectionTooSoon):
		writeError(w, http.StatusConflict, "fee collection interval has not elapsed")
	case errors.Is(err, domain.ErrLockHeld):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "another operation is in progress")
	default:
		logger.ErrorContext(ctx, "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
