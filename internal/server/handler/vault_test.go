package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// stubVaultService returns canned responses per method.
type stubVaultService struct {
	depositEvent  domain.DepositEvent
	depositErr    error
	withdrawEvent domain.WithdrawEvent
	withdrawErr   error
	position      domain.UserPosition
	positionErr   error
	positions     []domain.UserPosition
	balance       uint64
	balanceErr    error
	protocolStats domain.ProtocolStats
	userStats     domain.UserStats
	userStatsErr  error

	gotOpts domain.ListOpts
}

func (s *stubVaultService) Deposit(ctx context.Context, owner, userAccount string, userAuthority domain.Authority, amount, minShares uint64) (domain.DepositEvent, error) {
	return s.depositEvent, s.depositErr
}

func (s *stubVaultService) Withdraw(ctx context.Context, owner, userAccount string, amount, maxShares uint64) (domain.WithdrawEvent, error) {
	return s.withdrawEvent, s.withdrawErr
}

func (s *stubVaultService) CreatePosition(ctx context.Context, owner, userAccount string, userAuthority domain.Authority) (domain.UserPosition, error) {
	return s.position, s.positionErr
}

func (s *stubVaultService) UserBalance(ctx context.Context, owner string) (uint64, error) {
	return s.balance, s.balanceErr
}

func (s *stubVaultService) ProtocolStats(ctx context.Context) (domain.ProtocolStats, error) {
	return s.protocolStats, nil
}

func (s *stubVaultService) UserStats(ctx context.Context, owner string) (domain.UserStats, error) {
	return s.userStats, s.userStatsErr
}

func (s *stubVaultService) GetPosition(ctx context.Context, owner string) (domain.UserPosition, error) {
	return s.position, s.positionErr
}

func (s *stubVaultService) ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.UserPosition, error) {
	s.gotOpts = opts
	return s.positions, nil
}

func newVaultHandler(svc *stubVaultService) *VaultHandler {
	return NewVaultHandler(svc, slog.New(slog.DiscardHandler))
}

func TestDepositReturnsCreated(t *testing.T) {
	svc := &stubVaultService{
		depositEvent: domain.DepositEvent{
			User:         "alice",
			Amount:       1000,
			SharesMinted: 1000,
			Timestamp:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	h := newVaultHandler(svc)

	body := `{"owner":"alice","account":"acct:alice","authority":"alice-key","amount":1000}`
	req := httptest.NewRequest(http.MethodPost, "/api/vault/deposit", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Deposit(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shares_minted":1000`)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestDepositRejectsBadBody(t *testing.T) {
	h := newVaultHandler(&stubVaultService{})

	req := httptest.NewRequest(http.MethodPost, "/api/vault/deposit", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	h.Deposit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDepositRequiresOwnerAndAccount(t *testing.T) {
	h := newVaultHandler(&stubVaultService{})

	req := httptest.NewRequest(http.MethodPost, "/api/vault/deposit", strings.NewReader(`{"amount":5}`))
	rec := httptest.NewRecorder()

	h.Deposit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "owner and account are required")
}

func TestDepositMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"paused", domain.ErrProtocolPaused, http.StatusConflict},
		{"zero amount", domain.ErrInvalidAmount, http.StatusBadRequest},
		{"slippage", domain.ErrSlippageExceeded, http.StatusUnprocessableEntity},
		{"insufficient balance", domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{"lock held", domain.ErrLockHeld, http.StatusServiceUnavailable},
		{"unauthorized", domain.ErrUnauthorized, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newVaultHandler(&stubVaultService{depositErr: tc.err})

			body := `{"owner":"alice","account":"acct:alice","amount":1000}`
			req := httptest.NewRequest(http.MethodPost, "/api/vault/deposit", strings.NewReader(body))
			rec := httptest.NewRecorder()

			h.Deposit(rec, req)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestWithdrawReturnsEvent(t *testing.T) {
	svc := &stubVaultService{
		withdrawEvent: domain.WithdrawEvent{
			User:         "alice",
			Amount:       400,
			SharesBurned: 400,
		},
	}
	h := newVaultHandler(svc)

	body := `{"owner":"alice","account":"acct:alice","amount":400,"max_shares":500}`
	req := httptest.NewRequest(http.MethodPost, "/api/vault/withdraw", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Withdraw(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"shares_burned":400`)
}

func TestGetPositionNotFound(t *testing.T) {
	h := newVaultHandler(&stubVaultService{positionErr: domain.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/vault/positions/ghost", nil)
	req.SetPathValue("owner", "ghost")
	rec := httptest.NewRecorder()

	h.GetPosition(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBalance(t *testing.T) {
	h := newVaultHandler(&stubVaultService{balance: 1234})

	req := httptest.NewRequest(http.MethodGet, "/api/vault/balance/alice", nil)
	req.SetPathValue("owner", "alice")
	rec := httptest.NewRecorder()

	h.GetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":1234`)
}

func TestListPositionsClampsLimit(t *testing.T) {
	svc := &stubVaultService{}
	h := newVaultHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/vault/positions?limit=9999&offset=10", nil)
	rec := httptest.NewRecorder()

	h.ListPositions(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, svc.gotOpts.Limit)
	assert.Equal(t, 10, svc.gotOpts.Offset)
	assert.Contains(t, rec.Body.String(), `"positions":[]`)
}

func TestGetProtocolStats(t *testing.T) {
	h := newVaultHandler(&stubVaultService{
		protocolStats: domain.ProtocolStats{TVL: 5000, TotalShares: 4000},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/vault/stats", nil)
	rec := httptest.NewRecorder()

	h.GetProtocolStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tvl":5000`)
}
