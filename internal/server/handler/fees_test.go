package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhermoso/grid-vault/internal/domain"
)

type stubFeeService struct {
	collectEvent *domain.FeeCollectedEvent
	collectErr   error
	batchResult  domain.BatchFeeResult
	batchErr     error
	sweepEvent   domain.FeesSweptEvent
	sweepErr     error
}

func (s *stubFeeService) CollectUserFees(ctx context.Context, caller, owner string) (*domain.FeeCollectedEvent, error) {
	return s.collectEvent, s.collectErr
}

func (s *stubFeeService) CollectBatchFees(ctx context.Context, caller string) (domain.BatchFeeResult, error) {
	return s.batchResult, s.batchErr
}

func (s *stubFeeService) SweepFees(ctx context.Context, caller string) (domain.FeesSweptEvent, error) {
	return s.sweepEvent, s.sweepErr
}

func newFeeHandler(svc *stubFeeService) *FeeHandler {
	return NewFeeHandler(svc, slog.New(slog.DiscardHandler))
}

func TestCollectReturnsEvent(t *testing.T) {
	h := newFeeHandler(&stubFeeService{
		collectEvent: &domain.FeeCollectedEvent{User: "alice", Fee: 18, SharesReduced: 16},
	})

	body := `{"caller":"admin","owner":"alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/fees/collect", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Collect(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fee":18`)
}

func TestCollectBelowMarkReportsNoProfit(t *testing.T) {
	h := newFeeHandler(&stubFeeService{collectEvent: nil})

	body := `{"caller":"admin","owner":"alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/fees/collect", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Collect(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_profit")
}

func TestCollectTooSoonConflicts(t *testing.T) {
	h := newFeeHandler(&stubFeeService{collectErr: domain.ErrFeeCollectionTooSoon})

	body := `{"caller":"alice","owner":"alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/fees/collect", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Collect(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCollectBatchReturnsSummary(t *testing.T) {
	h := newFeeHandler(&stubFeeService{
		batchResult: domain.BatchFeeResult{Processed: 3, Skipped: 1, TotalFees: 54},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/fees/collect-batch", strings.NewReader(`{"caller":"admin"}`))
	rec := httptest.NewRecorder()

	h.CollectBatch(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processed":3`)
	assert.Contains(t, rec.Body.String(), `"total_fees":54`)
}

func TestSweepRequiresCaller(t *testing.T) {
	h := newFeeHandler(&stubFeeService{})

	req := httptest.NewRequest(http.MethodPost, "/api/fees/sweep", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.Sweep(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweepUnauthorizedForbidden(t *testing.T) {
	h := newFeeHandler(&stubFeeService{sweepErr: domain.ErrUnauthorizedAdmin})

	req := httptest.NewRequest(http.MethodPost, "/api/fees/sweep", strings.NewReader(`{"caller":"mallory"}`))
	rec := httptest.NewRecorder()

	h.Sweep(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
