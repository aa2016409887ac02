package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lhermoso/grid-vault/internal/domain"
)

type stubFees struct {
	calls   int
	callers []string
	result  domain.BatchFeeResult
	err     error
}

func (s *stubFees) CollectBatchFees(ctx context.Context, caller string) (domain.BatchFeeResult, error) {
	s.calls++
	s.callers = append(s.callers, caller)
	return s.result, s.err
}

type stubLocks struct {
	held     bool
	acquired []string
}

func (s *stubLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if s.held {
		return nil, domain.ErrLockHeld
	}
	s.acquired = append(s.acquired, key)
	return func() {}, nil
}

type stubArchiver struct {
	calls  int
	cutoff time.Time
	count  int
}

func (s *stubArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int, error) {
	s.calls++
	s.cutoff = before
	return s.count, nil
}

func testConfig() Config {
	return Config{
		FeeCollectionCron:    "0 4 * * *",
		ArchiveCron:          "0 3 1 * *",
		ArchiveRetentionDays: 90,
		LockTTL:              2 * time.Minute,
		Caller:               "admin",
	}
}

func TestRegisterAcceptsConfiguredSchedules(t *testing.T) {
	s := New(testConfig(), &stubFees{}, &stubArchiver{}, &stubLocks{}, slog.New(slog.DiscardHandler))
	require.NoError(t, s.Register())
}

func TestRegisterRejectsBadCron(t *testing.T) {
	cfg := testConfig()
	cfg.FeeCollectionCron = "not a cron"
	s := New(cfg, &stubFees{}, nil, &stubLocks{}, slog.New(slog.DiscardHandler))
	assert.Error(t, s.Register())
}

func TestFeeCollectionRunsUnderLock(t *testing.T) {
	fees := &stubFees{result: domain.BatchFeeResult{Processed: 2}}
	locks := &stubLocks{}
	s := New(testConfig(), fees, nil, locks, slog.New(slog.DiscardHandler))

	s.RunFeeCollectionNow()

	assert.Equal(t, 1, fees.calls)
	assert.Equal(t, []string{"admin"}, fees.callers)
	assert.Equal(t, []string{feeLockKey}, locks.acquired)
}

func TestFeeCollectionSkipsWhenLockHeld(t *testing.T) {
	fees := &stubFees{}
	s := New(testConfig(), fees, nil, &stubLocks{held: true}, slog.New(slog.DiscardHandler))

	s.RunFeeCollectionNow()

	assert.Zero(t, fees.calls)
}

func TestArchiveUsesRetentionCutoff(t *testing.T) {
	arch := &stubArchiver{count: 10}
	s := New(testConfig(), &stubFees{}, arch, &stubLocks{}, slog.New(slog.DiscardHandler))

	s.runArchive()

	require.Equal(t, 1, arch.calls)
	wantCutoff := time.Now().UTC().AddDate(0, 0, -90)
	assert.WithinDuration(t, wantCutoff, arch.cutoff, time.Minute)
}
