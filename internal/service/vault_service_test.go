package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lhermoso/grid-vault/internal/domain"
	"github.com/lhermoso/grid-vault/internal/vault"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type memStore struct {
	mu        sync.Mutex
	cfg       *domain.ProtocolConfig
	positions map[string]domain.UserPosition
	commits   int
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.UserPosition)}
}

func (m *memStore) CreateConfig(_ context.Context, cfg domain.ProtocolConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg != nil {
		return domain.ErrAlreadyExists
	}
	c := cfg
	m.cfg = &c
	return nil
}

func (m *memStore) GetConfig(_ context.Context) (domain.ProtocolConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return domain.ProtocolConfig{}, domain.ErrNotFound
	}
	return *m.cfg, nil
}

func (m *memStore) CreatePosition(_ context.Context, pos domain.UserPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.Owner]; ok {
		return domain.ErrAlreadyExists
	}
	m.positions[pos.Owner] = pos
	return nil
}

func (m *memStore) GetPosition(_ context.Context, owner string) (domain.UserPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[owner]
	if !ok {
		return domain.UserPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (m *memStore) ListPositions(_ context.Context, _ domain.ListOpts) ([]domain.UserPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UserPosition, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (m *memStore) ListFeeEligible(_ context.Context, cutoff time.Time) ([]domain.UserPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.UserPosition
	for _, pos := range m.positions {
		if pos.UserShares > 0 && !pos.LastFeeCollection.After(cutoff) {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memStore) Commit(_ context.Context, cfg domain.ProtocolConfig, positions ...domain.UserPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return domain.ErrNotFound
	}
	c := cfg
	m.cfg = &c
	for _, pos := range positions {
		m.positions[pos.Owner] = pos
	}
	m.commits++
	return nil
}

type memLedger struct {
	mu          sync.Mutex
	balances    map[string]uint64
	authorities map[string]domain.Authority
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances:    make(map[string]uint64),
		authorities: make(map[string]domain.Authority),
	}
}

func (l *memLedger) CreateAccount(_ context.Context, account string, authority domain.Authority) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.authorities[account]; ok {
		return domain.ErrAlreadyExists
	}
	l.authorities[account] = authority
	l.balances[account] = 0
	return nil
}

func (l *memLedger) Transfer(_ context.Context, from, to string, authority domain.Authority, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.authorities[from] != authority {
		return domain.ErrUnauthorized
	}
	if l.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *memLedger) Balance(_ context.Context, account string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[account]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return bal, nil
}

type memLocks struct {
	mu       sync.Mutex
	held     bool
	acquired int
}

func (m *memLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return nil, domain.ErrLockHeld
	}
	m.held = true
	m.acquired++
	return func() {
		m.mu.Lock()
		m.held = false
		m.mu.Unlock()
	}, nil
}

type memBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out, nil
}

func (a *memAudit) byEvent(event string) []domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type memStats struct {
	mu           sync.Mutex
	protocol     *domain.ProtocolStats
	users        map[string]domain.UserStats
	invalidation int
}

func newMemStats() *memStats {
	return &memStats{users: make(map[string]domain.UserStats)}
}

func (s *memStats) SetProtocolStats(_ context.Context, stats domain.ProtocolStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocol = &stats
	return nil
}

func (s *memStats) GetProtocolStats(_ context.Context) (domain.ProtocolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.protocol == nil {
		return domain.ProtocolStats{}, domain.ErrNotFound
	}
	return *s.protocol, nil
}

func (s *memStats) SetUserStats(_ context.Context, stats domain.UserStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[stats.Owner] = stats
	return nil
}

func (s *memStats) GetUserStats(_ context.Context, owner string) (domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.users[owner]
	if !ok {
		return domain.UserStats{}, domain.ErrNotFound
	}
	return stats, nil
}

func (s *memStats) Invalidate(_ context.Context, owners ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocol = nil
	for _, owner := range owners {
		delete(s.users, owner)
	}
	s.invalidation++
	return nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

const (
	svcAdmin    = "admin-1"
	svcOperator = "bot-1"
	svcUser     = "alice"
	svcUserAcct = "acct:alice"

	svcPoolAuth domain.Authority = "auth:pool"
	svcOpAuth   domain.Authority = "auth:bot"
	svcUserAuth domain.Authority = "auth:alice"
)

var svcAccounts = Accounts{
	Treasury: "vault:treasury",
	Trading:  "vault:trading",
	AdminFee: "vault:admin-fees",
}

type fixture struct {
	svc    *VaultService
	store  *memStore
	ledger *memLedger
	locks  *memLocks
	bus    *memBus
	audit  *memAudit
	stats  *memStats
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	ledger := newMemLedger()
	locks := &memLocks{}
	bus := &memBus{}
	audit := &memAudit{}
	stats := newMemStats()

	engine := vault.NewEngine(ledger, domain.SystemClock{}, svcPoolAuth)
	logger := slog.New(slog.DiscardHandler)

	svc := NewVaultService(store, ledger, engine, locks, bus, audit, stats, nil,
		svcAccounts, svcOpAuth, logger)

	f := &fixture{svc: svc, store: store, ledger: ledger, locks: locks, bus: bus, audit: audit, stats: stats}

	_, err := svc.InitializeProtocol(context.Background(), svcAdmin, svcOperator, svcPoolAuth)
	require.NoError(t, err)

	// Fund the depositor's account.
	require.NoError(t, ledger.CreateAccount(context.Background(), svcUserAcct, svcUserAuth))
	ledger.balances[svcUserAcct] = 10_000

	return f
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestInitializeProtocolIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InitializeProtocol(ctx, svcAdmin, svcOperator, svcPoolAuth)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Accounts were created once.
	require.Contains(t, f.ledger.authorities, svcAccounts.Treasury)
	require.Contains(t, f.ledger.authorities, svcAccounts.Trading)
	require.Contains(t, f.ledger.authorities, svcAccounts.AdminFee)

	require.Len(t, f.audit.byEvent(domain.EventProtocolInitialized), 1)
}

func TestDepositCreatesPositionAndCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), evt.SharesMinted)

	// The position was auto-created and the commit persisted the mint.
	pos, err := f.store.GetPosition(ctx, svcUser)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), pos.UserShares)
	require.Equal(t, uint64(1000), f.store.cfg.TotalShares)
	require.Equal(t, uint64(1000), f.ledger.balances[svcAccounts.Treasury])

	require.Len(t, f.audit.byEvent(domain.EventPositionCreated), 1)
	require.Len(t, f.audit.byEvent(domain.EventDeposit), 1)
	require.NotEmpty(t, f.bus.published)
	require.NotEmpty(t, f.bus.streamed)
	require.Greater(t, f.stats.invalidation, 0)
}

func TestDepositRejectedWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.locks.held = true
	_, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 0)
	require.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestEngineRejectionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	commits := f.store.commits
	_, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 0, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	require.Equal(t, commits, f.store.commits)
	require.Empty(t, f.audit.byEvent(domain.EventDeposit))
}

func TestWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 0)
	require.NoError(t, err)

	evt, err := f.svc.Withdraw(ctx, svcUser, svcUserAcct, 400, 400)
	require.NoError(t, err)
	require.Equal(t, uint64(400), evt.SharesBurned)

	pos, err := f.store.GetPosition(ctx, svcUser)
	require.NoError(t, err)
	require.Equal(t, uint64(600), pos.UserShares)
	require.Equal(t, uint64(9400), f.ledger.balances[svcUserAcct])
}

func TestCapitalLifecycleThroughService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 0)
	require.NoError(t, err)

	_, err = f.svc.DeployCapital(ctx, "stranger", 100)
	require.ErrorIs(t, err, domain.ErrUnauthorizedTradingBot)

	dep, err := f.svc.DeployCapital(ctx, svcOperator, 900)
	require.NoError(t, err)
	require.Equal(t, uint64(900), dep.TotalDeployed)
	require.Equal(t, uint64(900), f.ledger.balances[svcAccounts.Trading])

	// Simulate external profit.
	f.ledger.balances[svcAccounts.Trading] += 100

	ret, err := f.svc.ReturnCapital(ctx, svcOperator, 1000, 900)
	require.NoError(t, err)
	require.Equal(t, int64(100), ret.ProfitOrLoss)
	require.Equal(t, uint64(25), ret.FeeAccrued)
	require.Equal(t, uint64(25), f.store.cfg.AccumulatedFees)

	swept, err := f.svc.SweepFees(ctx, svcAdmin)
	require.NoError(t, err)
	require.Equal(t, uint64(25), swept.Amount)
	require.Equal(t, uint64(0), f.store.cfg.AccumulatedFees)
	require.Equal(t, uint64(25), f.ledger.balances[svcAccounts.AdminFee])
}

func TestCollectBatchFeesPersistsEligiblePositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 0)
	require.NoError(t, err)

	// Generate profit above the high-water mark.
	_, err = f.svc.DeployCapital(ctx, svcOperator, 900)
	require.NoError(t, err)
	f.ledger.balances[svcAccounts.Trading] += 100
	_, err = f.svc.ReturnCapital(ctx, svcOperator, 1000, 900)
	require.NoError(t, err)

	// Age the position past the eligibility window.
	pos := f.store.positions[svcUser]
	pos.LastFeeCollection = time.Now().UTC().Add(-domain.FeeCollectionInterval - time.Hour)
	f.store.positions[svcUser] = pos

	result, err := f.svc.CollectBatchFees(ctx, svcOperator)
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, uint64(18), result.TotalFees)

	// The burn was committed.
	persisted := f.store.positions[svcUser]
	require.Equal(t, uint64(984), persisted.UserShares)
	require.Equal(t, uint64(43), f.store.cfg.AccumulatedFees)
}

func TestCollectBatchFeesNoEligibleIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 0)
	require.NoError(t, err)

	commits := f.store.commits
	result, err := f.svc.CollectBatchFees(ctx, svcOperator)
	require.NoError(t, err)
	require.Equal(t, 0, result.Processed)
	require.Equal(t, commits, f.store.commits)
}

func TestSetPausedGatesDeposits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.SetPaused(ctx, svcOperator, true), domain.ErrUnauthorizedAdmin)
	require.NoError(t, f.svc.SetPaused(ctx, svcAdmin, true))

	_, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 0)
	require.ErrorIs(t, err, domain.ErrProtocolPaused)

	require.NoError(t, f.svc.SetPaused(ctx, svcAdmin, false))
	_, err = f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 0)
	require.NoError(t, err)
}

func TestProtocolStatsServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, svcUser, svcUserAcct, svcUserAuth, 1000, 0)
	require.NoError(t, err)

	stats, err := f.svc.ProtocolStats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), stats.TVL)

	// Mutate the store behind the cache; the cached value still wins until
	// invalidation.
	f.store.cfg.AccumulatedFees = 999

	cached, err := f.svc.ProtocolStats(ctx)
	require.NoError(t, err)
	require.Equal(t, stats, cached)
}
