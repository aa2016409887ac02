// Package service coordinates vault operations: it serializes access with
// distributed locks, runs the accounting engine against loaded snapshots,
// commits the results, and fans events out to the audit log, the signal bus,
// and notification channels.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lhermoso/grid-vault/internal/domain"
	"github.com/lhermoso/grid-vault/internal/vault"
)

// EventChannel is the pub/sub channel and stream name for vault events.
const EventChannel = "vault:events"

// protocolLockKey serializes every mutating operation; they all touch the
// protocol config singleton.
const protocolLockKey = "vault:protocol"

// lockTTL bounds how long a crashed holder can block the protocol.
const lockTTL = 30 * time.Second

// Notifier pushes human-readable alerts for significant vault events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Accounts names the fixed ledger accounts the vault operates.
type Accounts struct {
	Treasury string
	Trading  string
	AdminFee string
}

// VaultService is the application-facing surface of the vault. Handlers and
// the scheduler call it; it owns locking, persistence, and event fan-out.
type VaultService struct {
	store    domain.VaultStore
	ledger   domain.Ledger
	engine   *vault.Engine
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	stats    domain.StatsCache
	notifier Notifier
	logger   *slog.Logger

	accounts     Accounts
	operatorAuth domain.Authority
}

// NewVaultService creates a VaultService with all required dependencies.
// notifier may be nil when no channels are configured.
func NewVaultService(
	store domain.VaultStore,
	ledger domain.Ledger,
	engine *vault.Engine,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	stats domain.StatsCache,
	notifier Notifier,
	accounts Accounts,
	operatorAuth domain.Authority,
	logger *slog.Logger,
) *VaultService {
	return &VaultService{
		store:        store,
		ledger:       ledger,
		engine:       engine,
		locks:        locks,
		bus:          bus,
		audit:        audit,
		stats:        stats,
		notifier:     notifier,
		accounts:     accounts,
		operatorAuth: operatorAuth,
		logger:       logger.With(slog.String("component", "vault_service")),
	}
}

// InitializeProtocol creates the protocol singleton and the vault's ledger
// accounts. It is idempotent on the accounts but fails with ErrAlreadyExists
// when the protocol config already exists.
func (s *VaultService) InitializeProtocol(ctx context.Context, admin, operator string, poolAuthority domain.Authority) (domain.ProtocolConfig, error) {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("vault_service: initialize: %w", err)
	}
	defer unlock()

	cfg := vault.NewProtocolConfig(admin, operator, s.accounts.Treasury)
	if err := s.store.CreateConfig(ctx, cfg); err != nil {
		return domain.ProtocolConfig{}, fmt.Errorf("vault_service: create config: %w", err)
	}

	// Ledger accounts may predate the config (for example after a partial
	// initialization); existing ones are fine.
	for account, authority := range map[string]domain.Authority{
		s.accounts.Treasury: poolAuthority,
		s.accounts.Trading:  s.operatorAuth,
		s.accounts.AdminFee: poolAuthority,
	} {
		if err := s.ledger.CreateAccount(ctx, account, authority); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return domain.ProtocolConfig{}, fmt.Errorf("vault_service: create account %s: %w", account, err)
		}
	}

	s.emit(ctx, domain.EventProtocolInitialized, map[string]any{
		"admin":    admin,
		"operator": operator,
		"fee_bps":  cfg.PerformanceFeeBps,
	})
	s.logger.InfoContext(ctx, "protocol initialized",
		slog.String("admin", admin),
		slog.String("operator", operator),
	)
	return cfg, nil
}

// CreatePosition registers a position for a first-time depositor along with
// their ledger account bound to the given authority.
func (s *VaultService) CreatePosition(ctx context.Context, owner, userAccount string, userAuthority domain.Authority) (domain.UserPosition, error) {
	pos := s.engine.NewUserPosition(owner)
	if err := s.store.CreatePosition(ctx, pos); err != nil {
		return domain.UserPosition{}, fmt.Errorf("vault_service: create position %s: %w", owner, err)
	}
	if err := s.ledger.CreateAccount(ctx, userAccount, userAuthority); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return domain.UserPosition{}, fmt.Errorf("vault_service: create account %s: %w", userAccount, err)
	}

	s.emit(ctx, domain.EventPositionCreated, map[string]any{
		"owner":   owner,
		"account": userAccount,
	})
	return pos, nil
}

// Deposit moves funds from the user's account into the treasury and mints
// shares. A missing position is created on the fly so a first deposit is a
// single call.
func (s *VaultService) Deposit(ctx context.Context, owner, userAccount string, userAuthority domain.Authority, amount, minShares uint64) (domain.DepositEvent, error) {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return domain.DepositEvent{}, fmt.Errorf("vault_service: deposit: %w", err)
	}
	defer unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return domain.DepositEvent{}, fmt.Errorf("vault_service: load config: %w", err)
	}
	pos, err := s.store.GetPosition(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		pos, err = s.CreatePosition(ctx, owner, userAccount, userAuthority)
	}
	if err != nil {
		return domain.DepositEvent{}, fmt.Errorf("vault_service: load position %s: %w", owner, err)
	}

	event, err := s.engine.Deposit(ctx, &cfg, &pos, userAccount, userAuthority, amount, minShares)
	if err != nil {
		return domain.DepositEvent{}, err
	}

	if err := s.commit(ctx, domain.EventDeposit, cfg, pos); err != nil {
		return domain.DepositEvent{}, err
	}

	s.emit(ctx, domain.EventDeposit, map[string]any{
		"user":             event.User,
		"amount":           strconv.FormatUint(event.Amount, 10),
		"shares_minted":    strconv.FormatUint(event.SharesMinted, 10),
		"treasury_balance": strconv.FormatUint(event.TreasuryBalance, 10),
	})
	s.invalidateStats(ctx, owner)
	s.logger.InfoContext(ctx, "deposit",
		slog.String("user", event.User),
		slog.Uint64("amount", event.Amount),
		slog.Uint64("shares_minted", event.SharesMinted),
	)
	return event, nil
}

// Withdraw burns shares and pays the user from the treasury.
func (s *VaultService) Withdraw(ctx context.Context, owner, userAccount string, amount, maxShares uint64) (domain.WithdrawEvent, error) {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return domain.WithdrawEvent{}, fmt.Errorf("vault_service: withdraw: %w", err)
	}
	defer unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return domain.WithdrawEvent{}, fmt.Errorf("vault_service: load config: %w", err)
	}
	pos, err := s.store.GetPosition(ctx, owner)
	if err != nil {
		return domain.WithdrawEvent{}, fmt.Errorf("vault_service: load position %s: %w", owner, err)
	}

	event, err := s.engine.Withdraw(ctx, &cfg, &pos, userAccount, amount, maxShares)
	if err != nil {
		return domain.WithdrawEvent{}, err
	}

	if err := s.commit(ctx, domain.EventWithdraw, cfg, pos); err != nil {
		return domain.WithdrawEvent{}, err
	}

	s.emit(ctx, domain.EventWithdraw, map[string]any{
		"user":             event.User,
		"amount":           strconv.FormatUint(event.Amount, 10),
		"shares_burned":    strconv.FormatUint(event.SharesBurned, 10),
		"remaining_shares": strconv.FormatUint(event.RemainingShares, 10),
	})
	s.invalidateStats(ctx, owner)
	s.logger.InfoContext(ctx, "withdraw",
		slog.String("user", event.User),
		slog.Uint64("amount", event.Amount),
		slog.Uint64("shares_burned", event.SharesBurned),
	)
	return event, nil
}

// DeployCapital moves treasury funds to the trading account for external
// deployment. caller must be the configured operator.
func (s *VaultService) DeployCapital(ctx context.Context, caller string, amount uint64) (domain.CapitalDeployedEvent, error) {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return domain.CapitalDeployedEvent{}, fmt.Errorf("vault_service: deploy: %w", err)
	}
	defer unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return domain.CapitalDeployedEvent{}, fmt.Errorf("vault_service: load config: %w", err)
	}

	event, err := s.engine.DeployCapital(ctx, &cfg, caller, s.accounts.Trading, amount)
	if err != nil {
		return domain.CapitalDeployedEvent{}, err
	}

	if err := s.commit(ctx, domain.EventCapitalDeployed, cfg); err != nil {
		return domain.CapitalDeployedEvent{}, err
	}

	s.emit(ctx, domain.EventCapitalDeployed, map[string]any{
		"amount":             strconv.FormatUint(event.Amount, 10),
		"total_deployed":     strconv.FormatUint(event.TotalDeployed, 10),
		"treasury_remaining": strconv.FormatUint(event.TreasuryRemaining, 10),
	})
	s.invalidateStats(ctx)
	s.notify(ctx, domain.EventCapitalDeployed, "Capital deployed",
		fmt.Sprintf("Deployed %d to the trading account (total out: %d)", event.Amount, event.TotalDeployed))
	s.logger.InfoContext(ctx, "capital deployed",
		slog.Uint64("amount", event.Amount),
		slog.Uint64("total_deployed", event.TotalDeployed),
	)
	return event, nil
}

// ReturnCapital moves funds back from the trading account and recognizes
// profit or loss. caller must be the configured operator.
func (s *VaultService) ReturnCapital(ctx context.Context, caller string, returnedAmount, originalDeployed uint64) (domain.CapitalReturnedEvent, error) {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return domain.CapitalReturnedEvent{}, fmt.Errorf("vault_service: return: %w", err)
	}
	defer unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return domain.CapitalReturnedEvent{}, fmt.Errorf("vault_service: load config: %w", err)
	}

	event, err := s.engine.ReturnCapital(ctx, &cfg, caller, s.accounts.Trading, s.operatorAuth, returnedAmount, originalDeployed)
	if err != nil {
		return domain.CapitalReturnedEvent{}, err
	}

	if err := s.commit(ctx, domain.EventCapitalReturned, cfg); err != nil {
		return domain.CapitalReturnedEvent{}, err
	}

	s.emit(ctx, domain.EventCapitalReturned, map[string]any{
		"returned_amount":   strconv.FormatUint(event.ReturnedAmount, 10),
		"original_deployed": strconv.FormatUint(event.OriginalDeployed, 10),
		"profit_or_loss":    strconv.FormatInt(event.ProfitOrLoss, 10),
		"fee_accrued":       strconv.FormatUint(event.FeeAccrued, 10),
	})
	s.invalidateStats(ctx)
	s.notify(ctx, domain.EventCapitalReturned, "Capital returned",
		fmt.Sprintf("Returned %d against %d deployed (P&L: %d, fee accrued: %d)",
			event.ReturnedAmount, event.OriginalDeployed, event.ProfitOrLoss, event.FeeAccrued))
	s.logger.InfoContext(ctx, "capital returned",
		slog.Uint64("returned", event.ReturnedAmount),
		slog.Int64("profit_or_loss", event.ProfitOrLoss),
		slog.Uint64("fee_accrued", event.FeeAccrued),
	)
	return event, nil
}

// CollectUserFees crystallizes the performance fee for one user. The returned
// event is nil when the user was at or below their high-water mark.
func (s *VaultService) CollectUserFees(ctx context.Context, caller, owner string) (*domain.FeeCollectedEvent, error) {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("vault_service: collect fees: %w", err)
	}
	defer unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault_service: load config: %w", err)
	}
	pos, err := s.store.GetPosition(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("vault_service: load position %s: %w", owner, err)
	}

	event, err := s.engine.CollectUserFees(ctx, &cfg, &pos, caller)
	if err != nil {
		return nil, err
	}

	if err := s.commit(ctx, domain.EventFeeCollected, cfg, pos); err != nil {
		return nil, err
	}

	if event != nil {
		s.emit(ctx, domain.EventFeeCollected, map[string]any{
			"user":           event.User,
			"fee":            strconv.FormatUint(event.Fee, 10),
			"shares_reduced": strconv.FormatUint(event.SharesReduced, 10),
		})
		s.logger.InfoContext(ctx, "user fee collected",
			slog.String("user", event.User),
			slog.Uint64("fee", event.Fee),
		)
	}
	s.invalidateStats(ctx, owner)
	return event, nil
}

// CollectBatchFees crystallizes fees for every eligible position in one
// atomic commit. caller must be the admin or the operator.
func (s *VaultService) CollectBatchFees(ctx context.Context, caller string) (domain.BatchFeeResult, error) {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return domain.BatchFeeResult{}, fmt.Errorf("vault_service: batch fees: %w", err)
	}
	defer unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return domain.BatchFeeResult{}, fmt.Errorf("vault_service: load config: %w", err)
	}

	cutoff := time.Now().UTC().Add(-domain.FeeCollectionInterval)
	eligible, err := s.store.ListFeeEligible(ctx, cutoff)
	if err != nil {
		return domain.BatchFeeResult{}, fmt.Errorf("vault_service: list eligible: %w", err)
	}
	if len(eligible) == 0 {
		return domain.BatchFeeResult{}, nil
	}

	positions := make([]*domain.UserPosition, len(eligible))
	for i := range eligible {
		positions[i] = &eligible[i]
	}

	result, err := s.engine.CollectBatchFees(ctx, &cfg, positions, caller)
	if err != nil {
		return domain.BatchFeeResult{}, err
	}

	if err := s.commit(ctx, domain.EventFeeCollected, cfg, eligible...); err != nil {
		return domain.BatchFeeResult{}, err
	}

	owners := make([]string, len(eligible))
	for i, pos := range eligible {
		owners[i] = pos.Owner
	}
	s.emit(ctx, domain.EventFeeCollected, map[string]any{
		"processed":      result.Processed,
		"skipped":        result.Skipped,
		"total_fees":     strconv.FormatUint(result.TotalFees, 10),
		"shares_reduced": strconv.FormatUint(result.SharesReduced, 10),
	})
	s.invalidateStats(ctx, owners...)
	s.logger.InfoContext(ctx, "batch fees collected",
		slog.Int("processed", result.Processed),
		slog.Int("skipped", result.Skipped),
		slog.Uint64("total_fees", result.TotalFees),
	)
	return result, nil
}

// SweepFees transfers the accumulated fee balance to the admin account.
func (s *VaultService) SweepFees(ctx context.Context, caller string) (domain.FeesSweptEvent, error) {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return domain.FeesSweptEvent{}, fmt.Errorf("vault_service: sweep: %w", err)
	}
	defer unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return domain.FeesSweptEvent{}, fmt.Errorf("vault_service: load config: %w", err)
	}

	event, err := s.engine.SweepFees(ctx, &cfg, caller, s.accounts.AdminFee)
	if err != nil {
		return domain.FeesSweptEvent{}, err
	}

	if err := s.commit(ctx, domain.EventFeesSwept, cfg); err != nil {
		return domain.FeesSweptEvent{}, err
	}

	s.emit(ctx, domain.EventFeesSwept, map[string]any{
		"amount": strconv.FormatUint(event.Amount, 10),
	})
	s.invalidateStats(ctx)
	s.notify(ctx, domain.EventFeesSwept, "Fees swept",
		fmt.Sprintf("Swept %d in accumulated fees to the admin account", event.Amount))
	s.logger.InfoContext(ctx, "fees swept", slog.Uint64("amount", event.Amount))
	return event, nil
}

// SetPaused pauses or unpauses deposits and withdrawals. caller must be the
// admin.
func (s *VaultService) SetPaused(ctx context.Context, caller string, paused bool) error {
	unlock, err := s.locks.Acquire(ctx, protocolLockKey, lockTTL)
	if err != nil {
		return fmt.Errorf("vault_service: set paused: %w", err)
	}
	defer unlock()

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("vault_service: load config: %w", err)
	}

	event := domain.EventProtocolPaused
	if paused {
		err = s.engine.Pause(&cfg, caller)
	} else {
		err = s.engine.Unpause(&cfg, caller)
		event = domain.EventProtocolUnpaused
	}
	if err != nil {
		return err
	}

	if err := s.commit(ctx, event, cfg); err != nil {
		return err
	}

	s.emit(ctx, event, map[string]any{"caller": caller})
	s.invalidateStats(ctx)
	s.logger.WarnContext(ctx, "pause state changed",
		slog.Bool("paused", paused),
		slog.String("caller", caller),
	)
	return nil
}

// UserBalance returns the user's current claim in asset units.
func (s *VaultService) UserBalance(ctx context.Context, owner string) (uint64, error) {
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return 0, fmt.Errorf("vault_service: load config: %w", err)
	}
	pos, err := s.store.GetPosition(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("vault_service: load position %s: %w", owner, err)
	}
	return s.engine.UserBalance(ctx, cfg, pos)
}

// ProtocolStats returns the pool-wide snapshot, served from cache when fresh.
func (s *VaultService) ProtocolStats(ctx context.Context) (domain.ProtocolStats, error) {
	if stats, err := s.stats.GetProtocolStats(ctx); err == nil {
		return stats, nil
	}

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return domain.ProtocolStats{}, fmt.Errorf("vault_service: load config: %w", err)
	}
	stats, err := s.engine.ProtocolStats(ctx, cfg)
	if err != nil {
		return domain.ProtocolStats{}, err
	}

	if err := s.stats.SetProtocolStats(ctx, stats); err != nil {
		s.logger.WarnContext(ctx, "stats cache write failed", slog.String("error", err.Error()))
	}
	return stats, nil
}

// UserStats returns one user's standing, served from cache when fresh.
func (s *VaultService) UserStats(ctx context.Context, owner string) (domain.UserStats, error) {
	if stats, err := s.stats.GetUserStats(ctx, owner); err == nil {
		return stats, nil
	}

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("vault_service: load config: %w", err)
	}
	pos, err := s.store.GetPosition(ctx, owner)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("vault_service: load position %s: %w", owner, err)
	}
	stats, err := s.engine.UserStats(ctx, cfg, pos)
	if err != nil {
		return domain.UserStats{}, err
	}

	if err := s.stats.SetUserStats(ctx, stats); err != nil {
		s.logger.WarnContext(ctx, "stats cache write failed", slog.String("error", err.Error()))
	}
	return stats, nil
}

// GetPosition returns the raw durable position record.
func (s *VaultService) GetPosition(ctx context.Context, owner string) (domain.UserPosition, error) {
	pos, err := s.store.GetPosition(ctx, owner)
	if err != nil {
		return domain.UserPosition{}, fmt.Errorf("vault_service: load position %s: %w", owner, err)
	}
	return pos, nil
}

// ListPositions returns positions with pagination.
func (s *VaultService) ListPositions(ctx context.Context, opts domain.ListOpts) ([]domain.UserPosition, error) {
	positions, err := s.store.ListPositions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("vault_service: list positions: %w", err)
	}
	return positions, nil
}

// Events returns audit log entries with pagination.
func (s *VaultService) Events(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("vault_service: list events: %w", err)
	}
	return entries, nil
}

// commit persists the mutated snapshots. A failure here after a successful
// ledger transfer means funds moved without matching records; that gets a
// loud log and an audit marker for manual reconciliation.
func (s *VaultService) commit(ctx context.Context, event string, cfg domain.ProtocolConfig, positions ...domain.UserPosition) error {
	if err := s.store.Commit(ctx, cfg, positions...); err != nil {
		s.logger.ErrorContext(ctx, "commit failed after ledger transfer",
			slog.String("operation", event),
			slog.String("error", err.Error()),
		)
		if auditErr := s.audit.Log(ctx, "commit_failed", map[string]any{
			"operation": event,
			"error":     err.Error(),
		}); auditErr != nil {
			s.logger.ErrorContext(ctx, "audit log failed", slog.String("error", auditErr.Error()))
		}
		return fmt.Errorf("vault_service: commit %s: %w", event, err)
	}
	return nil
}

// emit writes the audit record and publishes the event to the signal bus,
// both pub/sub and the durable stream. Failures are logged, never propagated;
// the operation itself has already committed.
func (s *VaultService) emit(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}

	payload, _ := json.Marshal(map[string]any{
		"event":  event,
		"detail": detail,
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, EventChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, EventChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// notify sends a best-effort alert; a nil notifier is allowed.
func (s *VaultService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// invalidateStats drops cached snapshots after a mutation.
func (s *VaultService) invalidateStats(ctx context.Context, owners ...string) {
	if err := s.stats.Invalidate(ctx, owners...); err != nil {
		s.logger.WarnContext(ctx, "stats cache invalidation failed", slog.String("error", err.Error()))
	}
}
