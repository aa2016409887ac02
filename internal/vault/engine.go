package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// Engine executes vault operations against exclusively-held snapshots of the
// protocol config and user positions. Callers (the service layer) are
// responsible for loading the snapshots under a lock, invoking exactly one
// operation, and committing the mutated records afterwards.
//
// Every operation follows the same shape: read state, validate, compute with
// checked arithmetic, issue the ledger transfer, and only then mutate the
// in-memory records. A failure at any step returns before the first
// mutation, so a failed operation never leaves a half-updated snapshot.
type Engine struct {
	ledger domain.Ledger
	clock  domain.Clock

	// poolAuthority is the capability token for pool-originated transfers:
	// withdrawals, capital deployment, and fee sweeps. It is never presented
	// for user-originated transfers.
	poolAuthority domain.Authority
}

// NewEngine creates an Engine bound to the given ledger, clock, and pool
// signing authority.
func NewEngine(ledger domain.Ledger, clock domain.Clock, poolAuthority domain.Authority) *Engine {
	return &Engine{
		ledger:        ledger,
		clock:         clock,
		poolAuthority: poolAuthority,
	}
}

// NewProtocolConfig builds the protocol singleton as it exists at
// initialization time: no shares, nothing deployed, fee rate fixed.
func NewProtocolConfig(admin, operator, treasury string) domain.ProtocolConfig {
	return domain.ProtocolConfig{
		Admin:             admin,
		Operator:          operator,
		Treasury:          treasury,
		PerformanceFeeBps: domain.PerformanceFeeBps,
	}
}

// NewUserPosition builds an empty position for a first-time depositor.
func (e *Engine) NewUserPosition(owner string) domain.UserPosition {
	now := e.clock.Now()
	return domain.UserPosition{
		Owner:             owner,
		LastFeeCollection: now,
		CreatedAt:         now,
	}
}

// Deposit moves amount from the user's ledger account into the treasury and
// mints shares against the pre-deposit pool value. The first depositor into
// an empty pool sets the unit price 1:1. minShares is the caller's slippage
// floor.
func (e *Engine) Deposit(
	ctx context.Context,
	cfg *domain.ProtocolConfig,
	pos *domain.UserPosition,
	userAccount string,
	userAuthority domain.Authority,
	amount, minShares uint64,
) (domain.DepositEvent, error) {
	if cfg.IsPaused {
		return domain.DepositEvent{}, domain.ErrProtocolPaused
	}
	if amount == 0 {
		return domain.DepositEvent{}, domain.ErrInvalidAmount
	}

	// Price shares against the pool value before this deposit lands, so a
	// deposit cannot dilute itself.
	treasuryBefore, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return domain.DepositEvent{}, fmt.Errorf("vault: read treasury balance: %w", err)
	}
	val, err := Value(*cfg, *pos, treasuryBefore)
	if err != nil {
		return domain.DepositEvent{}, err
	}

	var sharesToMint uint64
	if cfg.TotalShares == 0 {
		sharesToMint = amount
	} else {
		sharesToMint, err = mulDiv(amount, cfg.TotalShares, val.UserValuePool)
		if err != nil {
			return domain.DepositEvent{}, err
		}
	}
	if sharesToMint < minShares {
		return domain.DepositEvent{}, domain.ErrSlippageExceeded
	}

	newDeposited, err := checkedAdd(pos.DepositedAmount, amount)
	if err != nil {
		return domain.DepositEvent{}, err
	}
	newUserShares, err := checkedAdd(pos.UserShares, sharesToMint)
	if err != nil {
		return domain.DepositEvent{}, err
	}
	// A deposit raises the loss-free baseline by exactly what was put in.
	newHWM, err := checkedAdd(pos.HighWaterMark, amount)
	if err != nil {
		return domain.DepositEvent{}, err
	}
	newTotalShares, err := checkedAdd(cfg.TotalShares, sharesToMint)
	if err != nil {
		return domain.DepositEvent{}, err
	}

	if err := e.ledger.Transfer(ctx, userAccount, cfg.Treasury, userAuthority, amount); err != nil {
		return domain.DepositEvent{}, fmt.Errorf("vault: deposit transfer: %w", err)
	}

	pos.DepositedAmount = newDeposited
	pos.UserShares = newUserShares
	pos.HighWaterMark = newHWM
	cfg.TotalShares = newTotalShares

	return domain.DepositEvent{
		User:            pos.Owner,
		Amount:          amount,
		SharesMinted:    sharesToMint,
		TreasuryBalance: treasuryBefore + amount,
		Timestamp:       e.clock.Now(),
	}, nil
}

// Withdraw burns shares worth amount asset units and pays the user out of
// the treasury under the pool authority. Deployed capital is not directly
// withdrawable: the treasury must hold amount in liquid funds even when the
// user's nominal balance covers it. maxShares is the caller's slippage
// ceiling on shares burned.
func (e *Engine) Withdraw(
	ctx context.Context,
	cfg *domain.ProtocolConfig,
	pos *domain.UserPosition,
	userAccount string,
	amount, maxShares uint64,
) (domain.WithdrawEvent, error) {
	if cfg.IsPaused {
		return domain.WithdrawEvent{}, domain.ErrProtocolPaused
	}
	if amount == 0 {
		return domain.WithdrawEvent{}, domain.ErrInvalidAmount
	}

	treasuryBalance, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return domain.WithdrawEvent{}, fmt.Errorf("vault: read treasury balance: %w", err)
	}
	val, err := Value(*cfg, *pos, treasuryBalance)
	if err != nil {
		return domain.WithdrawEvent{}, err
	}
	if amount > val.UserBalance {
		return domain.WithdrawEvent{}, domain.ErrInsufficientBalance
	}
	if amount > treasuryBalance {
		return domain.WithdrawEvent{}, domain.ErrInsufficientLiquidity
	}

	sharesToBurn, err := mulDiv(amount, cfg.TotalShares, val.UserValuePool)
	if err != nil {
		return domain.WithdrawEvent{}, err
	}
	if sharesToBurn > maxShares {
		return domain.WithdrawEvent{}, domain.ErrSlippageExceeded
	}

	originalShares := pos.UserShares
	newUserShares, err := checkedSub(pos.UserShares, sharesToBurn)
	if err != nil {
		return domain.WithdrawEvent{}, err
	}

	// Shrink the high-water mark proportionally so the per-share baseline is
	// preserved; subtracting the withdrawn amount instead would distort
	// future fee charges.
	var newHWM uint64
	if originalShares > 0 {
		newHWM, err = mulDiv(pos.HighWaterMark, newUserShares, originalShares)
		if err != nil {
			return domain.WithdrawEvent{}, err
		}
	}

	newTotalShares, err := checkedSub(cfg.TotalShares, sharesToBurn)
	if err != nil {
		return domain.WithdrawEvent{}, err
	}

	if err := e.ledger.Transfer(ctx, cfg.Treasury, userAccount, e.poolAuthority, amount); err != nil {
		return domain.WithdrawEvent{}, fmt.Errorf("vault: withdraw transfer: %w", err)
	}

	pos.UserShares = newUserShares
	pos.HighWaterMark = newHWM
	cfg.TotalShares = newTotalShares

	return domain.WithdrawEvent{
		User:            pos.Owner,
		Amount:          amount,
		SharesBurned:    sharesToBurn,
		RemainingShares: newUserShares,
		Timestamp:       e.clock.Now(),
	}, nil
}

// DeployCapital moves amount from the treasury to the operator's trading
// account. At most 90% of the current treasury may be deployed; the
// remainder stays liquid for withdrawals. Only the configured operator may
// call this.
func (e *Engine) DeployCapital(
	ctx context.Context,
	cfg *domain.ProtocolConfig,
	caller string,
	tradingAccount string,
	amount uint64,
) (domain.CapitalDeployedEvent, error) {
	if caller != cfg.Operator {
		return domain.CapitalDeployedEvent{}, domain.ErrUnauthorizedTradingBot
	}

	treasuryBalance, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return domain.CapitalDeployedEvent{}, fmt.Errorf("vault: read treasury balance: %w", err)
	}
	maxDeployable, err := mulDiv(treasuryBalance, uint64(domain.TradingAllocationBps), domain.BpsDenominator)
	if err != nil {
		return domain.CapitalDeployedEvent{}, err
	}
	if amount > maxDeployable {
		return domain.CapitalDeployedEvent{}, domain.ErrExceedsMaxDeployment
	}

	newDeployed, err := checkedAdd(cfg.TotalTradingDeployed, amount)
	if err != nil {
		return domain.CapitalDeployedEvent{}, err
	}

	if err := e.ledger.Transfer(ctx, cfg.Treasury, tradingAccount, e.poolAuthority, amount); err != nil {
		return domain.CapitalDeployedEvent{}, fmt.Errorf("vault: deploy transfer: %w", err)
	}

	cfg.TotalTradingDeployed = newDeployed

	return domain.CapitalDeployedEvent{
		Amount:            amount,
		TotalDeployed:     newDeployed,
		TreasuryRemaining: treasuryBalance - amount,
		Timestamp:         e.clock.Now(),
	}, nil
}

// ReturnCapital moves returnedAmount from the operator's trading account
// back to the treasury and retires originalDeployed from the deployed
// ledger, recognizing the difference as profit or loss. Partial returns of a
// larger outstanding deployment are supported. On profit, a provisional
// performance fee accrues at the pool level immediately; it dilutes the
// shareholder value pool until crystallized per user. Losses are absorbed
// proportionally by all shareholders.
func (e *Engine) ReturnCapital(
	ctx context.Context,
	cfg *domain.ProtocolConfig,
	caller string,
	tradingAccount string,
	operatorAuthority domain.Authority,
	returnedAmount, originalDeployed uint64,
) (domain.CapitalReturnedEvent, error) {
	if caller != cfg.Operator {
		return domain.CapitalReturnedEvent{}, domain.ErrUnauthorizedTradingBot
	}
	if originalDeployed > cfg.TotalTradingDeployed {
		return domain.CapitalReturnedEvent{}, domain.ErrInvalidAmount
	}

	newDeployed, err := checkedSub(cfg.TotalTradingDeployed, originalDeployed)
	if err != nil {
		return domain.CapitalReturnedEvent{}, err
	}

	var profitOrLoss int64
	var fee uint64
	newAccumulated := cfg.AccumulatedFees
	if returnedAmount > originalDeployed {
		profit := returnedAmount - originalDeployed
		profitOrLoss = int64(profit)
		fee, err = mulDiv(profit, uint64(cfg.PerformanceFeeBps), domain.BpsDenominator)
		if err != nil {
			return domain.CapitalReturnedEvent{}, err
		}
		newAccumulated, err = checkedAdd(cfg.AccumulatedFees, fee)
		if err != nil {
			return domain.CapitalReturnedEvent{}, err
		}
	} else {
		profitOrLoss = -int64(originalDeployed - returnedAmount)
	}

	if err := e.ledger.Transfer(ctx, tradingAccount, cfg.Treasury, operatorAuthority, returnedAmount); err != nil {
		return domain.CapitalReturnedEvent{}, fmt.Errorf("vault: return transfer: %w", err)
	}

	cfg.TotalTradingDeployed = newDeployed
	cfg.AccumulatedFees = newAccumulated

	treasuryBalance, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return domain.CapitalReturnedEvent{}, fmt.Errorf("vault: read treasury balance: %w", err)
	}

	return domain.CapitalReturnedEvent{
		ReturnedAmount:     returnedAmount,
		OriginalDeployed:   originalDeployed,
		ProfitOrLoss:       profitOrLoss,
		FeeAccrued:         fee,
		NewTreasuryBalance: treasuryBalance,
		Timestamp:          e.clock.Now(),
	}, nil
}

// CollectUserFees crystallizes the performance fee for one user against
// their personal high-water mark. Profit below the mark is never charged;
// the mark is a ratchet and is never written down by unrealized loss. The
// fee converts to shares at the current price and those shares are burned,
// crediting the fee to the pool's accumulated balance. Eligibility requires
// 30 days since the user's last collection. Callable by admin or operator.
//
// The returned event is nil when the user was at or below their mark and no
// fee was charged; last collection time advances either way.
func (e *Engine) CollectUserFees(
	ctx context.Context,
	cfg *domain.ProtocolConfig,
	pos *domain.UserPosition,
	caller string,
) (*domain.FeeCollectedEvent, error) {
	if caller != cfg.Admin && caller != cfg.Operator {
		return nil, domain.ErrUnauthorizedCaller
	}

	now := e.clock.Now()
	if now.Before(pos.LastFeeCollection.Add(domain.FeeCollectionInterval)) {
		return nil, domain.ErrFeeCollectionTooSoon
	}

	treasuryBalance, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return nil, fmt.Errorf("vault: read treasury balance: %w", err)
	}

	event, err := e.crystallize(cfg, pos, treasuryBalance, now)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// CollectBatchFees runs the per-user crystallization over a set of positions
// within one operation. Ineligible users are skipped, never failed; a math
// overflow anywhere aborts the whole batch because the positions share one
// mutable pool accumulator. The treasury balance is read once for the run.
func (e *Engine) CollectBatchFees(
	ctx context.Context,
	cfg *domain.ProtocolConfig,
	positions []*domain.UserPosition,
	caller string,
) (domain.BatchFeeResult, error) {
	if caller != cfg.Admin && caller != cfg.Operator {
		return domain.BatchFeeResult{}, domain.ErrUnauthorizedCaller
	}

	now := e.clock.Now()
	treasuryBalance, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return domain.BatchFeeResult{}, fmt.Errorf("vault: read treasury balance: %w", err)
	}

	var result domain.BatchFeeResult
	for _, pos := range positions {
		if now.Before(pos.LastFeeCollection.Add(domain.FeeCollectionInterval)) {
			result.Skipped++
			continue
		}

		event, err := e.crystallize(cfg, pos, treasuryBalance, now)
		if err != nil {
			return domain.BatchFeeResult{}, fmt.Errorf("vault: batch fee for %s: %w", pos.Owner, err)
		}
		result.Processed++
		if event != nil {
			result.TotalFees += event.Fee
			result.SharesReduced += event.SharesReduced
			result.Collected = append(result.Collected, *event)
		}
	}

	return result, nil
}

// crystallize applies the per-user fee algorithm against the given treasury
// balance, mutating cfg and pos on success. It returns nil when no fee was
// due.
func (e *Engine) crystallize(
	cfg *domain.ProtocolConfig,
	pos *domain.UserPosition,
	treasuryBalance uint64,
	now time.Time,
) (*domain.FeeCollectedEvent, error) {
	val, err := Value(*cfg, *pos, treasuryBalance)
	if err != nil {
		return nil, err
	}

	var profit uint64
	if val.UserBalance > pos.HighWaterMark {
		profit = val.UserBalance - pos.HighWaterMark
	}

	fee, err := mulDiv(profit, uint64(cfg.PerformanceFeeBps), domain.BpsDenominator)
	if err != nil {
		return nil, err
	}

	if fee == 0 {
		pos.LastFeeCollection = now
		return nil, nil
	}

	sharesToReduce, err := mulDiv(fee, cfg.TotalShares, val.UserValuePool)
	if err != nil {
		return nil, err
	}
	newUserShares, err := checkedSub(pos.UserShares, sharesToReduce)
	if err != nil {
		return nil, err
	}
	newLifetime, err := checkedAdd(pos.LifetimeFeesPaid, fee)
	if err != nil {
		return nil, err
	}
	newTotalShares, err := checkedSub(cfg.TotalShares, sharesToReduce)
	if err != nil {
		return nil, err
	}
	newAccumulated, err := checkedAdd(cfg.AccumulatedFees, fee)
	if err != nil {
		return nil, err
	}

	pos.UserShares = newUserShares
	pos.HighWaterMark = val.UserBalance - fee
	pos.LifetimeFeesPaid = newLifetime
	pos.LastFeeCollection = now
	cfg.TotalShares = newTotalShares
	cfg.AccumulatedFees = newAccumulated

	return &domain.FeeCollectedEvent{
		User:          pos.Owner,
		Fee:           fee,
		SharesReduced: sharesToReduce,
		Timestamp:     now,
	}, nil
}

// SweepFees transfers the entire accumulated fee balance from the treasury
// to the admin's account and zeroes it. Admin only; fails with
// ErrNoFeesToCollect when nothing has accrued.
func (e *Engine) SweepFees(
	ctx context.Context,
	cfg *domain.ProtocolConfig,
	caller string,
	adminAccount string,
) (domain.FeesSweptEvent, error) {
	if caller != cfg.Admin {
		return domain.FeesSweptEvent{}, domain.ErrUnauthorizedAdmin
	}
	fees := cfg.AccumulatedFees
	if fees == 0 {
		return domain.FeesSweptEvent{}, domain.ErrNoFeesToCollect
	}

	if err := e.ledger.Transfer(ctx, cfg.Treasury, adminAccount, e.poolAuthority, fees); err != nil {
		return domain.FeesSweptEvent{}, fmt.Errorf("vault: sweep transfer: %w", err)
	}

	now := e.clock.Now()
	cfg.AccumulatedFees = 0
	cfg.LastFeeSweep = now

	return domain.FeesSweptEvent{Amount: fees, Timestamp: now}, nil
}

// Pause rejects further deposits and withdrawals. Fee collection, capital
// lifecycle, and the admin sweep stay available while paused. Admin only.
func (e *Engine) Pause(cfg *domain.ProtocolConfig, caller string) error {
	if caller != cfg.Admin {
		return domain.ErrUnauthorizedAdmin
	}
	cfg.IsPaused = true
	return nil
}

// Unpause re-enables deposits and withdrawals. Admin only.
func (e *Engine) Unpause(cfg *domain.ProtocolConfig, caller string) error {
	if caller != cfg.Admin {
		return domain.ErrUnauthorizedAdmin
	}
	cfg.IsPaused = false
	return nil
}

// UserBalance returns the user's current claim in asset units.
func (e *Engine) UserBalance(ctx context.Context, cfg domain.ProtocolConfig, pos domain.UserPosition) (uint64, error) {
	treasuryBalance, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return 0, fmt.Errorf("vault: read treasury balance: %w", err)
	}
	val, err := Value(cfg, pos, treasuryBalance)
	if err != nil {
		return 0, err
	}
	return val.UserBalance, nil
}

// ProtocolStats returns a pool-wide snapshot.
func (e *Engine) ProtocolStats(ctx context.Context, cfg domain.ProtocolConfig) (domain.ProtocolStats, error) {
	treasuryBalance, err := e.ledger.Balance(ctx, cfg.Treasury)
	if err != nil {
		return domain.ProtocolStats{}, fmt.Errorf("vault: read treasury balance: %w", err)
	}
	val, err := Value(cfg, domain.UserPosition{}, treasuryBalance)
	if err != nil {
		return domain.ProtocolStats{}, err
	}
	return domain.ProtocolStats{
		TVL:             val.UserValuePool,
		TreasuryBalance: treasuryBalance,
		TotalDeployed:   cfg.TotalTradingDeployed,
		AccumulatedFees: cfg.AccumulatedFees,
		TotalShares:     cfg.TotalShares,
		IsPaused:        cfg.IsPaused,
	}, nil
}

// UserStats returns one user's standing, including fee eligibility.
func (e *Engine) UserStats(ctx context.Context, cfg domain.ProtocolConfig, pos domain.UserPosition) (domain.UserStats, error) {
	balance, err := e.UserBalance(ctx, cfg, pos)
	if err != nil {
		return domain.UserStats{}, err
	}
	return domain.UserStats{
		Owner:             pos.Owner,
		Balance:           balance,
		Shares:            pos.UserShares,
		DepositedAmount:   pos.DepositedAmount,
		HighWaterMark:     pos.HighWaterMark,
		LifetimeFeesPaid:  pos.LifetimeFeesPaid,
		LastFeeCollection: pos.LastFeeCollection,
		FeeEligible:       e.FeeEligible(pos),
	}, nil
}

// FeeEligible reports whether the 30-day window since the user's last fee
// collection has elapsed.
func (e *Engine) FeeEligible(pos domain.UserPosition) bool {
	return !e.clock.Now().Before(pos.LastFeeCollection.Add(domain.FeeCollectionInterval))
}
