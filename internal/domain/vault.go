// Package domain defines the core types, collaborator contracts, and error
// taxonomy for the grid-vault pooled-fund accounting engine.
package domain

import "time"

// Fee and allocation parameters fixed at protocol initialization.
const (
	// PerformanceFeeBps is the performance fee rate in basis points (25%).
	PerformanceFeeBps uint16 = 2500

	// FeeCollectionInterval is the minimum time between per-user fee
	// crystallizations.
	FeeCollectionInterval = 30 * 24 * time.Hour

	// TradingAllocationBps caps deployable capital at 90% of the treasury;
	// the remaining 10% is a mandatory liquidity reserve for withdrawals.
	TradingAllocationBps uint16 = 9000

	// BpsDenominator is the basis-point scale.
	BpsDenominator uint64 = 10000
)

// ProtocolConfig is the pool-wide durable state. There is exactly one
// instance per deployment; every mutating operation reads it, updates it
// under exclusive access, and commits it back.
type ProtocolConfig struct {
	Admin    string // admin identity
	Operator string // trading-bot identity
	Treasury string // treasury ledger account

	TotalShares          uint64 // ownership units outstanding
	TotalTradingDeployed uint64 // capital currently held externally by the operator
	AccumulatedFees      uint64 // fees owed to admin, not yet swept, in asset units
	PerformanceFeeBps    uint16 // fixed at initialization
	IsPaused             bool   // gates deposit/withdraw only

	LastFeeSweep time.Time // last admin fee sweep
	UpdatedAt    time.Time
}

// UserPosition is the per-depositor durable state. A position is created
// once on first interaction and never deleted; UserShares == 0 marks an
// inactive but valid record.
type UserPosition struct {
	Owner string `json:"owner"`

	DepositedAmount uint64 `json:"deposited_amount"` // lifetime gross deposits, informational
	UserShares      uint64 `json:"user_shares"`      // claim on the pool, in shares
	HighWaterMark   uint64 `json:"high_water_mark"`  // loss-free baseline in asset units, a ratchet

	LastFeeCollection time.Time `json:"last_fee_collection"`
	LifetimeFeesPaid  uint64    `json:"lifetime_fees_paid"`
	CreatedAt         time.Time `json:"created_at"`
}

// Active reports whether the position currently holds any claim on the pool.
func (p UserPosition) Active() bool {
	return p.UserShares > 0
}

// ProtocolStats is a read-only snapshot of pool-wide figures.
type ProtocolStats struct {
	TVL             uint64 `json:"tvl"` // treasury + deployed - accumulated fees
	TreasuryBalance uint64 `json:"treasury_balance"`
	TotalDeployed   uint64 `json:"total_deployed"`
	AccumulatedFees uint64 `json:"accumulated_fees"`
	TotalShares     uint64 `json:"total_shares"`
	IsPaused        bool   `json:"is_paused"`
}

// UserStats is a read-only snapshot of one user's standing in the pool.
type UserStats struct {
	Owner             string    `json:"owner"`
	Balance           uint64    `json:"balance"` // current claim in asset units
	Shares            uint64    `json:"shares"`
	DepositedAmount   uint64    `json:"deposited_amount"`
	HighWaterMark     uint64    `json:"high_water_mark"`
	LifetimeFeesPaid  uint64    `json:"lifetime_fees_paid"`
	LastFeeCollection time.Time `json:"last_fee_collection"`
	FeeEligible       bool      `json:"fee_eligible"`
}
