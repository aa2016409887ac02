package domain

import "time"

// Event names recorded in the audit log and published on the signal bus.
const (
	EventDeposit             = "deposit"
	EventWithdraw            = "withdraw"
	EventCapitalDeployed     = "capital_deployed"
	EventCapitalReturned     = "capital_returned"
	EventFeeCollected        = "fee_collected"
	EventFeesSwept           = "fees_swept"
	EventProtocolPaused      = "protocol_paused"
	EventProtocolUnpaused    = "protocol_unpaused"
	EventPositionCreated     = "position_created"
	EventProtocolInitialized = "protocol_initialized"
)

// DepositEvent is emitted after a successful deposit.
type DepositEvent struct {
	User            string    `json:"user"`
	Amount          uint64    `json:"amount"`
	SharesMinted    uint64    `json:"shares_minted"`
	TreasuryBalance uint64    `json:"treasury_balance"`
	Timestamp       time.Time `json:"timestamp"`
}

// WithdrawEvent is emitted after a successful withdrawal.
type WithdrawEvent struct {
	User            string    `json:"user"`
	Amount          uint64    `json:"amount"`
	SharesBurned    uint64    `json:"shares_burned"`
	RemainingShares uint64    `json:"remaining_shares"`
	Timestamp       time.Time `json:"timestamp"`
}

// CapitalDeployedEvent is emitted when the operator deploys treasury capital.
type CapitalDeployedEvent struct {
	Amount            uint64    `json:"amount"`
	TotalDeployed     uint64    `json:"total_deployed"`
	TreasuryRemaining uint64    `json:"treasury_remaining"`
	Timestamp         time.Time `json:"timestamp"`
}

// CapitalReturnedEvent is emitted when the operator returns deployed capital.
// ProfitOrLoss is returned minus originally deployed and may be negative.
type CapitalReturnedEvent struct {
	ReturnedAmount     uint64    `json:"returned_amount"`
	OriginalDeployed   uint64    `json:"original_deployed"`
	ProfitOrLoss       int64     `json:"profit_or_loss"`
	FeeAccrued         uint64    `json:"fee_accrued"`
	NewTreasuryBalance uint64    `json:"new_treasury_balance"`
	Timestamp          time.Time `json:"timestamp"`
}

// FeeCollectedEvent is emitted per user when a performance fee crystallizes.
type FeeCollectedEvent struct {
	User          string    `json:"user"`
	Fee           uint64    `json:"fee"`
	SharesReduced uint64    `json:"shares_reduced"`
	Timestamp     time.Time `json:"timestamp"`
}

// FeesSweptEvent is emitted when the admin sweeps accumulated fees.
type FeesSweptEvent struct {
	Amount    uint64    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchFeeResult summarizes one batch fee-collection run.
type BatchFeeResult struct {
	Processed     int                 `json:"processed"`
	Skipped       int                 `json:"skipped"`
	TotalFees     uint64              `json:"total_fees"`
	SharesReduced uint64              `json:"shares_reduced"`
	Collected     []FeeCollectedEvent `json:"collected,omitempty"`
}
