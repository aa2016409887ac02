package domain

import "errors"

// Vault operation errors. Every failure aborts the whole operation with zero
// durable-state mutation; callers must resubmit.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity in treasury")
	ErrMathOverflow           = errors.New("math overflow")
	ErrProtocolPaused         = errors.New("protocol is paused")
	ErrSlippageExceeded       = errors.New("slippage exceeded")
	ErrUnauthorizedTradingBot = errors.New("unauthorized trading bot")
	ErrUnauthorizedAdmin      = errors.New("unauthorized admin")
	ErrUnauthorizedCaller     = errors.New("unauthorized caller")
	ErrExceedsMaxDeployment   = errors.New("exceeds maximum deployment allocation")
	ErrFeeCollectionTooSoon   = errors.New("fee collection too soon")
	ErrNoFeesToCollect        = errors.New("no fees to collect")
)

// Infrastructure errors shared by stores, the ledger, and locks.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
)
