package domain

import (
	"context"
	"time"
)

// Authority is an opaque capability token authorizing transfers out of a
// ledger account. The engine holds the pool's authority and presents it only
// for pool-originated transfers (withdrawals, operator payouts, fee sweeps);
// user-originated transfers present the caller's own authority.
type Authority string

// Ledger moves value between accounts. A transfer either moves exactly
// amount or fails with no effect; there are no partial transfers.
type Ledger interface {
	// CreateAccount registers an account with the authority that may debit it.
	CreateAccount(ctx context.Context, account string, authority Authority) error

	// Transfer debits from and credits to atomically. It fails with
	// ErrUnauthorized when authority does not control from, and with
	// ErrInsufficientBalance when from holds less than amount.
	Transfer(ctx context.Context, from, to string, authority Authority, amount uint64) error

	// Balance returns the current balance of account.
	Balance(ctx context.Context, account string) (uint64, error)
}

// Clock supplies the current time. Operations read it exactly once so that
// every timestamp within one operation is consistent.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used outside tests.
type SystemClock struct{}

// Now returns the current UTC time truncated to whole seconds, matching the
// resolution of the persisted timestamps.
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
