package vault

import (
	"github.com/lhermoso/grid-vault/internal/domain"
)

// Valuation is a point-in-time view of one position's claim on the pool.
type Valuation struct {
	// UserBalance is the position's current claim in asset units.
	UserBalance uint64
	// UserValuePool is the pool value attributable to shareholders:
	// treasury + deployed capital - accumulated fees.
	UserValuePool uint64
	// TotalValue is treasury + deployed capital.
	TotalValue uint64
}

// Value computes a user's current claim given the pool state and the raw
// treasury balance. It is pure and side-effect free; every mutating
// operation derives its share math from this single function.
//
// With no shares outstanding the claim is zero regardless of position
// fields. AccumulatedFees exceeding the tracked pool value signals state
// corruption and fails with ErrMathOverflow.
func Value(cfg domain.ProtocolConfig, pos domain.UserPosition, treasuryBalance uint64) (Valuation, error) {
	totalValue, err := checkedAdd(treasuryBalance, cfg.TotalTradingDeployed)
	if err != nil {
		return Valuation{}, err
	}
	userValuePool, err := checkedSub(totalValue, cfg.AccumulatedFees)
	if err != nil {
		return Valuation{}, err
	}

	if cfg.TotalShares == 0 {
		return Valuation{UserBalance: 0, UserValuePool: userValuePool, TotalValue: totalValue}, nil
	}

	userBalance, err := mulDiv(pos.UserShares, userValuePool, cfg.TotalShares)
	if err != nil {
		return Valuation{}, err
	}

	return Valuation{
		UserBalance:   userBalance,
		UserValuePool: userValuePool,
		TotalValue:    totalValue,
	}, nil
}
