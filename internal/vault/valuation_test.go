package vault

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lhermoso/grid-vault/internal/domain"
)

func TestValueEmptyPool(t *testing.T) {
	cfg := domain.ProtocolConfig{}
	pos := domain.UserPosition{UserShares: 500} // stale fields must not matter

	val, err := Value(cfg, pos, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(0), val.UserBalance)
	require.Equal(t, uint64(1000), val.UserValuePool)
	require.Equal(t, uint64(1000), val.TotalValue)
}

func TestValueProportionalClaim(t *testing.T) {
	cfg := domain.ProtocolConfig{
		TotalShares:          1000,
		TotalTradingDeployed: 900,
		AccumulatedFees:      25,
	}
	pos := domain.UserPosition{UserShares: 250}

	// total value 100 + 900 = 1000, pool 975, claim 250/1000 of it.
	val, err := Value(cfg, pos, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), val.TotalValue)
	require.Equal(t, uint64(975), val.UserValuePool)
	require.Equal(t, uint64(243), val.UserBalance) // floor(250*975/1000)
}

func TestValueTotalValueOverflow(t *testing.T) {
	cfg := domain.ProtocolConfig{TotalTradingDeployed: math.MaxUint64}
	_, err := Value(cfg, domain.UserPosition{}, 1)
	require.ErrorIs(t, err, domain.ErrMathOverflow)
}

func TestValueFeesExceedTrackedValue(t *testing.T) {
	// Accumulated fees above the tracked pool value signals corruption.
	cfg := domain.ProtocolConfig{AccumulatedFees: 1001, TotalShares: 10}
	_, err := Value(cfg, domain.UserPosition{UserShares: 10}, 1000)
	require.ErrorIs(t, err, domain.ErrMathOverflow)
}

func TestValueLargePoolUses128BitIntermediate(t *testing.T) {
	// user_shares * user_value_pool overflows 64 bits; the quotient fits.
	cfg := domain.ProtocolConfig{TotalShares: math.MaxUint64 / 2}
	pos := domain.UserPosition{UserShares: math.MaxUint64 / 4}

	val, err := Value(cfg, pos, math.MaxUint64/2)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64/4), val.UserBalance)
}
