package vault

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lhermoso/grid-vault/internal/domain"
)

func TestCheckedAdd(t *testing.T) {
	sum, err := checkedAdd(1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), sum)

	_, err = checkedAdd(math.MaxUint64, 1)
	require.ErrorIs(t, err, domain.ErrMathOverflow)
}

func TestCheckedSub(t *testing.T) {
	diff, err := checkedSub(5, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), diff)

	_, err = checkedSub(2, 5)
	require.ErrorIs(t, err, domain.ErrMathOverflow)
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, d uint64
		want    uint64
		wantErr bool
	}{
		{name: "simple", a: 10, b: 3, d: 2, want: 15},
		{name: "floors", a: 7, b: 3, d: 2, want: 10},
		{name: "zero numerator", a: 0, b: 100, d: 7, want: 0},
		{name: "divide by zero", a: 1, b: 1, d: 0, wantErr: true},
		{name: "wide intermediate", a: math.MaxUint64, b: 9000, d: 10000, want: 16602069666338596453},
		{name: "quotient overflows", a: math.MaxUint64, b: 3, d: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mulDiv(tt.a, tt.b, tt.d)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrMathOverflow)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

// mulDiv must agree with plain integer math whenever the product fits in 64
// bits.
func TestMulDivMatchesNarrowMath(t *testing.T) {
	for _, a := range []uint64{1, 17, 999, 1_000_003} {
		for _, b := range []uint64{1, 2500, 9000, 10000} {
			for _, d := range []uint64{1, 3, 10000, 1_000_000} {
				got, err := mulDiv(a, b, d)
				require.NoError(t, err)
				require.Equal(t, a*b/d, got, "a=%d b=%d d=%d", a, b, d)
			}
		}
	}
}
