// Package vault implements the share-valuation and fee-accrual engine for
// the pooled treasury: deposits and withdrawals against a shares ledger,
// operator capital deploy/return with profit recognition, and performance
// fees crystallized per user against individual high-water marks.
//
// All arithmetic is unsigned 64-bit with explicit overflow checks; every
// value*ratio/total computation goes through a 128-bit intermediate. Nothing
// saturates silently: a representability failure aborts the operation.
package vault

import (
	"math/bits"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// checkedAdd returns a+b or ErrMathOverflow when the sum wraps.
func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, domain.ErrMathOverflow
	}
	return sum, nil
}

// checkedSub returns a-b or ErrMathOverflow when b exceeds a.
func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, domain.ErrMathOverflow
	}
	return diff, nil
}

// mulDiv returns floor(a*b/d) using a 128-bit intermediate product. It fails
// with ErrMathOverflow when d is zero or the quotient does not fit in 64
// bits.
func mulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, domain.ErrMathOverflow
	}
	hi, lo := bits.Mul64(a, b)
	// bits.Div64 panics on quotient overflow; reject it as a checked error.
	if hi >= d {
		return 0, domain.ErrMathOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}
