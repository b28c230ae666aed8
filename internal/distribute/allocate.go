package distribute

import (
	"github.com/shopspring/decimal"
)

// Places is the reporting precision of weights and monetary values.
const Places int32 = 2

// divisionPrecision bounds intermediate share quotients before rounding.
const divisionPrecision int32 = 16

// Allocate splits total across weights in proportion, rounds each share to
// places and hands the rounding remainder to the last share, so the result
// always sums to total rounded to places. Weights are taken by absolute
// value; when they sum to zero every share is equal. A zero total yields
// zeros; a negative total is split by magnitude and negated.
func Allocate(total decimal.Decimal, weights []decimal.Decimal, places int32) []decimal.Decimal {
	n := len(weights)
	if n == 0 {
		return nil
	}
	out := make([]decimal.Decimal, n)
	target := total.Round(places)
	if target.IsZero() {
		for i := range out {
			out[i] = decimal.Zero
		}
		return out
	}

	magnitude := target.Abs()
	abs := make([]decimal.Decimal, n)
	sum := decimal.Zero
	for i, w := range weights {
		abs[i] = w.Abs()
		sum = sum.Add(abs[i])
	}
	if sum.IsZero() {
		for i := range abs {
			abs[i] = decimal.NewFromInt(1)
		}
		sum = decimal.NewFromInt(int64(n))
	}

	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		out[i] = magnitude.Mul(abs[i]).DivRound(sum, divisionPrecision).Round(places)
		allocated = allocated.Add(out[i])
	}
	out[n-1] = magnitude.Sub(allocated)

	if target.Sign() < 0 {
		for i := range out {
			out[i] = out[i].Neg()
		}
	}
	return out
}
